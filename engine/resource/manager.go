// Package resource owns every GPU handle backing a loaded scene: device
// memory, buffers, images, and samplers. Uploads go through a transient
// staging pool and are fenced; releases are deferred until no in-flight
// frame can still reference the handle.
package resource

import (
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	vk "github.com/goki/vulkan"
	"go.uber.org/zap"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/scenedesc"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// BufferHandle is a stable reference to a device-local buffer. Zero is the
// nil handle.
type BufferHandle uint32

// TextureHandle is a stable reference to an image + view + sampler bundle.
// Zero is the nil handle.
type TextureHandle uint32

// NilBuffer and NilTexture are the zero handles.
const (
	NilBuffer  BufferHandle  = 0
	NilTexture TextureHandle = 0
)

// bufferEntry is the device-side state behind a BufferHandle.
type bufferEntry struct {
	buf   vk.Buffer
	mem   vk.DeviceMemory
	size  uint64
	usage vk.BufferUsageFlagBits
}

// textureEntry is the device-side state behind a TextureHandle.
type textureEntry struct {
	image   vk.Image
	mem     vk.DeviceMemory
	view    vk.ImageView
	sampler vk.Sampler
	opts    ImageOptions
}

// manager is the implementation of the Manager interface.
type manager struct {
	mu  *sync.Mutex
	ctx *vkcontext.Context

	buffers  map[BufferHandle]*bufferEntry
	textures map[TextureHandle]*textureEntry

	nextBuffer  BufferHandle
	nextTexture TextureHandle

	// frame is the frame index releases are tagged with.
	frame uint64

	releases releaseQueue

	// batch state, see batch.go.
	batch batchState

	// freeStaging holds staging buffers not leased to an in-flight upload.
	freeStaging []*stagingBuffer
	// inflight tracks upload fences still pending, polled on AdvanceFrame.
	inflight []*UploadFence

	// uploadPool runs the parallel staging-fill phase of FlushBatch.
	// Workers persist across batches, avoiding per-load goroutine churn.
	uploadPool    worker.DynamicWorkerPool
	uploadWorkers int

	transferPool *vkcontext.CmdPool

	defaultWhite  TextureHandle
	defaultNormal TextureHandle
}

// Manager owns device memory, buffers, images, and samplers for the engine.
// All methods are safe for use from the loading goroutine concurrently with
// the render loop; handles returned by Allocate*/Create* must not be bound
// for drawing until the corresponding upload fence has signaled.
type Manager interface {
	// AllocateBuffer creates an empty device-local buffer.
	//
	// Parameters:
	//   - size: buffer size in bytes
	//   - usage: buffer usage flags (transfer-dst is added implicitly)
	//
	// Returns:
	//   - BufferHandle: the new handle
	//   - error: ResourceExhaustedError if allocation fails
	AllocateBuffer(size uint64, usage vk.BufferUsageFlagBits) (BufferHandle, error)

	// AllocateImage creates an empty device-local image with view and sampler.
	//
	// Parameters:
	//   - opts: image dimensions, format, mip/layer counts, usage, sampler state
	//
	// Returns:
	//   - TextureHandle: the new handle
	//   - error: ResourceExhaustedError if allocation fails
	AllocateImage(opts ImageOptions) (TextureHandle, error)

	// BeginBatch starts collecting staged uploads so one load operation
	// shares staging memory and a single submission.
	BeginBatch()

	// StageBuffer queues data for upload into a buffer within the current
	// batch (an implicit batch is opened if none is active).
	//
	// Parameters:
	//   - h: destination buffer
	//   - data: bytes to upload (copied at flush time; caller keeps ownership)
	//
	// Returns:
	//   - error: error if the handle is unknown or data exceeds the buffer
	StageBuffer(h BufferHandle, data []byte) error

	// StageImage queues pixel data for upload into one mip level of an image
	// within the current batch.
	//
	// Parameters:
	//   - h: destination texture
	//   - data: tightly packed texel data for the given mip
	//   - mip: destination mip level
	//   - baseLayer: destination array layer
	//
	// Returns:
	//   - error: error if the handle is unknown
	StageImage(h TextureHandle, data []byte, mip, baseLayer uint32) error

	// FlushBatch submits every staged upload in one command buffer and
	// returns the fence gating use of the uploaded resources.
	//
	// Returns:
	//   - *UploadFence: signaled when all uploads complete; nil when the
	//     batch was empty
	//   - error: error if staging allocation or submission fails
	FlushBatch() (*UploadFence, error)

	// Upload performs an immediate fenced upload into a buffer, outside any
	// batch.
	//
	// Parameters:
	//   - h: destination buffer
	//   - data: bytes to upload
	//
	// Returns:
	//   - *UploadFence: signaled when the upload completes
	//   - error: error if the upload fails
	Upload(h BufferHandle, data []byte) (*UploadFence, error)

	// CreateVertexBuffer allocates a vertex buffer and stages data into the
	// current batch.
	//
	// Parameters:
	//   - data: vertex bytes
	//
	// Returns:
	//   - BufferHandle: the new handle
	//   - error: error if allocation or staging fails
	CreateVertexBuffer(data []byte) (BufferHandle, error)

	// CreateIndexBuffer allocates an index buffer and stages data into the
	// current batch.
	//
	// Parameters:
	//   - data: index bytes
	//
	// Returns:
	//   - BufferHandle: the new handle
	//   - error: error if allocation or staging fails
	CreateIndexBuffer(data []byte) (BufferHandle, error)

	// CreateTexture allocates a sampled image matching the description and
	// stages its pixels into the current batch.
	//
	// Parameters:
	//   - t: decoded texture description
	//
	// Returns:
	//   - TextureHandle: the new handle
	//   - error: error if allocation or staging fails
	CreateTexture(t *scenedesc.Texture) (TextureHandle, error)

	// DefaultTexture returns the shared 1x1 white texture substituted for
	// absent material textures. Created on first use.
	//
	// Returns:
	//   - TextureHandle: the default texture
	//   - error: error if creation fails
	DefaultTexture() (TextureHandle, error)

	// DefaultNormalTexture returns the shared 1x1 flat-normal texture.
	//
	// Returns:
	//   - TextureHandle: the default normal texture
	//   - error: error if creation fails
	DefaultNormalTexture() (TextureHandle, error)

	// ReleaseBuffer defers destruction of a buffer until no in-flight frame
	// references it.
	//
	// Parameters:
	//   - h: the buffer to release
	ReleaseBuffer(h BufferHandle)

	// ReleaseTexture defers destruction of a texture until no in-flight
	// frame references it.
	//
	// Parameters:
	//   - h: the texture to release
	ReleaseTexture(h TextureHandle)

	// AdvanceFrame moves the release clock forward: current tags new
	// releases, completed reclaims releases the GPU has finished with.
	//
	// Parameters:
	//   - current: the frame index now being recorded
	//   - completed: the highest frame index the GPU is known to have finished
	AdvanceFrame(current, completed uint64)

	// Buffer resolves a handle to its Vulkan buffer.
	Buffer(h BufferHandle) vk.Buffer

	// TextureView resolves a handle to its image view.
	TextureView(h TextureHandle) vk.ImageView

	// TextureSampler resolves a handle to its sampler.
	TextureSampler(h TextureHandle) vk.Sampler

	// TextureImage resolves a handle to its image.
	TextureImage(h TextureHandle) vk.Image

	// TextureOptions returns the allocation options for a texture handle.
	//
	// Returns:
	//   - ImageOptions: the options used at allocation
	//   - bool: false when the handle is unknown
	TextureOptions(h TextureHandle) (ImageOptions, bool)

	// AllocationCounts reports live (non-released) allocations, used by leak
	// checks.
	//
	// Returns:
	//   - int: live buffer count
	//   - int: live image count
	AllocationCounts() (int, int)

	// Destroy drains all pending releases and frees every remaining
	// allocation. The device must be idle.
	Destroy()
}

// Ensure manager implements Manager.
var _ Manager = &manager{}

// NewManager creates a resource manager bound to the given device context.
//
// Parameters:
//   - ctx: the device context
//   - options: functional options (worker count etc.)
//
// Returns:
//   - Manager: the manager
//   - error: error if command pool creation fails
func NewManager(ctx *vkcontext.Context, options ...ManagerBuilderOption) (Manager, error) {
	m := &manager{
		mu:            &sync.Mutex{},
		ctx:           ctx,
		buffers:       make(map[BufferHandle]*bufferEntry),
		textures:      make(map[TextureHandle]*textureEntry),
		uploadWorkers: defaultUploadWorkers,
	}
	for _, opt := range options {
		opt(m)
	}

	// Queue size of 256 gives ample headroom for large texture-heavy loads.
	m.uploadPool = worker.NewDynamicWorkerPool(m.uploadWorkers, 256, 1*time.Second)

	// Uploads that touch images must run on the graphics queue so no queue
	// family ownership transfer is needed; the pool lives on the graphics
	// family for that reason.
	pool, err := vkcontext.NewCmdPool(ctx, ctx.GraphicsFamily, vk.CommandPoolCreateResetCommandBufferBit)
	if err != nil {
		return nil, err
	}
	m.transferPool = pool

	return m, nil
}

func (m *manager) AllocateBuffer(size uint64, usage vk.BufferUsageFlagBits) (BufferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocateBufferLocked(size, usage)
}

func (m *manager) allocateBufferLocked(size uint64, usage vk.BufferUsageFlagBits) (BufferHandle, error) {
	dev := m.ctx.Device

	var buf vk.Buffer
	ret := vk.CreateBuffer(dev, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage | vk.BufferUsageTransferDstBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if err := vkcontext.CheckResult(ret, "vkCreateBuffer"); err != nil {
		return NilBuffer, err
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buf, &memReqs)
	memReqs.Deref()

	memType, ok := vkcontext.FindMemoryType(m.ctx.MemoryProps, memReqs.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		vk.DestroyBuffer(dev, buf, nil)
		return NilBuffer, errs.NewResourceExhausted("buffer memory type", size, nil)
	}
	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if err := vkcontext.CheckResult(ret, "vkAllocateMemory(buffer)"); err != nil {
		vk.DestroyBuffer(dev, buf, nil)
		return NilBuffer, errs.NewResourceExhausted("buffer", size, err)
	}
	vk.BindBufferMemory(dev, buf, mem, 0)

	m.nextBuffer++
	h := m.nextBuffer
	m.buffers[h] = &bufferEntry{buf: buf, mem: mem, size: size, usage: usage}
	return h, nil
}

func (m *manager) AllocateImage(opts ImageOptions) (TextureHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocateImageLocked(opts)
}

func (m *manager) allocateImageLocked(opts ImageOptions) (TextureHandle, error) {
	opts.normalize()

	entry, err := m.createImage(opts)
	if err != nil {
		return NilTexture, err
	}

	m.nextTexture++
	h := m.nextTexture
	m.textures[h] = entry
	return h, nil
}

func (m *manager) ReleaseBuffer(h BufferHandle) {
	if h == NilBuffer {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.buffers[h]
	if !ok {
		return
	}
	delete(m.buffers, h)

	dev := m.ctx.Device
	m.releases.push(m.frame, func() {
		vk.FreeMemory(dev, entry.mem, nil)
		vk.DestroyBuffer(dev, entry.buf, nil)
	})
}

func (m *manager) ReleaseTexture(h TextureHandle) {
	if h == NilTexture {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.textures[h]
	if !ok {
		return
	}
	delete(m.textures, h)

	dev := m.ctx.Device
	m.releases.push(m.frame, func() {
		vk.DestroySampler(dev, entry.sampler, nil)
		vk.DestroyImageView(dev, entry.view, nil)
		vk.FreeMemory(dev, entry.mem, nil)
		vk.DestroyImage(dev, entry.image, nil)
	})
}

func (m *manager) AdvanceFrame(current, completed uint64) {
	m.mu.Lock()
	m.frame = current
	if n := m.releases.collect(completed); n > 0 {
		logger.Debug("reclaimed deferred releases", zap.Int("count", n), zap.Uint64("completedFrame", completed))
	}
	pending := m.inflight
	m.inflight = nil
	m.mu.Unlock()

	// Poll in-flight upload fences outside the lock: completion recycles the
	// staging lease, which re-enters the manager.
	var live []*UploadFence
	for _, f := range pending {
		if !f.Done() {
			live = append(live, f)
		}
	}
	if len(live) > 0 {
		m.mu.Lock()
		m.inflight = append(m.inflight, live...)
		m.mu.Unlock()
	}
}

func (m *manager) Buffer(h BufferHandle) vk.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.buffers[h]; ok {
		return e.buf
	}
	return vk.NullBuffer
}

func (m *manager) TextureView(h TextureHandle) vk.ImageView {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.textures[h]; ok {
		return e.view
	}
	return vk.NullImageView
}

func (m *manager) TextureSampler(h TextureHandle) vk.Sampler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.textures[h]; ok {
		return e.sampler
	}
	return vk.NullSampler
}

func (m *manager) TextureImage(h TextureHandle) vk.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.textures[h]; ok {
		return e.image
	}
	return vk.NullImage
}

func (m *manager) TextureOptions(h TextureHandle) (ImageOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.textures[h]; ok {
		return e.opts, true
	}
	return ImageOptions{}, false
}

func (m *manager) AllocationCounts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers), len(m.textures)
}

func (m *manager) Destroy() {
	// Wait out pending uploads before locking: completion re-enters the
	// manager to recycle staging leases.
	m.mu.Lock()
	pending := m.inflight
	m.inflight = nil
	m.mu.Unlock()
	for _, f := range pending {
		_ = f.Wait()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.releases.drain()

	dev := m.ctx.Device
	for h, e := range m.buffers {
		vk.FreeMemory(dev, e.mem, nil)
		vk.DestroyBuffer(dev, e.buf, nil)
		delete(m.buffers, h)
	}
	for h, e := range m.textures {
		vk.DestroySampler(dev, e.sampler, nil)
		vk.DestroyImageView(dev, e.view, nil)
		vk.FreeMemory(dev, e.mem, nil)
		vk.DestroyImage(dev, e.image, nil)
		delete(m.textures, h)
	}

	for _, sb := range m.freeStaging {
		sb.free(m.ctx)
	}
	m.freeStaging = nil

	if m.transferPool != nil {
		m.transferPool.Destroy(m.ctx)
		m.transferPool = nil
	}
}
