package resource

import (
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/scenedesc"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// stagedUpload is one region of a pending batch: destination handle, source
// bytes, and the staging offset assigned at flush time.
type stagedUpload struct {
	buffer  BufferHandle
	texture TextureHandle

	mip       uint32
	baseLayer uint32

	data   []byte
	offset uint64
}

// batchState accumulates staged uploads between BeginBatch and FlushBatch.
type batchState struct {
	active  bool
	uploads []stagedUpload
}

func (m *manager) BeginBatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batch.active = true
	m.batch.uploads = m.batch.uploads[:0]
}

func (m *manager) StageBuffer(h BufferHandle, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stageBufferLocked(h, data)
}

func (m *manager) stageBufferLocked(h BufferHandle, data []byte) error {
	entry, ok := m.buffers[h]
	if !ok {
		return errors.Errorf("stage to unknown buffer handle %d", h)
	}
	if uint64(len(data)) > entry.size {
		return errors.Errorf("staged %d bytes into %d-byte buffer %d", len(data), entry.size, h)
	}
	m.batch.active = true
	m.batch.uploads = append(m.batch.uploads, stagedUpload{buffer: h, data: data})
	return nil
}

func (m *manager) StageImage(h TextureHandle, data []byte, mip, baseLayer uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stageImageLocked(h, data, mip, baseLayer)
}

func (m *manager) stageImageLocked(h TextureHandle, data []byte, mip, baseLayer uint32) error {
	if _, ok := m.textures[h]; !ok {
		return errors.Errorf("stage to unknown texture handle %d", h)
	}
	m.batch.active = true
	m.batch.uploads = append(m.batch.uploads, stagedUpload{texture: h, data: data, mip: mip, baseLayer: baseLayer})
	return nil
}

func (m *manager) FlushBatch() (*UploadFence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushBatchLocked()
}

func (m *manager) flushBatchLocked() (*UploadFence, error) {
	uploads := m.batch.uploads
	m.batch.active = false
	if len(uploads) == 0 {
		return nil, nil
	}

	// Assign aligned staging offsets.
	var total uint64
	for i := range uploads {
		uploads[i].offset = total
		total = alignUp(total+uint64(len(uploads[i].data)), stagingAlign)
	}

	staging := m.leaseStaging()
	if err := staging.ensure(m.ctx, total); err != nil {
		m.freeStaging = append(m.freeStaging, staging)
		return nil, err
	}

	// Fill staging regions in parallel on the upload pool; regions are
	// disjoint so no synchronization beyond the barrier is needed.
	var wg sync.WaitGroup
	taskID := 0
	for i := range uploads {
		wg.Add(1)
		up := &uploads[i]
		id := taskID
		taskID++
		m.uploadPool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				staging.write(up.offset, up.data)
				return nil, nil
			},
		})
	}
	wg.Wait()

	// Record every copy in one command buffer.
	cmd, err := m.transferPool.BeginOneTime(m.ctx)
	if err != nil {
		m.freeStaging = append(m.freeStaging, staging)
		return nil, err
	}

	// Transition each touched image to transfer-dst once, covering all mips.
	touched := map[TextureHandle]*textureEntry{}
	for i := range uploads {
		if uploads[i].texture == NilTexture {
			continue
		}
		if _, seen := touched[uploads[i].texture]; !seen {
			entry := m.textures[uploads[i].texture]
			touched[uploads[i].texture] = entry
			transitionImage(cmd, entry.image, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
				entry.opts.MipLevels, entry.opts.Layers)
		}
	}

	for i := range uploads {
		up := &uploads[i]
		if up.buffer != NilBuffer {
			entry := m.buffers[up.buffer]
			vk.CmdCopyBuffer(cmd, staging.buf, entry.buf, 1, []vk.BufferCopy{{
				SrcOffset: vk.DeviceSize(up.offset),
				DstOffset: 0,
				Size:      vk.DeviceSize(len(up.data)),
			}})
			continue
		}

		entry := m.textures[up.texture]
		w := entry.opts.Width >> up.mip
		h := entry.opts.Height >> up.mip
		if w == 0 {
			w = 1
		}
		if h == 0 {
			h = 1
		}
		vk.CmdCopyBufferToImage(cmd, staging.buf, entry.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
			BufferOffset: vk.DeviceSize(up.offset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:       up.mip,
				BaseArrayLayer: up.baseLayer,
				LayerCount:     1,
			},
			ImageExtent: vk.Extent3D{Width: w, Height: h, Depth: 1},
		}})
	}

	for _, entry := range touched {
		transitionImage(cmd, entry.image, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			entry.opts.MipLevels, entry.opts.Layers)
	}

	var fence vk.Fence
	ret := vk.CreateFence(m.ctx.Device, &vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}, nil, &fence)
	if err := vkcontext.CheckResult(ret, "vkCreateFence(upload)"); err != nil {
		m.freeStaging = append(m.freeStaging, staging)
		return nil, err
	}

	if err := m.transferPool.EndSubmit(m.ctx, m.ctx.GraphicsQueue, fence); err != nil {
		vk.DestroyFence(m.ctx.Device, fence, nil)
		m.freeStaging = append(m.freeStaging, staging)
		return nil, err
	}

	logger.Debug("upload batch submitted",
		zap.Int("regions", len(uploads)),
		zap.Uint64("stagingBytes", total),
	)

	uf := &UploadFence{
		mu:      &sync.Mutex{},
		ctx:     m.ctx,
		fence:   fence,
		staging: staging,
		onDone:  m.recycleStaging,
	}
	m.inflight = append(m.inflight, uf)
	m.batch.uploads = nil
	return uf, nil
}

func (m *manager) Upload(h BufferHandle, data []byte) (*UploadFence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batch.active {
		return nil, errors.New("immediate upload inside an open batch; use StageBuffer")
	}
	if err := m.stageBufferLocked(h, data); err != nil {
		return nil, err
	}
	return m.flushBatchLocked()
}

func (m *manager) CreateVertexBuffer(data []byte) (BufferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.allocateBufferLocked(uint64(len(data)), vk.BufferUsageVertexBufferBit)
	if err != nil {
		return NilBuffer, err
	}
	return h, m.stageBufferLocked(h, data)
}

func (m *manager) CreateIndexBuffer(data []byte) (BufferHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.allocateBufferLocked(uint64(len(data)), vk.BufferUsageIndexBufferBit)
	if err != nil {
		return NilBuffer, err
	}
	return h, m.stageBufferLocked(h, data)
}

func (m *manager) CreateTexture(t *scenedesc.Texture) (TextureHandle, error) {
	opts := ImageOptions{
		Width:     t.Width,
		Height:    t.Height,
		Format:    vk.FormatR8g8b8a8Srgb,
		Usage:     vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit,
		MagFilter: t.MagFilter,
		MinFilter: t.MinFilter,
		WrapS:     t.WrapS,
		WrapT:     t.WrapT,
	}
	h, err := m.AllocateImage(opts)
	if err != nil {
		return NilTexture, err
	}
	return h, m.StageImage(h, t.Pixels, 0, 0)
}

func (m *manager) DefaultTexture() (TextureHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.defaultWhite == NilTexture {
		h, err := m.createFlatTextureLocked([4]byte{255, 255, 255, 255}, vk.FormatR8g8b8a8Srgb)
		if err != nil {
			return NilTexture, err
		}
		m.defaultWhite = h
	}
	return m.defaultWhite, nil
}

func (m *manager) DefaultNormalTexture() (TextureHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.defaultNormal == NilTexture {
		// Flat +Z normal in tangent space; stored linearly, not sRGB.
		h, err := m.createFlatTextureLocked([4]byte{128, 128, 255, 255}, vk.FormatR8g8b8a8Unorm)
		if err != nil {
			return NilTexture, err
		}
		m.defaultNormal = h
	}
	return m.defaultNormal, nil
}

func (m *manager) createFlatTextureLocked(texel [4]byte, format vk.Format) (TextureHandle, error) {
	h, err := m.allocateImageLocked(ImageOptions{
		Width:  1,
		Height: 1,
		Format: format,
		Usage:  vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit,
	})
	if err != nil {
		return NilTexture, err
	}
	pixels := make([]byte, 4)
	copy(pixels, texel[:])
	if err := m.stageImageLocked(h, pixels, 0, 0); err != nil {
		return NilTexture, err
	}
	return h, nil
}

// leaseStaging pops a staging buffer from the free list or creates one.
func (m *manager) leaseStaging() *stagingBuffer {
	if n := len(m.freeStaging); n > 0 {
		sb := m.freeStaging[n-1]
		m.freeStaging = m.freeStaging[:n-1]
		return sb
	}
	return &stagingBuffer{}
}

// recycleStaging returns a staging buffer to the free list once its upload
// fence signals.
func (m *manager) recycleStaging(sb *stagingBuffer) {
	if sb == nil {
		return
	}
	m.mu.Lock()
	m.freeStaging = append(m.freeStaging, sb)
	m.mu.Unlock()
}
