// Package renderer drives per-frame command recording and presentation. The
// frontend exposes a small frame-oriented API; the Vulkan backend owns the
// swapchain, frame slots, and the recording path.
package renderer

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/prismgfx/prism/common"
	"github.com/prismgfx/prism/engine/camera"
	"github.com/prismgfx/prism/engine/environment"
	"github.com/prismgfx/prism/engine/renderer/pipeline"
	"github.com/prismgfx/prism/engine/resource"
	"github.com/prismgfx/prism/engine/scene"
	"github.com/prismgfx/prism/engine/shader"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	cache   pipeline.Cache
	backend *vulkanBackend

	// Pre-creation config collected from builder options
	framesInFlight int
	vsync          bool
	clearColor     [4]float32
	msaaSamples    int
	cacheOptions   []pipeline.CacheBuilderOption
}

// Renderer defines the interface for the rendering system.
//
// This is a high-level API designed to simplify rendering tasks into a
// streamlined and idiomatic flow. One RenderFrame call takes a scene and a
// camera through acquire, record, submit, and present; stale surfaces are
// handled internally by rebuilding the swapchain and dropping the frame.
type Renderer interface {
	// RenderFrame renders one frame of the given scene from the given
	// camera and presents it. A nil scene clears the surface. Returns nil
	// when the frame was dropped due to a surface rebuild.
	//
	// Parameters:
	//   - sc: the scene to draw, or nil
	//   - cam: the camera supplying view and projection matrices
	//
	// Returns:
	//   - error: a fatal device error, or a pipeline build failure
	RenderFrame(sc scene.Scene, cam camera.Camera) error

	// Resize schedules a swapchain rebuild for the new surface size. The
	// rebuild happens at the start of the next RenderFrame.
	//
	// Parameters:
	//   - width: new surface width in pixels
	//   - height: new surface height in pixels
	Resize(width, height int)

	// SetEnvironment sets the image-based lighting maps bound for all
	// subsequent frames. Passing nil falls back to neutral defaults.
	//
	// Parameters:
	//   - ibl: the precomputed environment maps, or nil
	SetEnvironment(ibl *environment.IBL)

	// State returns the frame loop's current lifecycle state.
	//
	// Returns:
	//   - FrameState: the current state
	State() FrameState

	// WaitIdle blocks until the device finishes all submitted frames.
	//
	// Returns:
	//   - error: error if the wait fails
	WaitIdle() error

	// Destroy waits for the device to go idle and releases the swapchain,
	// frame slots, and cached pipelines.
	Destroy()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer over the given device context, sized to the
// initial surface extent.
//
// Parameters:
//   - ctx: the device context
//   - resources: the resource manager holding scene buffers and textures
//   - lib: the shader library supplying pipeline stages
//   - extent: initial surface extent in pixels
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the configured renderer
//   - error: error if swapchain or frame slot creation fails
func NewRenderer(ctx *vkcontext.Context, resources resource.Manager, lib shader.Library,
	extent common.Extent2D, options ...RendererBuilderOption) (Renderer, error) {

	r := &renderer{
		mu:             &sync.Mutex{},
		framesInFlight: 2,
		vsync:          true,
		clearColor:     [4]float32{0.02, 0.02, 0.025, 1},
		msaaSamples:    1,
	}
	for _, opt := range options {
		opt(r)
	}

	samples := sampleCountFlag(r.msaaSamples)
	r.cacheOptions = append(r.cacheOptions, pipeline.WithSampleCount(samples))
	r.cache = pipeline.NewCache(ctx, lib, r.cacheOptions...)

	backend, err := newVulkanBackend(ctx, r.cache, resources, extent,
		r.framesInFlight, r.vsync, r.clearColor, samples)
	if err != nil {
		r.cache.Destroy()
		return nil, err
	}
	r.backend = backend
	return r, nil
}

// sampleCountFlag converts a per-pixel sample count to its Vulkan flag bit.
func sampleCountFlag(samples int) vk.SampleCountFlagBits {
	switch samples {
	case 8:
		return vk.SampleCount8Bit
	case 4:
		return vk.SampleCount4Bit
	case 2:
		return vk.SampleCount2Bit
	default:
		return vk.SampleCount1Bit
	}
}

func (r *renderer) RenderFrame(sc scene.Scene, cam camera.Camera) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cam.Update()
	view := cam.ViewMatrix()
	proj := cam.ProjectionMatrix()

	var camPos [3]float32
	if ctrl := cam.Controller(); ctrl != nil {
		camPos[0], camPos[1], camPos[2] = ctrl.Position()
	}

	var list *scene.DrawList
	if sc != nil {
		sc.UpdateWorldTransforms()
		list = sc.DrawBatches(view[:], proj[:])
	}

	return r.backend.renderFrame(list, view, proj, camPos)
}

func (r *renderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend.resize(common.Extent2D{Width: uint32(width), Height: uint32(height)})
}

func (r *renderer) SetEnvironment(ibl *environment.IBL) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend.setEnvironment(ibl)
}

func (r *renderer) State() FrameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.machine.State()
}

func (r *renderer) WaitIdle() error {
	// vkDeviceWaitIdle requires external synchronization with queue use, so
	// the wait must exclude a concurrent RenderFrame.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backend == nil {
		return nil
	}
	return r.backend.waitIdle()
}

func (r *renderer) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backend != nil {
		_ = r.backend.waitIdle()
		r.backend.Destroy()
		r.backend = nil
	}
	if r.cache != nil {
		r.cache.Destroy()
		r.cache = nil
	}
}
