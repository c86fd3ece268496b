// Package engine is the top-level facade: it wires the window, device
// context, resource manager, shader library, environment precomputer, and
// renderer together and exposes scene loading and the frame loop.
package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prismgfx/prism/common"
	"github.com/prismgfx/prism/engine/animation"
	"github.com/prismgfx/prism/engine/camera"
	"github.com/prismgfx/prism/engine/config"
	"github.com/prismgfx/prism/engine/environment"
	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/profiler"
	"github.com/prismgfx/prism/engine/renderer"
	"github.com/prismgfx/prism/engine/resource"
	"github.com/prismgfx/prism/engine/scene"
	"github.com/prismgfx/prism/engine/scenedesc"
	"github.com/prismgfx/prism/engine/shader"
	"github.com/prismgfx/prism/engine/vkcontext"
	"github.com/prismgfx/prism/engine/window"
)

// engine implements the Engine interface.
// Coordinates the window thread, the tick loop, and the render loop.
type engine struct {
	mu *sync.Mutex

	cfg config.Config

	window    window.Window
	ctx       *vkcontext.Context
	resources resource.Manager
	shaders   shader.Library
	precomp   environment.Precomputer
	renderer  renderer.Renderer
	camera    camera.Camera

	activeScene scene.Scene
	sampler     animation.Sampler
	clipIndex   int
	paused      bool

	tickRate     time.Duration
	tickCallback func(deltaTime float32)

	profiler         *profiler.Profiler
	profilingEnabled bool

	running      bool
	wg           sync.WaitGroup
	quitChannel  chan struct{}
	quitOnce     sync.Once
	shutdownOnce sync.Once

	// shaderDir, when set, is loaded into the shader library during New.
	shaderDir string
}

// Engine is the main entry point. It owns every GPU-facing subsystem and
// exposes the public operations: scene and environment loading, the frame
// loop, resize, and shutdown.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Camera returns the engine's camera.
	//
	// Returns:
	//   - camera.Camera: the camera driven by the frame loop
	Camera() camera.Camera

	// LoadScene builds GPU-resident scene state from a parsed description
	// and makes it the active scene. In-flight frames are drained before
	// the previous scene's resources are released.
	//
	// Parameters:
	//   - desc: the parsed scene description
	//
	// Returns:
	//   - scene.Scene: the loaded scene
	//   - error: SceneIntegrityError for malformed input, ResourceExhaustedError on allocation failure
	LoadScene(desc *scenedesc.Description) (scene.Scene, error)

	// LoadEnvironment precomputes image-based lighting from an equirect
	// environment texture and binds it for subsequent frames. Loading the
	// same pixel data again is a no-op.
	//
	// Parameters:
	//   - tex: the environment texture
	//
	// Returns:
	//   - *environment.IBL: the precomputed maps
	//   - error: error if upload or compute dispatch fails
	LoadEnvironment(tex *scenedesc.Texture) (*environment.IBL, error)

	// RenderFrame advances animation by dt and renders one frame of the
	// active scene.
	//
	// Parameters:
	//   - dt: seconds elapsed since the previous frame
	//
	// Returns:
	//   - error: a fatal device error, or a pipeline build failure
	RenderFrame(dt float32) error

	// Resize schedules a surface rebuild for the new size and updates the
	// camera aspect ratio.
	//
	// Parameters:
	//   - width: new surface width in pixels
	//   - height: new surface height in pixels
	Resize(width, height int)

	// SetTickCallback registers the function called each engine tick.
	// Use this for input processing and application logic.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SelectAnimation switches playback to the active scene's clip at the
	// given index. Out-of-range indices stop playback.
	//
	// Parameters:
	//   - index: index into the scene's animation list
	SelectAnimation(index int)

	// SetAnimationPaused pauses or resumes animation playback.
	//
	// Parameters:
	//   - paused: true to hold the current pose
	SetAnimationPaused(paused bool)

	// AnimationPaused reports whether playback is paused.
	//
	// Returns:
	//   - bool: true when paused
	AnimationPaused() bool

	// Run starts the tick and render loops and blocks on the window
	// message loop until the window closes, then shuts down.
	Run()

	// Quit signals the engine loops to stop. Safe to call multiple times.
	Quit()

	// Shutdown drains the device and tears down every subsystem in
	// reverse creation order. Idempotent; called automatically when Run
	// returns.
	Shutdown()
}

var _ Engine = &engine{}

// New creates an Engine, initializing the window, device, and rendering
// subsystems from the provided options.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the initialized engine
//   - error: error if any subsystem fails to initialize
func New(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		mu:          &sync.Mutex{},
		cfg:         config.Default(),
		quitChannel: make(chan struct{}),
		tickRate:    time.Second / 60,
		clipIndex:   -1,
		profiler:    profiler.NewProfiler(),
	}
	for _, opt := range options {
		opt(e)
	}

	if err := logger.Init(e.cfg.Log.Level, e.cfg.Log.File); err != nil {
		return nil, err
	}

	if e.window == nil {
		e.window = window.NewWindow(
			window.WithTitle(e.cfg.Window.Title),
			window.WithWidth(e.cfg.Window.Width),
			window.WithHeight(e.cfg.Window.Height),
		)
	}

	ctx, err := vkcontext.New(e.window, e.cfg.Window.Title)
	if err != nil {
		return nil, err
	}
	e.ctx = ctx

	resources, err := resource.NewManager(ctx)
	if err != nil {
		e.Shutdown()
		return nil, err
	}
	e.resources = resources

	e.shaders = shader.NewLibrary()
	if e.shaderDir != "" {
		if err := e.shaders.LoadDir(e.shaderDir); err != nil {
			e.Shutdown()
			return nil, err
		}
	}

	e.precomp = environment.NewPrecomputer(ctx, resources, e.shaders)

	rend, err := renderer.NewRenderer(ctx, resources, e.shaders,
		common.Extent2D{Width: uint32(e.window.Width()), Height: uint32(e.window.Height())},
		renderer.WithFramesInFlight(e.cfg.Renderer.FramesInFlight),
		renderer.WithVSync(e.cfg.Renderer.VSync),
		renderer.WithMSAASamples(e.cfg.Renderer.MSAASamples),
	)
	if err != nil {
		e.Shutdown()
		return nil, err
	}
	e.renderer = rend

	if e.camera == nil {
		e.camera = camera.NewCamera(
			camera.WithAspect(float32(e.window.Width())/float32(e.window.Height())),
			camera.WithController(camera.NewOrbitController()),
		)
	}

	e.window.SetResizeCallback(func(width, height int) {
		e.Resize(width, height)
	})

	logger.Info("engine initialized",
		zap.Int("width", e.window.Width()),
		zap.Int("height", e.window.Height()),
	)
	return e, nil
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Camera() camera.Camera {
	return e.camera
}

func (e *engine) LoadScene(desc *scenedesc.Description) (scene.Scene, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sc, err := scene.NewScene(desc, e.resources)
	if err != nil {
		return nil, err
	}
	if fence := sc.UploadFence(); fence != nil {
		if err := fence.Wait(); err != nil {
			sc.Release(e.resources)
			return nil, err
		}
	}

	// Drain in-flight frames before the old scene's buffers go back to
	// the deferred-release queue.
	if e.activeScene != nil {
		if err := e.renderer.WaitIdle(); err != nil {
			return nil, err
		}
		e.activeScene.Release(e.resources)
	}
	e.activeScene = sc
	e.sampler = nil
	e.clipIndex = -1
	if clips := sc.Animations(); len(clips) > 0 {
		e.selectAnimationLocked(0)
	}

	bmin, bmax := sc.Bounds()
	if ctrl, ok := e.camera.Controller().(camera.OrbitController); ok {
		ctrl.Frame(bmin, bmax)
	}

	logger.Info("scene loaded",
		zap.Int("nodes", sc.NodeCount()),
		zap.Int("animations", len(sc.Animations())),
	)
	return sc, nil
}

func (e *engine) LoadEnvironment(tex *scenedesc.Texture) (*environment.IBL, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ibl, err := e.precomp.Precompute(tex)
	if err != nil {
		return nil, err
	}
	e.renderer.SetEnvironment(ibl)
	return ibl, nil
}

func (e *engine) RenderFrame(dt float32) error {
	e.mu.Lock()
	sc := e.activeScene
	if e.sampler != nil && sc != nil {
		if e.paused {
			e.sampler.Sample(e.sampler.Time(), sc)
		} else {
			e.sampler.Step(dt, sc)
		}
	}
	e.mu.Unlock()

	err := e.renderer.RenderFrame(sc, e.camera)
	if err != nil {
		var dl *errs.DeviceLostError
		if errs.As(err, &dl) {
			logger.Error("device lost, stopping", zap.Error(err))
			e.Quit()
		}
	}
	return err
}

func (e *engine) Resize(width, height int) {
	if width > 0 && height > 0 {
		e.camera.SetAspect(float32(width) / float32(height))
	}
	e.renderer.Resize(width, height)
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SelectAnimation(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selectAnimationLocked(index)
}

// selectAnimationLocked rebuilds the sampler for the given clip. Caller must
// hold the mutex.
func (e *engine) selectAnimationLocked(index int) {
	e.sampler = nil
	e.clipIndex = -1
	if e.activeScene == nil {
		return
	}
	clips := e.activeScene.Animations()
	if index < 0 || index >= len(clips) {
		return
	}
	e.sampler = animation.NewSampler(&clips[index],
		animation.WithLoop(e.cfg.Animation.Loop),
		animation.WithSpeed(e.cfg.Animation.Speed),
	)
	e.clipIndex = index
	logger.Info("animation selected",
		zap.Int("index", index),
		zap.String("name", clips[index].Name),
	)
}

func (e *engine) SetAnimationPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
}

func (e *engine) AnimationPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *engine) Run() {
	e.running = true
	e.wg.Add(2)
	go e.handleTick()
	go e.handleRender()

	e.window.ProcessMessages()

	e.Quit()
	e.wg.Wait()
	e.Shutdown()
}

// Quit signals the engine loops to stop.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handleTick runs the fixed-rate tick loop in its own goroutine. Fires the
// tick callback at the configured rate. Exits when the quit channel closes.
func (e *engine) handleTick() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tickRate)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		}
	}
}

// handleRender runs the render loop in its own goroutine. Recovers from
// panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("render goroutine recovered from panic", zap.Any("panic", r))
			e.Quit()
		}
	}()

	lastRender := time.Now()
	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			if err := e.RenderFrame(dt); err != nil {
				logger.Error("frame failed", zap.Error(err))
				var dl *errs.DeviceLostError
				if errs.As(err, &dl) {
					return
				}
			}

			if e.profilingEnabled {
				e.profiler.Tick()
			}
		}
	}
}

// Shutdown drains the device and tears down subsystems in reverse creation
// order: renderer, environment, resources, context, window.
func (e *engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.Quit()
		e.wg.Wait()

		if e.ctx != nil {
			_ = e.ctx.WaitIdle()
		}
		if e.activeScene != nil && e.resources != nil {
			e.activeScene.Release(e.resources)
			e.activeScene = nil
		}
		if e.renderer != nil {
			e.renderer.Destroy()
			e.renderer = nil
		}
		if e.precomp != nil {
			e.precomp.Destroy()
			e.precomp = nil
		}
		if e.resources != nil {
			e.resources.Destroy()
			e.resources = nil
		}
		if e.ctx != nil {
			e.ctx.Destroy()
			e.ctx = nil
		}
		if e.window != nil {
			_ = e.window.Close()
			e.window = nil
		}
		logger.Info("engine shut down")
	})
}
