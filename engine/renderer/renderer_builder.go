package renderer

import (
	"github.com/prismgfx/prism/engine/renderer/pipeline"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithFramesInFlight sets how many frames may be recorded ahead of the GPU.
// Values are clamped to the range [2, 3]. More frames in flight reduce
// stalls at the cost of added input latency.
//
// Parameters:
//   - count: the number of frames in flight
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithFramesInFlight(count int) RendererBuilderOption {
	return func(r *renderer) {
		if count < 2 {
			count = 2
		}
		if count > 3 {
			count = 3
		}
		r.framesInFlight = count
	}
}

// WithMSAASamples sets the multisample anti-aliasing sample count. Supported
// values are 1, 2, 4, and 8; other values round down to the nearest
// supported count.
//
// Parameters:
//   - samples: the per-pixel sample count
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithMSAASamples(samples int) RendererBuilderOption {
	return func(r *renderer) {
		switch {
		case samples >= 8:
			r.msaaSamples = 8
		case samples >= 4:
			r.msaaSamples = 4
		case samples >= 2:
			r.msaaSamples = 2
		default:
			r.msaaSamples = 1
		}
	}
}

// WithVSync controls presentation pacing. When true (the default) frames are
// delivered in FIFO order locked to the display refresh; when false the
// renderer prefers mailbox or immediate presentation if available.
//
// Parameters:
//   - vsync: true to lock presentation to the display refresh
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithVSync(vsync bool) RendererBuilderOption {
	return func(r *renderer) {
		r.vsync = vsync
	}
}

// WithClearColor sets the RGBA color the surface is cleared to each frame.
//
// Parameters:
//   - rgba: the clear color components in [0, 1]
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithClearColor(rgba [4]float32) RendererBuilderOption {
	return func(r *renderer) {
		r.clearColor = rgba
	}
}

// WithPipelineCacheOptions forwards options to the pipeline cache created by
// the renderer, such as the multisample count.
//
// Parameters:
//   - options: pipeline cache options to forward
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithPipelineCacheOptions(options ...pipeline.CacheBuilderOption) RendererBuilderOption {
	return func(r *renderer) {
		r.cacheOptions = append(r.cacheOptions, options...)
	}
}
