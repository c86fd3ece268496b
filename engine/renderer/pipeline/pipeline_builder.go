package pipeline

import (
	vk "github.com/goki/vulkan"
)

// CacheBuilderOption configures a Cache during construction.
type CacheBuilderOption func(*cache)

// WithSampleCount sets the rasterization sample count pipelines are built
// with. Defaults to single sampling.
//
// Parameters:
//   - samples: the sample count
//
// Returns:
//   - CacheBuilderOption: option function to apply
func WithSampleCount(samples vk.SampleCountFlagBits) CacheBuilderOption {
	return func(c *cache) {
		c.samples = samples
	}
}

// withBuildFunc swaps the pipeline compilation step, used by tests to
// exercise the cache without a device.
func withBuildFunc(fn buildFunc) CacheBuilderOption {
	return func(c *cache) {
		c.build = fn
	}
}
