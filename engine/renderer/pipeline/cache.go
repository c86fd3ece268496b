package pipeline

import (
	"sync"

	vk "github.com/goki/vulkan"
	"go.uber.org/zap"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/shader"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// buildFunc compiles one pipeline for a signature. Replaceable so the cache
// logic is testable without a device.
type buildFunc func(sig Signature) (vk.Pipeline, error)

// cache is the implementation of the Cache interface.
type cache struct {
	mu *sync.Mutex

	ctx *vkcontext.Context
	lib shader.Library

	build buildFunc

	renderPass vk.RenderPass
	format     vk.Format
	samples    vk.SampleCountFlagBits

	layout            vk.PipelineLayout
	frameSetLayout    vk.DescriptorSetLayout
	materialSetLayout vk.DescriptorSetLayout

	pipelines map[uint32]Pipeline

	builds      uint64
	invalidates uint64
}

// Cache compiles pipelines on first use and serves repeat requests from a
// map keyed by material signature. Changing the render target format drops
// every cached pipeline at once; pipelines built for the old format can never
// be presented to the new target.
type Cache interface {
	// SetTarget binds the cache to a render pass and its color format. A
	// format change invalidates every cached pipeline.
	//
	// Parameters:
	//   - renderPass: the pass pipelines will render into
	//   - format: the pass's color attachment format
	//
	// Returns:
	//   - bool: true when cached pipelines were invalidated
	SetTarget(renderPass vk.RenderPass, format vk.Format) bool

	// GetOrCreate returns the pipeline for a signature, compiling it on the
	// first request.
	//
	// Parameters:
	//   - sig: the material signature
	//
	// Returns:
	//   - Pipeline: the cached or newly built pipeline
	//   - error: PipelineCreationError when compilation fails
	GetOrCreate(sig Signature) (Pipeline, error)

	// Layout returns the shared pipeline layout, creating it on first use.
	Layout() (vk.PipelineLayout, error)

	// FrameSetLayout returns the per-frame descriptor set layout.
	FrameSetLayout() vk.DescriptorSetLayout

	// MaterialSetLayout returns the material descriptor set layout.
	MaterialSetLayout() vk.DescriptorSetLayout

	// Size returns the number of cached pipelines.
	Size() int

	// Stats returns lifetime build and invalidation counts.
	//
	// Returns:
	//   - uint64: pipelines built
	//   - uint64: wholesale invalidations
	Stats() (uint64, uint64)

	// Destroy frees every pipeline and the shared layouts.
	Destroy()
}

// Ensure cache implements Cache.
var _ Cache = &cache{}

// NewCache creates a pipeline cache.
//
// Parameters:
//   - ctx: the device context
//   - lib: the shader library providing SPIR-V stages
//   - options: functional options
//
// Returns:
//   - Cache: the cache
func NewCache(ctx *vkcontext.Context, lib shader.Library, options ...CacheBuilderOption) Cache {
	c := &cache{
		mu:        &sync.Mutex{},
		ctx:       ctx,
		lib:       lib,
		samples:   vk.SampleCount1Bit,
		pipelines: map[uint32]Pipeline{},
	}
	for _, opt := range options {
		opt(c)
	}
	if c.build == nil {
		c.build = c.buildGraphicsPipeline
	}
	return c
}

func (c *cache) SetTarget(renderPass vk.RenderPass, format vk.Format) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	formatChanged := c.format != vk.FormatUndefined && c.format != format
	c.renderPass = renderPass
	c.format = format
	if !formatChanged {
		return false
	}

	logger.Info("render target format changed; invalidating pipeline cache",
		zap.Int("dropped", len(c.pipelines)),
	)
	c.invalidates++
	c.destroyPipelinesLocked()
	return true
}

func (c *cache) GetOrCreate(sig Signature) (Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pipelines[sig.Key()]; ok {
		return p, nil
	}

	if c.ctx != nil {
		if err := c.ensureLayouts(); err != nil {
			return nil, errs.NewPipelineCreation(sig.String(), err)
		}
	}

	handle, err := c.build(sig)
	if err != nil {
		return nil, errs.NewPipelineCreation(sig.String(), err)
	}

	p := &pipeline{handle: handle, signature: sig, format: c.format}
	c.pipelines[sig.Key()] = p
	c.builds++

	logger.Debug("pipeline compiled",
		zap.String("signature", sig.String()),
		zap.Int("cached", len(c.pipelines)),
	)
	return p, nil
}

func (c *cache) Layout() (vk.PipelineLayout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLayouts(); err != nil {
		return vk.NullPipelineLayout, err
	}
	return c.layout, nil
}

func (c *cache) FrameSetLayout() vk.DescriptorSetLayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameSetLayout
}

func (c *cache) MaterialSetLayout() vk.DescriptorSetLayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.materialSetLayout
}

func (c *cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pipelines)
}

func (c *cache) Stats() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds, c.invalidates
}

func (c *cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.destroyPipelinesLocked()
	if c.ctx == nil {
		return
	}
	dev := c.ctx.Device
	if c.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, c.layout, nil)
		c.layout = vk.NullPipelineLayout
	}
	if c.frameSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, c.frameSetLayout, nil)
		c.frameSetLayout = vk.NullDescriptorSetLayout
	}
	if c.materialSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, c.materialSetLayout, nil)
		c.materialSetLayout = vk.NullDescriptorSetLayout
	}
}

func (c *cache) destroyPipelinesLocked() {
	for key, p := range c.pipelines {
		if c.ctx != nil && p.Handle() != vk.NullPipeline {
			vk.DestroyPipeline(c.ctx.Device, p.Handle(), nil)
		}
		delete(c.pipelines, key)
	}
}
