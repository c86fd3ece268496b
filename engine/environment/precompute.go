// Package environment builds the image-based lighting inputs consumed by the
// PBR shaders: a diffuse irradiance cubemap, a roughness-prefiltered
// specular cubemap, and the split-sum BRDF lookup table.
package environment

import (
	"hash/fnv"
	"math"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/resource"
	"github.com/prismgfx/prism/engine/scenedesc"
	"github.com/prismgfx/prism/engine/shader"
	"github.com/prismgfx/prism/engine/vkcontext"
)

const (
	defaultIrradianceSize = 32
	defaultPrefilterSize  = 128
)

// IBL is the set of precomputed lighting textures for one environment. The
// handles stay valid until the owning precomputer replaces or destroys them.
type IBL struct {
	Irradiance  resource.TextureHandle
	Prefiltered resource.TextureHandle
	BRDFLUT     resource.TextureHandle

	// PrefilteredMips is the specular chain length; mip m holds roughness
	// m/(PrefilteredMips-1).
	PrefilteredMips uint32
}

// precomputer is the implementation of the Precomputer interface.
type precomputer struct {
	mu *sync.Mutex

	ctx *vkcontext.Context
	mgr resource.Manager
	lib shader.Library

	irradianceSize uint32
	prefilterSize  uint32

	pool *vkcontext.CmdPool

	current   *IBL
	sourceKey uint64

	// ownedViews are the per-target storage views of the current dispatch,
	// freed once its submission completes.
	ownedViews []vk.ImageView

	// destroyView is swappable so view reclamation can run without a device
	// in tests.
	destroyView func(vk.ImageView)

	setLayout      vk.DescriptorSetLayout
	pipelineLayout vk.PipelineLayout
	irradiancePipe vk.Pipeline
	prefilterPipe  vk.Pipeline
	descPool       vk.DescriptorPool
}

// Precomputer turns an equirectangular environment texture into IBL data.
// Precomputing the same environment twice is a no-op returning the existing
// result; a different environment replaces the previous one.
type Precomputer interface {
	// Precompute builds (or returns the cached) IBL set for an environment.
	//
	// Parameters:
	//   - env: the decoded equirectangular environment texture
	//
	// Returns:
	//   - *IBL: the lighting textures
	//   - error: non-nil when upload, pipeline creation, or dispatch fails
	Precompute(env *scenedesc.Texture) (*IBL, error)

	// Current returns the active IBL set, or nil before the first call.
	Current() *IBL

	// Destroy releases the IBL textures and every device object the
	// precomputer created.
	Destroy()
}

// Ensure precomputer implements Precomputer.
var _ Precomputer = &precomputer{}

// NewPrecomputer creates a Precomputer.
//
// Parameters:
//   - ctx: the device context
//   - mgr: the resource manager that owns the output textures
//   - lib: the shader library providing the compute stages
//   - options: functional options
//
// Returns:
//   - Precomputer: the precomputer
func NewPrecomputer(ctx *vkcontext.Context, mgr resource.Manager, lib shader.Library, options ...PrecomputerBuilderOption) Precomputer {
	p := &precomputer{
		mu:             &sync.Mutex{},
		ctx:            ctx,
		mgr:            mgr,
		lib:            lib,
		irradianceSize: defaultIrradianceSize,
		prefilterSize:  defaultPrefilterSize,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *precomputer) Current() *IBL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *precomputer) Precompute(env *scenedesc.Texture) (*IBL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := hashTexture(env)
	if p.current != nil && key == p.sourceKey {
		logger.Debug("environment unchanged; reusing lighting data")
		return p.current, nil
	}

	if err := p.ensurePipelines(); err != nil {
		return nil, err
	}

	// Upload the source environment and the CPU-integrated BRDF table.
	p.mgr.BeginBatch()
	source, err := p.mgr.CreateTexture(env)
	if err != nil {
		return nil, err
	}
	lut, err := p.mgr.AllocateImage(resource.ImageOptions{
		Width:     BRDFLUTSize,
		Height:    BRDFLUTSize,
		Format:    vk.FormatR16g16Sfloat,
		Usage:     vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit,
		MagFilter: scenedesc.FilterLinear,
		MinFilter: scenedesc.FilterLinear,
		WrapS:     scenedesc.WrapClampToEdge,
		WrapT:     scenedesc.WrapClampToEdge,
	})
	if err != nil {
		return nil, err
	}
	if err := p.mgr.StageImage(lut, GenerateBRDFLUT(), 0, 0); err != nil {
		return nil, err
	}
	fence, err := p.mgr.FlushBatch()
	if err != nil {
		return nil, err
	}
	if fence != nil {
		if err := fence.Wait(); err != nil {
			return nil, err
		}
	}

	mips := mipCount(p.prefilterSize)

	irradiance, err := p.mgr.AllocateImage(resource.ImageOptions{
		Width:   p.irradianceSize,
		Height:  p.irradianceSize,
		Format:  vk.FormatR16g16b16a16Sfloat,
		Cubemap: true,
		Usage:   vk.ImageUsageSampledBit | vk.ImageUsageStorageBit,
		WrapS:   scenedesc.WrapClampToEdge,
		WrapT:   scenedesc.WrapClampToEdge,
	})
	if err != nil {
		return nil, err
	}
	prefiltered, err := p.mgr.AllocateImage(resource.ImageOptions{
		Width:     p.prefilterSize,
		Height:    p.prefilterSize,
		Format:    vk.FormatR16g16b16a16Sfloat,
		MipLevels: mips,
		Cubemap:   true,
		Usage:     vk.ImageUsageSampledBit | vk.ImageUsageStorageBit,
		WrapS:     scenedesc.WrapClampToEdge,
		WrapT:     scenedesc.WrapClampToEdge,
	})
	if err != nil {
		return nil, err
	}

	if err := p.dispatch(source, irradiance, prefiltered, mips); err != nil {
		p.mgr.ReleaseTexture(irradiance)
		p.mgr.ReleaseTexture(prefiltered)
		p.mgr.ReleaseTexture(lut)
		p.mgr.ReleaseTexture(source)
		return nil, err
	}

	// The equirect source is only needed during precompute.
	p.mgr.ReleaseTexture(source)

	p.releaseCurrentLocked()
	p.current = &IBL{
		Irradiance:      irradiance,
		Prefiltered:     prefiltered,
		BRDFLUT:         lut,
		PrefilteredMips: mips,
	}
	p.sourceKey = key

	logger.Info("environment lighting precomputed",
		zap.Uint32("irradianceSize", p.irradianceSize),
		zap.Uint32("prefilterSize", p.prefilterSize),
		zap.Uint32("specularMips", mips),
	)
	return p.current, nil
}

// dispatch records and submits every compute pass: one for the irradiance
// cube, one per specular mip with roughness m/(mips-1).
func (p *precomputer) dispatch(source, irradiance, prefiltered resource.TextureHandle, mips uint32) error {
	if p.pool == nil {
		pool, err := vkcontext.NewCmdPool(p.ctx, p.ctx.GraphicsFamily, vk.CommandPoolCreateResetCommandBufferBit)
		if err != nil {
			return err
		}
		p.pool = pool
	}

	setCount := 1 + mips
	if err := p.ensureDescriptorPool(setCount); err != nil {
		return err
	}

	cmd, err := p.pool.BeginOneTime(p.ctx)
	if err != nil {
		return err
	}
	// EndSubmitWait blocks until the passes finish, so the storage views are
	// free to go as soon as dispatch returns, on success or failure.
	defer p.destroyOwnedViewsLocked()

	irrImage := p.mgr.TextureImage(irradiance)
	preImage := p.mgr.TextureImage(prefiltered)
	computeTransition(cmd, irrImage, vk.ImageLayoutUndefined, vk.ImageLayoutGeneral, 1, 6)
	computeTransition(cmd, preImage, vk.ImageLayoutUndefined, vk.ImageLayoutGeneral, mips, 6)

	srcView := p.mgr.TextureView(source)
	srcSampler := p.mgr.TextureSampler(source)

	// Irradiance: single pass over the whole cube.
	irrView, err := p.storageView(irrImage, 0)
	if err != nil {
		return err
	}
	irrSet, err := p.allocSet(srcView, srcSampler, irrView)
	if err != nil {
		return err
	}
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointCompute, p.irradiancePipe)
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, p.pipelineLayout, 0, 1, []vk.DescriptorSet{irrSet}, 0, nil)
	pushRoughness(cmd, p.pipelineLayout, 0)
	vk.CmdDispatch(cmd, groups(p.irradianceSize), groups(p.irradianceSize), 6)

	// Prefiltered specular: one pass per mip at increasing roughness.
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointCompute, p.prefilterPipe)
	for m := uint32(0); m < mips; m++ {
		view, err := p.storageView(preImage, m)
		if err != nil {
			return err
		}
		set, err := p.allocSet(srcView, srcSampler, view)
		if err != nil {
			return err
		}

		roughness := float32(0)
		if mips > 1 {
			roughness = float32(m) / float32(mips-1)
		}

		size := p.prefilterSize >> m
		if size == 0 {
			size = 1
		}
		vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, p.pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
		pushRoughness(cmd, p.pipelineLayout, roughness)
		vk.CmdDispatch(cmd, groups(size), groups(size), 6)
	}

	computeTransition(cmd, irrImage, vk.ImageLayoutGeneral, vk.ImageLayoutShaderReadOnlyOptimal, 1, 6)
	computeTransition(cmd, preImage, vk.ImageLayoutGeneral, vk.ImageLayoutShaderReadOnlyOptimal, mips, 6)

	return p.pool.EndSubmitWait(p.ctx, p.ctx.GraphicsQueue)
}

// ensurePipelines lazily builds the descriptor/pipeline layouts and both
// compute pipelines.
func (p *precomputer) ensurePipelines() error {
	if p.irradiancePipe != vk.NullPipeline {
		return nil
	}
	dev := p.ctx.Device

	ret := vk.CreateDescriptorSetLayout(dev, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 2,
		PBindings: []vk.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			},
			{
				Binding:         1,
				DescriptorType:  vk.DescriptorTypeStorageImage,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			},
		},
	}, nil, &p.setLayout)
	if err := vkcontext.CheckResult(ret, "vkCreateDescriptorSetLayout(ibl)"); err != nil {
		return err
	}

	ret = vk.CreatePipelineLayout(dev, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{p.setLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Size:       4,
		}},
	}, nil, &p.pipelineLayout)
	if err := vkcontext.CheckResult(ret, "vkCreatePipelineLayout(ibl)"); err != nil {
		return err
	}

	var err error
	p.irradiancePipe, err = p.computePipeline(shader.StageIrradiance)
	if err != nil {
		return err
	}
	p.prefilterPipe, err = p.computePipeline(shader.StagePrefilter)
	return err
}

func (p *precomputer) computePipeline(stage string) (vk.Pipeline, error) {
	code, err := p.lib.Stage(stage)
	if err != nil {
		return vk.NullPipeline, err
	}
	module, err := vkcontext.CreateShaderModule(p.ctx, code)
	if err != nil {
		return vk.NullPipeline, err
	}
	defer vk.DestroyShaderModule(p.ctx.Device, module, nil)

	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateComputePipelines(p.ctx.Device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  "main\x00",
		},
		Layout: p.pipelineLayout,
	}}, nil, pipelines)
	if err := vkcontext.CheckResult(ret, "vkCreateComputePipelines"); err != nil {
		return vk.NullPipeline, err
	}
	return pipelines[0], nil
}

func (p *precomputer) ensureDescriptorPool(sets uint32) error {
	if p.descPool != vk.NullDescriptorPool {
		vk.ResetDescriptorPool(p.ctx.Device, p.descPool, 0)
		return nil
	}
	// Sized for the largest plausible chain; reset and reused per build.
	const capacity = 16
	ret := vk.CreateDescriptorPool(p.ctx.Device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       capacity,
		PoolSizeCount: 2,
		PPoolSizes: []vk.DescriptorPoolSize{
			{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: capacity},
			{Type: vk.DescriptorTypeStorageImage, DescriptorCount: capacity},
		},
	}, nil, &p.descPool)
	return vkcontext.CheckResult(ret, "vkCreateDescriptorPool(ibl)")
}

// storageView creates a 2D-array view over one mip of a cube image so the
// compute shader can write all six faces in a single dispatch.
func (p *precomputer) storageView(img vk.Image, mip uint32) (vk.ImageView, error) {
	var view vk.ImageView
	ret := vk.CreateImageView(p.ctx.Device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2dArray,
		Format:   vk.FormatR16g16b16a16Sfloat,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:   vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel: mip,
			LevelCount:   1,
			LayerCount:   6,
		},
	}, nil, &view)
	if err := vkcontext.CheckResult(ret, "vkCreateImageView(ibl storage)"); err != nil {
		return vk.NullImageView, err
	}
	p.ownedViews = append(p.ownedViews, view)
	return view, nil
}

func (p *precomputer) allocSet(srcView vk.ImageView, srcSampler vk.Sampler, target vk.ImageView) (vk.DescriptorSet, error) {
	sets := make([]vk.DescriptorSet, 1)
	ret := vk.AllocateDescriptorSets(p.ctx.Device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.setLayout},
	}, &sets[0])
	if err := vkcontext.CheckResult(ret, "vkAllocateDescriptorSets(ibl)"); err != nil {
		return vk.NullDescriptorSet, err
	}

	vk.UpdateDescriptorSets(p.ctx.Device, 2, []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          sets[0],
			DstBinding:      0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler:     srcSampler,
				ImageView:   srcView,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}},
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          sets[0],
			DstBinding:      1,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo: []vk.DescriptorImageInfo{{
				ImageView:   target,
				ImageLayout: vk.ImageLayoutGeneral,
			}},
		},
	}, 0, nil)
	return sets[0], nil
}

func (p *precomputer) destroyOwnedViewsLocked() {
	destroy := p.destroyView
	if destroy == nil {
		destroy = func(v vk.ImageView) { vk.DestroyImageView(p.ctx.Device, v, nil) }
	}
	for _, v := range p.ownedViews {
		destroy(v)
	}
	p.ownedViews = nil
}

func (p *precomputer) releaseCurrentLocked() {
	if p.current == nil {
		return
	}
	p.mgr.ReleaseTexture(p.current.Irradiance)
	p.mgr.ReleaseTexture(p.current.Prefiltered)
	p.mgr.ReleaseTexture(p.current.BRDFLUT)
	p.current = nil
	p.sourceKey = 0
}

func (p *precomputer) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseCurrentLocked()
	p.destroyOwnedViewsLocked()
	dev := p.ctx.Device
	if p.irradiancePipe != vk.NullPipeline {
		vk.DestroyPipeline(dev, p.irradiancePipe, nil)
		p.irradiancePipe = vk.NullPipeline
	}
	if p.prefilterPipe != vk.NullPipeline {
		vk.DestroyPipeline(dev, p.prefilterPipe, nil)
		p.prefilterPipe = vk.NullPipeline
	}
	if p.pipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, p.pipelineLayout, nil)
		p.pipelineLayout = vk.NullPipelineLayout
	}
	if p.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, p.setLayout, nil)
		p.setLayout = vk.NullDescriptorSetLayout
	}
	if p.descPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(dev, p.descPool, nil)
		p.descPool = vk.NullDescriptorPool
	}
	if p.pool != nil {
		p.pool.Destroy(p.ctx)
		p.pool = nil
	}
}

// mipCount returns the full chain length for a square size.
func mipCount(size uint32) uint32 {
	return uint32(math.Floor(math.Log2(float64(size)))) + 1
}

func groups(size uint32) uint32 {
	// Compute shaders use 8x8 local workgroups.
	return (size + 7) / 8
}

func pushRoughness(cmd vk.CommandBuffer, layout vk.PipelineLayout, roughness float32) {
	vk.CmdPushConstants(cmd, layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, 4, unsafe.Pointer(&roughness))
}

// computeTransition records a layout barrier around compute access.
func computeTransition(cmd vk.CommandBuffer, img vk.Image, from, to vk.ImageLayout, mips, layers uint32) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: mips,
			LayerCount: layers,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlags
	if from == vk.ImageLayoutUndefined {
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	} else {
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessShaderWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	}

	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0,
		0, nil, 0, nil,
		1, []vk.ImageMemoryBarrier{barrier})
}

// hashTexture fingerprints an environment for the idempotency check.
func hashTexture(t *scenedesc.Texture) uint64 {
	h := fnv.New64a()
	var dims [8]byte
	dims[0] = byte(t.Width)
	dims[1] = byte(t.Width >> 8)
	dims[2] = byte(t.Width >> 16)
	dims[3] = byte(t.Width >> 24)
	dims[4] = byte(t.Height)
	dims[5] = byte(t.Height >> 8)
	dims[6] = byte(t.Height >> 16)
	dims[7] = byte(t.Height >> 24)
	h.Write(dims[:])
	h.Write(t.Pixels)
	return h.Sum64()
}
