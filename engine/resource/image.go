package resource

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/scenedesc"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// ImageOptions describes an image allocation.
type ImageOptions struct {
	Width  uint32
	Height uint32
	Format vk.Format

	// MipLevels defaults to 1 when zero.
	MipLevels uint32
	// Layers defaults to 1 when zero; 6 with Cubemap set builds a cube view.
	Layers  uint32
	Cubemap bool

	Usage vk.ImageUsageFlagBits

	// Sampler state; zero values mean linear filtering with repeat wrap.
	MagFilter scenedesc.FilterMode
	MinFilter scenedesc.FilterMode
	WrapS     scenedesc.WrapMode
	WrapT     scenedesc.WrapMode
}

func (o *ImageOptions) normalize() {
	if o.MipLevels == 0 {
		o.MipLevels = 1
	}
	if o.Layers == 0 {
		o.Layers = 1
	}
	if o.Cubemap {
		o.Layers = 6
	}
}

// byteSize returns the tightly packed size of one mip-0 layer.
func (o *ImageOptions) byteSize() uint64 {
	return uint64(o.Width) * uint64(o.Height) * formatTexelSize(o.Format)
}

func formatTexelSize(f vk.Format) uint64 {
	switch f {
	case vk.FormatR16g16b16a16Sfloat:
		return 8
	case vk.FormatR32g32b32a32Sfloat:
		return 16
	case vk.FormatR16g16Sfloat:
		return 4
	default:
		// RGBA8 variants.
		return 4
	}
}

// createImage allocates the image, its device-local memory, a full view, and
// a sampler.
func (m *manager) createImage(opts ImageOptions) (*textureEntry, error) {
	dev := m.ctx.Device

	var flags vk.ImageCreateFlags
	viewType := vk.ImageViewType2d
	if opts.Cubemap {
		flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
		viewType = vk.ImageViewTypeCube
	}

	var img vk.Image
	ret := vk.CreateImage(dev, &vk.ImageCreateInfo{
		SType:       vk.StructureTypeImageCreateInfo,
		Flags:       flags,
		ImageType:   vk.ImageType2d,
		Format:      opts.Format,
		Extent:      vk.Extent3D{Width: opts.Width, Height: opts.Height, Depth: 1},
		MipLevels:   opts.MipLevels,
		ArrayLayers: opts.Layers,
		Samples:     vk.SampleCount1Bit,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(opts.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &img)
	if err := vkcontext.CheckResult(ret, "vkCreateImage"); err != nil {
		return nil, err
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, img, &memReqs)
	memReqs.Deref()

	memType, ok := vkcontext.FindMemoryType(m.ctx.MemoryProps, memReqs.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		vk.DestroyImage(dev, img, nil)
		return nil, errs.NewResourceExhausted("image memory type", uint64(memReqs.Size), errors.New("no device-local memory type"))
	}
	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if err := vkcontext.CheckResult(ret, "vkAllocateMemory(image)"); err != nil {
		vk.DestroyImage(dev, img, nil)
		return nil, errs.NewResourceExhausted("image", uint64(memReqs.Size), err)
	}
	vk.BindImageMemory(dev, img, mem, 0)

	var view vk.ImageView
	ret = vk.CreateImageView(dev, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: viewType,
		Format:   opts.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: opts.MipLevels,
			LayerCount: opts.Layers,
		},
	}, nil, &view)
	if err := vkcontext.CheckResult(ret, "vkCreateImageView"); err != nil {
		vk.FreeMemory(dev, mem, nil)
		vk.DestroyImage(dev, img, nil)
		return nil, err
	}

	sampler, err := m.createSampler(opts)
	if err != nil {
		vk.DestroyImageView(dev, view, nil)
		vk.FreeMemory(dev, mem, nil)
		vk.DestroyImage(dev, img, nil)
		return nil, err
	}

	return &textureEntry{
		image:   img,
		mem:     mem,
		view:    view,
		sampler: sampler,
		opts:    opts,
	}, nil
}

func (m *manager) createSampler(opts ImageOptions) (vk.Sampler, error) {
	var sampler vk.Sampler
	ret := vk.CreateSampler(m.ctx.Device, &vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        filterMode(opts.MagFilter),
		MinFilter:        filterMode(opts.MinFilter),
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     wrapMode(opts.WrapS),
		AddressModeV:     wrapMode(opts.WrapT),
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.True,
		MaxAnisotropy:    16,
		MaxLod:           float32(opts.MipLevels),
		BorderColor:      vk.BorderColorIntOpaqueBlack,
	}, nil, &sampler)
	if err := vkcontext.CheckResult(ret, "vkCreateSampler"); err != nil {
		return vk.NullSampler, err
	}
	return sampler, nil
}

func filterMode(f scenedesc.FilterMode) vk.Filter {
	if f == scenedesc.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func wrapMode(w scenedesc.WrapMode) vk.SamplerAddressMode {
	switch w {
	case scenedesc.WrapClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case scenedesc.WrapMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	default:
		return vk.SamplerAddressModeRepeat
	}
}

// transitionImage records a layout transition barrier covering the given
// mip/layer range.
func transitionImage(cmd vk.CommandBuffer, img vk.Image, from, to vk.ImageLayout, mips, layers uint32) {
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

	srcStage, dstStage, srcAccess, dstAccess := transitionMasks(from, to)
	barrier.SrcAccessMask = srcAccess
	barrier.DstAccessMask = dstAccess

	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0,
		0, nil, 0, nil,
		1, []vk.ImageMemoryBarrier{barrier})
}

// transitionMasks selects the stage and access masks for a layout pair.
func transitionMasks(from, to vk.ImageLayout) (srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	switch {
	case from == vk.ImageLayoutUndefined && to == vk.ImageLayoutTransferDstOptimal:
		dstAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case from == vk.ImageLayoutTransferDstOptimal && to == vk.ImageLayoutShaderReadOnlyOptimal:
		// Uploaded textures are sampled by fragment shaders and by the
		// lighting precompute passes, so the barrier covers both stages.
		srcAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
		dstAccess = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit)
	case from == vk.ImageLayoutUndefined && to == vk.ImageLayoutColorAttachmentOptimal:
		dstAccess = vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case from == vk.ImageLayoutColorAttachmentOptimal && to == vk.ImageLayoutShaderReadOnlyOptimal:
		srcAccess = vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		dstAccess = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		srcStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	return srcStage, dstStage, srcAccess, dstAccess
}
