package pipeline

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/scenedesc"
	"github.com/prismgfx/prism/engine/shader"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// vertexStride is the byte size of scenedesc.Vertex: position, normal,
// texcoord, tangent.
const vertexStride = uint32(unsafe.Sizeof(scenedesc.Vertex{}))

// PushConstantSize covers the model matrix plus the packed material factor
// block consumed by the PBR shaders.
const PushConstantSize = 128

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	handle    vk.Pipeline
	signature Signature
	format    vk.Format
}

// Pipeline is one compiled graphics pipeline state object bound to a
// material signature and a render target format.
type Pipeline interface {
	// Handle returns the underlying pipeline object.
	Handle() vk.Pipeline

	// Signature returns the material signature this pipeline was built for.
	Signature() Signature

	// Format returns the render target format this pipeline was built for.
	Format() vk.Format
}

// Ensure pipeline implements Pipeline.
var _ Pipeline = &pipeline{}

func (p *pipeline) Handle() vk.Pipeline  { return p.handle }
func (p *pipeline) Signature() Signature { return p.signature }
func (p *pipeline) Format() vk.Format    { return p.format }

// primitiveTopology maps the scene description topology onto the Vulkan
// input assembly topology.
func primitiveTopology(t scenedesc.Topology) vk.PrimitiveTopology {
	switch t {
	case scenedesc.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case scenedesc.TopologyLines:
		return vk.PrimitiveTopologyLineList
	case scenedesc.TopologyPoints:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

// specData packs the signature fields handed to the shaders as
// specialization constants: texture mask and alpha mode.
func specData(sig Signature) []byte {
	data := make([]byte, 8)
	data[0] = sig.TextureMask
	data[4] = byte(sig.AlphaMode)
	return data
}

// buildGraphicsPipeline compiles the PBR pipeline variant for one signature
// against the current render pass. Viewport and scissor are dynamic, so only
// a target format change invalidates the result.
func (c *cache) buildGraphicsPipeline(sig Signature) (vk.Pipeline, error) {
	vert, err := c.lib.Stage(shader.StagePBRVertex)
	if err != nil {
		return vk.NullPipeline, err
	}
	frag, err := c.lib.Stage(shader.StagePBRFragment)
	if err != nil {
		return vk.NullPipeline, err
	}

	vertModule, err := vkcontext.CreateShaderModule(c.ctx, vert)
	if err != nil {
		return vk.NullPipeline, err
	}
	defer vk.DestroyShaderModule(c.ctx.Device, vertModule, nil)
	fragModule, err := vkcontext.CreateShaderModule(c.ctx, frag)
	if err != nil {
		return vk.NullPipeline, err
	}
	defer vk.DestroyShaderModule(c.ctx.Device, fragModule, nil)

	spec := specData(sig)
	specInfo := vk.SpecializationInfo{
		MapEntryCount: 2,
		PMapEntries: []vk.SpecializationMapEntry{
			{ConstantID: 0, Offset: 0, Size: 4},
			{ConstantID: 1, Offset: 4, Size: 4},
		},
		DataSize: uint64(len(spec)),
		PData:    unsafe.Pointer(&spec[0]),
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertModule,
			PName:  "main\x00",
		},
		{
			SType:               vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:               vk.ShaderStageFragmentBit,
			Module:              fragModule,
			PName:               "main\x00",
			PSpecializationInfo: []vk.SpecializationInfo{specInfo},
		},
	}

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    vertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: 4,
		PVertexAttributeDescriptions: []vk.VertexInputAttributeDescription{
			{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
			{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 12},
			{Location: 2, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 24},
			{Location: 3, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 32},
		},
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: primitiveTopology(sig.Topology),
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	cullMode := vk.CullModeFlags(vk.CullModeBackBit)
	if sig.DoubleSided {
		cullMode = vk.CullModeFlags(vk.CullModeNone)
	}
	rasterization := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    cullMode,
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1,
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: c.samples,
	}

	// Blended surfaces keep depth testing but stop writing so farther
	// transparent geometry still composites behind them.
	depthWrite := vk.Bool32(vk.True)
	if sig.Blended() {
		depthWrite = vk.False
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: depthWrite,
		DepthCompareOp:   vk.CompareOpLess,
	}

	attachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	if sig.Blended() {
		attachment.BlendEnable = vk.True
		attachment.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		attachment.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		attachment.ColorBlendOp = vk.BlendOpAdd
		attachment.SrcAlphaBlendFactor = vk.BlendFactorOne
		attachment.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		attachment.AlphaBlendOp = vk.BlendOpAdd
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{attachment},
	}

	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates:    []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
	}

	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateGraphicsPipelines(c.ctx.Device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterization,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              c.layout,
		RenderPass:          c.renderPass,
	}}, nil, pipelines)
	if err := vkcontext.CheckResult(ret, "vkCreateGraphicsPipelines"); err != nil {
		return vk.NullPipeline, err
	}
	return pipelines[0], nil
}

// ensureLayouts lazily creates the shared descriptor set layouts and the
// pipeline layout: set 0 for per-frame data and environment maps, set 1 for
// the material's texture slots.
func (c *cache) ensureLayouts() error {
	if c.layout != vk.NullPipelineLayout {
		return nil
	}
	dev := c.ctx.Device

	frameBindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		},
	}
	// Irradiance cube, prefiltered specular cube, BRDF LUT.
	for b := uint32(1); b <= 3; b++ {
		frameBindings = append(frameBindings, vk.DescriptorSetLayoutBinding{
			Binding:         b,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		})
	}
	ret := vk.CreateDescriptorSetLayout(dev, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(frameBindings)),
		PBindings:    frameBindings,
	}, nil, &c.frameSetLayout)
	if err := vkcontext.CheckResult(ret, "vkCreateDescriptorSetLayout(frame)"); err != nil {
		return err
	}

	materialBindings := make([]vk.DescriptorSetLayoutBinding, SlotCount)
	for b := range materialBindings {
		materialBindings[b] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(b),
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		}
	}
	ret = vk.CreateDescriptorSetLayout(dev, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(materialBindings)),
		PBindings:    materialBindings,
	}, nil, &c.materialSetLayout)
	if err := vkcontext.CheckResult(ret, "vkCreateDescriptorSetLayout(material)"); err != nil {
		return err
	}

	ret = vk.CreatePipelineLayout(dev, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         2,
		PSetLayouts:            []vk.DescriptorSetLayout{c.frameSetLayout, c.materialSetLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
			Size:       PushConstantSize,
		}},
	}, nil, &c.layout)
	if err := vkcontext.CheckResult(ret, "vkCreatePipelineLayout"); err != nil {
		return errs.NewPipelineCreation("layout", err)
	}
	return nil
}
