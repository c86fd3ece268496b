package renderer

import (
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/common"
	"github.com/prismgfx/prism/engine/environment"
	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/renderer/pipeline"
	"github.com/prismgfx/prism/engine/resource"
	"github.com/prismgfx/prism/engine/scene"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// acquireTimeout bounds how long one frame waits for a swapchain image.
const acquireTimeout = uint64(math.MaxUint64)

// frameUBOSize is the per-frame uniform block: view, projection, camera
// position, and lighting parameters.
const frameUBOSize = 160

// vulkanBackend owns the swapchain, render pass, frame slots, and the
// per-frame recording path.
type vulkanBackend struct {
	ctx       *vkcontext.Context
	swapchain *vkcontext.Swapchain
	cache     pipeline.Cache
	resources resource.Manager

	renderPass   vk.RenderPass
	framebuffers []vk.Framebuffer

	// Multisampled color target, resolved into the swapchain image each
	// frame. Unused when samples is SampleCount1Bit.
	samples    vk.SampleCountFlagBits
	msaaImage  vk.Image
	msaaMemory vk.DeviceMemory
	msaaView   vk.ImageView

	ring    *slotRing
	machine frameMachine

	// uniforms are the per-slot host-visible frame UBOs, persistently mapped.
	uniforms []hostBuffer

	ibl *environment.IBL

	frame      uint64
	imageIndex uint32

	pendingExtent  common.Extent2D
	resizePending  bool
	vsync          bool
	clearColor     [4]float32
	framesInFlight int

	// Per-frame recording inputs, set before the machine runs.
	drawList *scene.DrawList
	view     [16]float32
	proj     [16]float32
	camPos   [3]float32
}

// hostBuffer is a small host-visible, persistently mapped buffer.
type hostBuffer struct {
	buf vk.Buffer
	mem vk.DeviceMemory
	ptr unsafe.Pointer
}

func newVulkanBackend(ctx *vkcontext.Context, cache pipeline.Cache, resources resource.Manager,
	extent common.Extent2D, framesInFlight int, vsync bool, clearColor [4]float32,
	samples vk.SampleCountFlagBits) (*vulkanBackend, error) {

	b := &vulkanBackend{
		ctx:            ctx,
		cache:          cache,
		resources:      resources,
		pendingExtent:  extent,
		vsync:          vsync,
		clearColor:     clearColor,
		framesInFlight: framesInFlight,
		samples:        samples,
	}
	b.machine.hooks = frameHooks{
		acquire:  b.acquireImage,
		record:   b.recordFrame,
		submit:   b.submitFrame,
		present:  b.presentFrame,
		recreate: b.recreateSwapchain,
	}

	sc, err := vkcontext.NewSwapchain(ctx, extent, vsync, samples)
	if err != nil {
		return nil, err
	}
	b.swapchain = sc

	if err := b.createRenderPass(); err != nil {
		b.Destroy()
		return nil, err
	}
	if err := b.createColorTarget(); err != nil {
		b.Destroy()
		return nil, err
	}
	if err := b.createFramebuffers(); err != nil {
		b.Destroy()
		return nil, err
	}
	cache.SetTarget(b.renderPass, sc.Format)

	ring, err := newSlotRing(ctx, framesInFlight)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	b.ring = ring

	for i := 0; i < framesInFlight; i++ {
		ub, err := b.createHostBuffer(frameUBOSize, vk.BufferUsageUniformBufferBit)
		if err != nil {
			b.Destroy()
			return nil, err
		}
		b.uniforms = append(b.uniforms, ub)
	}

	logger.Info("renderer backend initialized",
		zap.Uint32("width", sc.Extent.Width),
		zap.Uint32("height", sc.Extent.Height),
		zap.Int("framesInFlight", framesInFlight),
		zap.Bool("vsync", vsync),
		zap.Int("msaaSamples", int(samples)),
	)
	return b, nil
}

// renderFrame drives one frame through the state machine.
func (b *vulkanBackend) renderFrame(list *scene.DrawList, view, proj [16]float32, camPos [3]float32) error {
	if b.pendingExtent.IsZero() {
		// Minimized; nothing to present.
		return nil
	}

	b.drawList = list
	b.view = view
	b.proj = proj
	b.camPos = camPos

	err := b.machine.run()
	b.drawList = nil
	return err
}

func (b *vulkanBackend) acquireImage() error {
	if b.resizePending {
		b.resizePending = false
		return errs.ErrSurfaceStale
	}

	if err := b.ring.waitCurrent(); err != nil {
		return err
	}

	// Past frames up to the oldest slot's index are done; retire deferred
	// releases before recording new work.
	b.resources.AdvanceFrame(b.frame, b.ring.completedFrame())

	idx, err := b.swapchain.Acquire(acquireTimeout, b.ring.current().imageAvailable)
	if err != nil {
		return err
	}
	b.imageIndex = idx
	return nil
}

func (b *vulkanBackend) recordFrame() error {
	slot := b.ring.current()
	extent := b.swapchain.Extent

	ret := vk.BeginCommandBuffer(slot.cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	})
	if err := vkcontext.CheckResult(ret, "vkBeginCommandBuffer(frame)"); err != nil {
		return err
	}

	clears := []vk.ClearValue{
		vk.NewClearValue(b.clearColor[:]),
		vk.NewClearDepthStencil(1, 0),
	}
	vk.CmdBeginRenderPass(slot.cmd, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  b.renderPass,
		Framebuffer: b.framebuffers[b.imageIndex],
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)

	vk.CmdSetViewport(slot.cmd, 0, 1, []vk.Viewport{{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(slot.cmd, 0, 1, []vk.Rect2D{{
		Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
	}})

	if b.drawList != nil && (len(b.drawList.Opaque) > 0 || len(b.drawList.Blend) > 0) {
		if err := b.recordDraws(slot); err != nil {
			vk.CmdEndRenderPass(slot.cmd)
			vk.EndCommandBuffer(slot.cmd)
			return err
		}
	}

	vk.CmdEndRenderPass(slot.cmd)
	return vkcontext.CheckResult(vk.EndCommandBuffer(slot.cmd), "vkEndCommandBuffer(frame)")
}

// recordDraws writes the frame UBO, binds the shared frame set, then records
// opaque batches followed by the pre-sorted blend calls.
func (b *vulkanBackend) recordDraws(slot *frameSlot) error {
	layout, err := b.cache.Layout()
	if err != nil {
		return err
	}

	b.writeFrameUniforms()
	frameSet, err := b.allocFrameSet(slot)
	if err != nil {
		return err
	}

	// Material sets are transient: allocated from the slot's pool, reused
	// within the frame per distinct material.
	materialSets := map[*scene.Primitive]vk.DescriptorSet{}

	draw := func(batch *scene.DrawBatch) error {
		p, err := b.cache.GetOrCreate(batch.Signature)
		if err != nil {
			return err
		}
		vk.CmdBindPipeline(slot.cmd, vk.PipelineBindPointGraphics, p.Handle())

		for i := range batch.Calls {
			call := &batch.Calls[i]
			prim := call.Primitive

			matSet, ok := materialSets[prim]
			if !ok {
				matSet, err = b.allocMaterialSet(slot, &prim.Material)
				if err != nil {
					return err
				}
				materialSets[prim] = matSet
			}

			vk.CmdBindDescriptorSets(slot.cmd, vk.PipelineBindPointGraphics, layout, 0, 2,
				[]vk.DescriptorSet{frameSet, matSet}, 0, nil)

			push := packPushConstants(call.World, &prim.Material)
			vk.CmdPushConstants(slot.cmd, layout,
				vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit),
				0, pipeline.PushConstantSize, unsafe.Pointer(&push[0]))

			vk.CmdBindVertexBuffers(slot.cmd, 0, 1,
				[]vk.Buffer{b.resources.Buffer(prim.VertexBuffer)}, []vk.DeviceSize{0})

			if prim.IndexBuffer != resource.NilBuffer {
				vk.CmdBindIndexBuffer(slot.cmd, b.resources.Buffer(prim.IndexBuffer), 0, vk.IndexTypeUint32)
				vk.CmdDrawIndexed(slot.cmd, prim.IndexCount, 1, 0, 0, 0)
			} else {
				vk.CmdDraw(slot.cmd, prim.VertexCount, 1, 0, 0)
			}
		}
		return nil
	}

	for i := range b.drawList.Opaque {
		if err := draw(&b.drawList.Opaque[i]); err != nil {
			return err
		}
	}
	for i := range b.drawList.Blend {
		if err := draw(&b.drawList.Blend[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *vulkanBackend) submitFrame() error {
	slot := b.ring.current()

	waitStages := []vk.PipelineStageFlags{
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
	}
	ret := vk.QueueSubmit(b.ctx.GraphicsQueue, 1, []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{slot.imageAvailable},
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{slot.renderFinished},
	}}, slot.fence)
	if err := vkcontext.CheckResult(ret, "vkQueueSubmit(frame)"); err != nil {
		return err
	}

	b.frame++
	slot.frameIndex = b.frame
	return nil
}

func (b *vulkanBackend) presentFrame() error {
	slot := b.ring.current()
	err := b.swapchain.Present(b.ctx.PresentQueue, slot.renderFinished, b.imageIndex)

	// The submission succeeded either way; move to the next slot so its
	// fence gates reuse.
	b.ring.advance()
	return err
}

// recreateSwapchain rebuilds the swapchain and its dependents for the
// current pending extent. The pipeline cache drops its entries only if the
// surface format actually changed.
func (b *vulkanBackend) recreateSwapchain() error {
	if b.pendingExtent.IsZero() {
		return nil
	}
	if err := b.ctx.WaitIdle(); err != nil {
		return err
	}

	b.destroyFramebuffers()
	b.destroyColorTarget()
	oldFormat := b.swapchain.Format
	if err := b.swapchain.Reinit(b.pendingExtent); err != nil {
		return err
	}

	if b.swapchain.Format != oldFormat {
		vk.DestroyRenderPass(b.ctx.Device, b.renderPass, nil)
		b.renderPass = vk.NullRenderPass
		if err := b.createRenderPass(); err != nil {
			return err
		}
	}
	if err := b.createColorTarget(); err != nil {
		return err
	}
	if err := b.createFramebuffers(); err != nil {
		return err
	}
	b.cache.SetTarget(b.renderPass, b.swapchain.Format)
	return nil
}

func (b *vulkanBackend) resize(extent common.Extent2D) {
	b.pendingExtent = extent
	b.resizePending = true
}

func (b *vulkanBackend) setEnvironment(ibl *environment.IBL) {
	b.ibl = ibl
}

// createRenderPass builds the frame render pass. With multisampling the
// color attachment is the offscreen MSAA target and the swapchain image
// becomes the resolve destination; without it the swapchain image is drawn
// to directly.
func (b *vulkanBackend) createRenderPass() error {
	multisampled := b.samples != vk.SampleCount1Bit

	colorFinalLayout := vk.ImageLayoutPresentSrc
	colorStoreOp := vk.AttachmentStoreOpStore
	if multisampled {
		colorFinalLayout = vk.ImageLayoutColorAttachmentOptimal
		colorStoreOp = vk.AttachmentStoreOpDontCare
	}

	attachments := []vk.AttachmentDescription{
		{
			Format:         b.swapchain.Format,
			Samples:        b.samples,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        colorStoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    colorFinalLayout,
		},
		{
			Format:         b.swapchain.DepthFormat,
			Samples:        b.samples,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	colorRef := vk.AttachmentReference{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}
	depthRef := vk.AttachmentReference{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vk.AttachmentReference{colorRef},
		PDepthStencilAttachment: &depthRef,
	}

	if multisampled {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         b.swapchain.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		})
		subpass.PResolveAttachments = []vk.AttachmentReference{
			{Attachment: 2, Layout: vk.ImageLayoutColorAttachmentOptimal},
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentWriteBit),
	}

	ret := vk.CreateRenderPass(b.ctx.Device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}, nil, &b.renderPass)
	return vkcontext.CheckResult(ret, "vkCreateRenderPass")
}

// createColorTarget allocates the offscreen multisampled color image. A
// no-op without multisampling, where the swapchain images are drawn to
// directly.
func (b *vulkanBackend) createColorTarget() error {
	if b.samples == vk.SampleCount1Bit {
		return nil
	}
	dev := b.ctx.Device

	ret := vk.CreateImage(dev, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    b.swapchain.Format,
		Extent:    vk.Extent3D{Width: b.swapchain.Extent.Width, Height: b.swapchain.Extent.Height, Depth: 1},
		MipLevels: 1, ArrayLayers: 1,
		Samples:     b.samples,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransientAttachmentBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.msaaImage)
	if err := vkcontext.CheckResult(ret, "vkCreateImage(msaa)"); err != nil {
		return err
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, b.msaaImage, &memReqs)
	memReqs.Deref()

	memType, ok := vkcontext.FindMemoryType(b.ctx.MemoryProps, memReqs.MemoryTypeBits,
		vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		return errs.NewResourceExhausted("msaa image memory", uint64(memReqs.Size), nil)
	}
	ret = vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &b.msaaMemory)
	if err := vkcontext.CheckResult(ret, "vkAllocateMemory(msaa)"); err != nil {
		return errs.NewResourceExhausted("msaa image", uint64(memReqs.Size), err)
	}
	vk.BindImageMemory(dev, b.msaaImage, b.msaaMemory, 0)

	ret = vk.CreateImageView(dev, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    b.msaaImage,
		ViewType: vk.ImageViewType2d,
		Format:   b.swapchain.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &b.msaaView)
	return vkcontext.CheckResult(ret, "vkCreateImageView(msaa)")
}

func (b *vulkanBackend) destroyColorTarget() {
	dev := b.ctx.Device
	if b.msaaView != vk.NullImageView {
		vk.DestroyImageView(dev, b.msaaView, nil)
		b.msaaView = vk.NullImageView
	}
	if b.msaaImage != vk.NullImage {
		vk.DestroyImage(dev, b.msaaImage, nil)
		b.msaaImage = vk.NullImage
	}
	if b.msaaMemory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, b.msaaMemory, nil)
		b.msaaMemory = vk.NullDeviceMemory
	}
}

func (b *vulkanBackend) createFramebuffers() error {
	for _, view := range b.swapchain.Views {
		attachments := []vk.ImageView{view, b.swapchain.DepthView}
		if b.samples != vk.SampleCount1Bit {
			// MSAA target is drawn to; the swapchain image only receives
			// the resolve.
			attachments = []vk.ImageView{b.msaaView, b.swapchain.DepthView, view}
		}
		var fb vk.Framebuffer
		ret := vk.CreateFramebuffer(b.ctx.Device, &vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      b.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           b.swapchain.Extent.Width,
			Height:          b.swapchain.Extent.Height,
			Layers:          1,
		}, nil, &fb)
		if err := vkcontext.CheckResult(ret, "vkCreateFramebuffer"); err != nil {
			return err
		}
		b.framebuffers = append(b.framebuffers, fb)
	}
	return nil
}

func (b *vulkanBackend) destroyFramebuffers() {
	for _, fb := range b.framebuffers {
		vk.DestroyFramebuffer(b.ctx.Device, fb, nil)
	}
	b.framebuffers = nil
}

func (b *vulkanBackend) createHostBuffer(size uint64, usage vk.BufferUsageFlagBits) (hostBuffer, error) {
	var hb hostBuffer
	dev := b.ctx.Device

	ret := vk.CreateBuffer(dev, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &hb.buf)
	if err := vkcontext.CheckResult(ret, "vkCreateBuffer(uniform)"); err != nil {
		return hb, err
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, hb.buf, &memReqs)
	memReqs.Deref()

	memType, ok := vkcontext.FindMemoryType(b.ctx.MemoryProps, memReqs.MemoryTypeBits,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if !ok {
		vk.DestroyBuffer(dev, hb.buf, nil)
		return hb, errs.NewResourceExhausted("uniform memory type", size, nil)
	}
	ret = vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &hb.mem)
	if err := vkcontext.CheckResult(ret, "vkAllocateMemory(uniform)"); err != nil {
		vk.DestroyBuffer(dev, hb.buf, nil)
		return hb, errs.NewResourceExhausted("uniform buffer", size, err)
	}
	vk.BindBufferMemory(dev, hb.buf, hb.mem, 0)

	var ptr unsafe.Pointer
	ret = vk.MapMemory(dev, hb.mem, 0, vk.DeviceSize(size), 0, &ptr)
	if err := vkcontext.CheckResult(ret, "vkMapMemory(uniform)"); err != nil {
		vk.FreeMemory(dev, hb.mem, nil)
		vk.DestroyBuffer(dev, hb.buf, nil)
		return hb, err
	}
	hb.ptr = ptr
	return hb, nil
}

// writeFrameUniforms copies the camera state into the current slot's UBO.
func (b *vulkanBackend) writeFrameUniforms() {
	var block [frameUBOSize / 4]float32
	copy(block[0:16], b.view[:])
	copy(block[16:32], b.proj[:])
	block[32] = b.camPos[0]
	block[33] = b.camPos[1]
	block[34] = b.camPos[2]
	if b.ibl != nil {
		block[36] = float32(b.ibl.PrefilteredMips)
	}

	dst := unsafe.Slice((*float32)(b.uniforms[b.ring.next].ptr), len(block))
	copy(dst, block[:])
}

// allocFrameSet allocates and writes the per-frame descriptor set: UBO plus
// the three environment textures (defaults when no environment is loaded).
func (b *vulkanBackend) allocFrameSet(slot *frameSlot) (vk.DescriptorSet, error) {
	set, err := b.allocSet(slot, b.cache.FrameSetLayout())
	if err != nil {
		return vk.NullDescriptorSet, err
	}

	irr, pre, lut, err := b.environmentHandles()
	if err != nil {
		return vk.NullDescriptorSet, err
	}

	writes := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: b.uniforms[b.ring.next].buf,
			Range:  frameUBOSize,
		}},
	}}
	for i, h := range []resource.TextureHandle{irr, pre, lut} {
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      uint32(1 + i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler:     b.resources.TextureSampler(h),
				ImageView:   b.resources.TextureView(h),
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}},
		})
	}
	vk.UpdateDescriptorSets(b.ctx.Device, uint32(len(writes)), writes, 0, nil)
	return set, nil
}

func (b *vulkanBackend) environmentHandles() (resource.TextureHandle, resource.TextureHandle, resource.TextureHandle, error) {
	if b.ibl != nil {
		return b.ibl.Irradiance, b.ibl.Prefiltered, b.ibl.BRDFLUT, nil
	}
	white, err := b.resources.DefaultTexture()
	if err != nil {
		return 0, 0, 0, err
	}
	return white, white, white, nil
}

func (b *vulkanBackend) allocMaterialSet(slot *frameSlot, mat *scene.Material) (vk.DescriptorSet, error) {
	set, err := b.allocSet(slot, b.cache.MaterialSetLayout())
	if err != nil {
		return vk.NullDescriptorSet, err
	}

	writes := make([]vk.WriteDescriptorSet, len(mat.Textures))
	for i, h := range mat.Textures {
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler:     b.resources.TextureSampler(h),
				ImageView:   b.resources.TextureView(h),
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}},
		}
	}
	vk.UpdateDescriptorSets(b.ctx.Device, uint32(len(writes)), writes, 0, nil)
	return set, nil
}

func (b *vulkanBackend) allocSet(slot *frameSlot, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	sets := make([]vk.DescriptorSet, 1)
	ret := vk.AllocateDescriptorSets(b.ctx.Device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     slot.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}, &sets[0])
	if err := vkcontext.CheckResult(ret, "vkAllocateDescriptorSets(frame)"); err != nil {
		return vk.NullDescriptorSet, errs.NewResourceExhausted("descriptor set", 0, err)
	}
	return sets[0], nil
}

// packPushConstants lays out the model matrix and material factors in the
// shader's push constant block.
func packPushConstants(world [16]float32, mat *scene.Material) [pipeline.PushConstantSize / 4]float32 {
	var push [pipeline.PushConstantSize / 4]float32
	copy(push[0:16], world[:])
	copy(push[16:20], mat.BaseColorFactor[:])
	push[20] = mat.MetallicFactor
	push[21] = mat.RoughnessFactor
	push[22] = mat.NormalScale
	push[23] = mat.OcclusionStrength
	push[24] = mat.EmissiveFactor[0]
	push[25] = mat.EmissiveFactor[1]
	push[26] = mat.EmissiveFactor[2]
	push[27] = mat.AlphaCutoff
	return push
}

func (b *vulkanBackend) waitIdle() error {
	return b.ctx.WaitIdle()
}

func (b *vulkanBackend) Destroy() {
	dev := b.ctx.Device

	for _, ub := range b.uniforms {
		if ub.ptr != nil {
			vk.UnmapMemory(dev, ub.mem)
		}
		if ub.mem != vk.NullDeviceMemory {
			vk.FreeMemory(dev, ub.mem, nil)
		}
		if ub.buf != vk.NullBuffer {
			vk.DestroyBuffer(dev, ub.buf, nil)
		}
	}
	b.uniforms = nil

	if b.ring != nil {
		b.ring.Destroy()
		b.ring = nil
	}
	b.destroyFramebuffers()
	b.destroyColorTarget()
	if b.renderPass != vk.NullRenderPass {
		vk.DestroyRenderPass(dev, b.renderPass, nil)
		b.renderPass = vk.NullRenderPass
	}
	if b.swapchain != nil {
		b.swapchain.Destroy()
		b.swapchain = nil
	}
}
