package vkcontext

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/common"
	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/logger"
)

// Swapchain owns the presentable image chain plus the depth attachment that
// matches its extent. The renderer rebuilds its framebuffers whenever the
// swapchain is reinitialized.
type Swapchain struct {
	ctx *Context

	Handle     vk.Swapchain
	Format     vk.Format
	ColorSpace vk.ColorSpace
	Extent     vk.Extent2D

	Images []vk.Image
	Views  []vk.ImageView

	DepthFormat vk.Format
	DepthImage  vk.Image
	DepthMemory vk.DeviceMemory
	DepthView   vk.ImageView

	// Samples is the sample count of the depth attachment. The presentable
	// images are always single-sampled; a multisampled renderer resolves
	// into them.
	Samples vk.SampleCountFlagBits

	vsync bool
}

// NewSwapchain creates a swapchain sized to the given extent.
//
// Parameters:
//   - ctx: the device context
//   - extent: desired surface extent in pixels
//   - vsync: true selects FIFO presentation, false prefers mailbox/immediate
//   - samples: sample count for the depth attachment
//
// Returns:
//   - *Swapchain: the created swapchain
//   - error: error if creation fails
func NewSwapchain(ctx *Context, extent common.Extent2D, vsync bool, samples vk.SampleCountFlagBits) (*Swapchain, error) {
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	s := &Swapchain{ctx: ctx, vsync: vsync, Samples: samples}
	if err := s.init(extent, vk.NullSwapchain); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

// Reinit rebuilds the swapchain for a new extent, handing the old chain to
// the driver so in-flight presents can complete.
//
// Parameters:
//   - extent: the new surface extent in pixels
//
// Returns:
//   - error: error if recreation fails
func (s *Swapchain) Reinit(extent common.Extent2D) error {
	old := s.Handle
	s.freeImages()
	err := s.init(extent, old)
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(s.ctx.Device, old, nil)
	}
	if err != nil {
		return err
	}
	logger.Info("swapchain recreated",
		zap.Uint32("width", s.Extent.Width),
		zap.Uint32("height", s.Extent.Height),
	)
	return nil
}

func (s *Swapchain) init(extent common.Extent2D, old vk.Swapchain) error {
	dev := s.ctx.Device
	pd := s.ctx.PhysicalDevice
	surface := s.ctx.Surface

	var caps vk.SurfaceCapabilities
	if err := CheckResult(vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &caps), "vkGetPhysicalDeviceSurfaceCapabilities"); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	format, colorSpace := s.chooseFormat()
	presentMode := s.choosePresentMode()

	scExtent := vk.Extent2D{Width: extent.Width, Height: extent.Height}
	if caps.CurrentExtent.Width != 0xFFFFFFFF {
		scExtent = caps.CurrentExtent
	} else {
		scExtent.Width = clampU32(scExtent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
		scExtent.Height = clampU32(scExtent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	}

	imgCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imgCount > caps.MaxImageCount {
		imgCount = caps.MaxImageCount
	}

	sharingMode := vk.SharingModeExclusive
	var famIndices []uint32
	if s.ctx.GraphicsFamily != s.ctx.PresentFamily {
		sharingMode = vk.SharingModeConcurrent
		famIndices = []uint32{s.ctx.GraphicsFamily, s.ctx.PresentFamily}
	}

	var sc vk.Swapchain
	ret := vk.CreateSwapchain(dev, &vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               surface,
		MinImageCount:         imgCount,
		ImageFormat:           format,
		ImageColorSpace:       colorSpace,
		ImageExtent:           scExtent,
		ImageArrayLayers:      1,
		ImageUsage:            vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode:      sharingMode,
		QueueFamilyIndexCount: uint32(len(famIndices)),
		PQueueFamilyIndices:   famIndices,
		PreTransform:          caps.CurrentTransform,
		CompositeAlpha:        vk.CompositeAlphaOpaqueBit,
		PresentMode:           presentMode,
		Clipped:               vk.True,
		OldSwapchain:          old,
	}, nil, &sc)
	if err := CheckResult(ret, "vkCreateSwapchain"); err != nil {
		return err
	}

	s.Handle = sc
	s.Format = format
	s.ColorSpace = colorSpace
	s.Extent = scExtent

	var count uint32
	vk.GetSwapchainImages(dev, sc, &count, nil)
	s.Images = make([]vk.Image, count)
	vk.GetSwapchainImages(dev, sc, &count, s.Images)

	s.Views = make([]vk.ImageView, count)
	for i := range s.Images {
		ret := vk.CreateImageView(dev, &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    s.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}, nil, &s.Views[i])
		if err := CheckResult(ret, "vkCreateImageView"); err != nil {
			return err
		}
	}

	return s.createDepthTarget()
}

func (s *Swapchain) chooseFormat() (vk.Format, vk.ColorSpace) {
	var count uint32
	vk.GetPhysicalDeviceSurfaceFormats(s.ctx.PhysicalDevice, s.ctx.Surface, &count, nil)
	formats := make([]vk.SurfaceFormat, count)
	vk.GetPhysicalDeviceSurfaceFormats(s.ctx.PhysicalDevice, s.ctx.Surface, &count, formats)

	for i := range formats {
		formats[i].Deref()
		if formats[i].Format == vk.FormatB8g8r8a8Srgb && formats[i].ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return formats[i].Format, formats[i].ColorSpace
		}
	}
	if len(formats) > 0 {
		return formats[0].Format, formats[0].ColorSpace
	}
	return vk.FormatB8g8r8a8Srgb, vk.ColorSpaceSrgbNonlinear
}

func (s *Swapchain) choosePresentMode() vk.PresentMode {
	if s.vsync {
		return vk.PresentModeFifo
	}

	var count uint32
	vk.GetPhysicalDeviceSurfacePresentModes(s.ctx.PhysicalDevice, s.ctx.Surface, &count, nil)
	modes := make([]vk.PresentMode, count)
	vk.GetPhysicalDeviceSurfacePresentModes(s.ctx.PhysicalDevice, s.ctx.Surface, &count, modes)

	best := vk.PresentModeFifo
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
		if m == vk.PresentModeImmediate {
			best = m
		}
	}
	return best
}

func (s *Swapchain) createDepthTarget() error {
	dev := s.ctx.Device

	format, err := s.findDepthFormat()
	if err != nil {
		return err
	}
	s.DepthFormat = format

	var img vk.Image
	ret := vk.CreateImage(dev, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent:    vk.Extent3D{Width: s.Extent.Width, Height: s.Extent.Height, Depth: 1},
		MipLevels: 1, ArrayLayers: 1,
		Samples:     s.Samples,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &img)
	if err := CheckResult(ret, "vkCreateImage(depth)"); err != nil {
		return err
	}
	s.DepthImage = img

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, img, &memReqs)
	memReqs.Deref()

	memType, ok := FindMemoryType(s.ctx.MemoryProps, memReqs.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		return errs.NewResourceExhausted("depth image memory", uint64(memReqs.Size), errors.New("no device-local memory type"))
	}
	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if err := CheckResult(ret, "vkAllocateMemory(depth)"); err != nil {
		return err
	}
	s.DepthMemory = mem
	vk.BindImageMemory(dev, img, mem, 0)

	ret = vk.CreateImageView(dev, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &s.DepthView)
	return CheckResult(ret, "vkCreateImageView(depth)")
}

func (s *Swapchain) findDepthFormat() (vk.Format, error) {
	candidates := []vk.Format{vk.FormatD32Sfloat, vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint}
	for _, f := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(s.ctx.PhysicalDevice, f, &props)
		props.Deref()
		if props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) != 0 {
			return f, nil
		}
	}
	return vk.FormatUndefined, errors.New("no supported depth format")
}

// Acquire requests the next presentable image, signaling sem when it is
// ready for rendering.
//
// Parameters:
//   - timeout: acquire timeout in nanoseconds
//   - sem: semaphore signaled when the image is available
//
// Returns:
//   - uint32: index of the acquired image
//   - error: errs.ErrSurfaceStale when the chain is out of date, or a fatal error
func (s *Swapchain) Acquire(timeout uint64, sem vk.Semaphore) (uint32, error) {
	var idx uint32
	ret := vk.AcquireNextImage(s.ctx.Device, s.Handle, timeout, sem, vk.NullFence, &idx)
	if ret == vk.ErrorOutOfDate {
		return 0, errs.ErrSurfaceStale
	}
	if err := CheckResult(ret, "vkAcquireNextImage"); err != nil {
		return 0, err
	}
	return idx, nil
}

// Present queues presentation of the given image, gated on sem.
//
// Parameters:
//   - queue: the present queue
//   - sem: render-finished semaphore to wait on
//   - idx: the swapchain image index
//
// Returns:
//   - error: errs.ErrSurfaceStale when the chain is out of date or suboptimal,
//     or a fatal error
func (s *Swapchain) Present(queue vk.Queue, sem vk.Semaphore, idx uint32) error {
	ret := vk.QueuePresent(queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.Handle},
		PImageIndices:      []uint32{idx},
	})
	if ret == vk.ErrorOutOfDate || ret == vk.Suboptimal {
		return errs.ErrSurfaceStale
	}
	return CheckResult(ret, "vkQueuePresent")
}

func (s *Swapchain) freeImages() {
	dev := s.ctx.Device
	if s.DepthView != vk.NullImageView {
		vk.DestroyImageView(dev, s.DepthView, nil)
		s.DepthView = vk.NullImageView
	}
	if s.DepthImage != vk.NullImage {
		vk.DestroyImage(dev, s.DepthImage, nil)
		s.DepthImage = vk.NullImage
	}
	if s.DepthMemory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, s.DepthMemory, nil)
		s.DepthMemory = vk.NullDeviceMemory
	}
	for _, v := range s.Views {
		vk.DestroyImageView(dev, v, nil)
	}
	s.Views = nil
	s.Images = nil
}

// Destroy releases the swapchain and its derived images.
func (s *Swapchain) Destroy() {
	s.freeImages()
	if s.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.ctx.Device, s.Handle, nil)
		s.Handle = vk.NullSwapchain
	}
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
