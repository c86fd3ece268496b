package vkcontext

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/engine/logger"
)

var deviceExtensions = []string{vk.KhrSwapchainExtensionName}

// queueFamilies holds the queue family indices selected for a device.
type queueFamilies struct {
	graphics *uint32
	present  *uint32
	transfer *uint32 // dedicated transfer-only family, may be nil
}

func (q *queueFamilies) complete() bool {
	return q.graphics != nil && q.present != nil
}

// selectPhysicalDevice picks the first suitable device, preferring discrete
// GPUs over integrated ones.
func (c *Context) selectPhysicalDevice() error {
	var count uint32
	if err := CheckResult(vk.EnumeratePhysicalDevices(c.Instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no vulkan-capable device found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := CheckResult(vk.EnumeratePhysicalDevices(c.Instance, &count, devices), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}

	var fallback vk.PhysicalDevice
	for _, pd := range devices {
		if !c.deviceSuitable(pd) {
			continue
		}
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			c.PhysicalDevice = pd
			break
		}
		if fallback == nil {
			fallback = pd
		}
	}
	if c.PhysicalDevice == nil {
		if fallback == nil {
			return errors.New("no suitable physical device found")
		}
		c.PhysicalDevice = fallback
	}

	vk.GetPhysicalDeviceProperties(c.PhysicalDevice, &c.Properties)
	c.Properties.Deref()
	c.Properties.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(c.PhysicalDevice, &c.MemoryProps)
	c.MemoryProps.Deref()

	return nil
}

func (c *Context) deviceSuitable(pd vk.PhysicalDevice) bool {
	fams := findQueueFamilies(pd, c.Surface)
	if !fams.complete() {
		return false
	}
	if !supportsExtensions(pd, deviceExtensions) {
		return false
	}

	// Needs at least one surface format and present mode.
	var formatCount, modeCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, c.Surface, &formatCount, nil)
	vk.GetPhysicalDeviceSurfacePresentModes(pd, c.Surface, &modeCount, nil)
	return formatCount > 0 && modeCount > 0
}

func findQueueFamilies(pd vk.PhysicalDevice, surface vk.Surface) queueFamilies {
	var fams queueFamilies

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, props)

	for i := uint32(0); i < count; i++ {
		props[i].Deref()
		flags := props[i].QueueFlags

		if fams.graphics == nil && flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			idx := i
			fams.graphics = &idx
		}

		// Dedicated transfer family: transfer-capable but not graphics.
		if fams.transfer == nil &&
			flags&vk.QueueFlags(vk.QueueTransferBit) != 0 &&
			flags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			idx := i
			fams.transfer = &idx
		}

		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, i, surface, &supported)
		if fams.present == nil && supported == vk.True {
			idx := i
			fams.present = &idx
		}
	}

	return fams
}

func supportsExtensions(pd vk.PhysicalDevice, required []string) bool {
	var count uint32
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil)
	props := make([]vk.ExtensionProperties, count)
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, props)

	available := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		available[vk.ToString(props[i].ExtensionName[:])] = true
	}
	for _, ext := range required {
		if !available[ext] {
			return false
		}
	}
	return true
}

// createLogicalDevice creates the device with one queue per unique family
// and fetches the queue handles.
func (c *Context) createLogicalDevice() error {
	fams := findQueueFamilies(c.PhysicalDevice, c.Surface)
	if !fams.complete() {
		return errors.New("selected device lost required queue families")
	}

	c.GraphicsFamily = *fams.graphics
	c.PresentFamily = *fams.present
	c.TransferFamily = c.GraphicsFamily
	if fams.transfer != nil {
		c.TransferFamily = *fams.transfer
	}

	unique := map[uint32]bool{
		c.GraphicsFamily: true,
		c.PresentFamily:  true,
		c.TransferFamily: true,
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(unique))
	for fam := range unique {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: fam,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	features := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
	}

	var device vk.Device
	ret := vk.CreateDevice(c.PhysicalDevice, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: terminatedStrings(deviceExtensions),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
	}, nil, &device)
	if err := CheckResult(ret, "vkCreateDevice"); err != nil {
		return err
	}
	c.Device = device

	vk.GetDeviceQueue(c.Device, c.GraphicsFamily, 0, &c.GraphicsQueue)
	vk.GetDeviceQueue(c.Device, c.PresentFamily, 0, &c.PresentQueue)
	if c.TransferFamily != c.GraphicsFamily {
		vk.GetDeviceQueue(c.Device, c.TransferFamily, 0, &c.TransferQueue)
		logger.Debug("using dedicated transfer queue", zap.Uint32("family", c.TransferFamily))
	} else {
		c.TransferQueue = c.GraphicsQueue
	}

	return nil
}
