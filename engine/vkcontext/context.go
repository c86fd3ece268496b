// Package vkcontext owns the global Vulkan state: instance, surface,
// physical/logical device, and queues. A single Context is created at engine
// startup and passed by reference to every component that talks to the
// device, so teardown order stays explicit and nothing depends on
// process-wide singletons.
package vkcontext

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/logger"
)

// SurfaceSource abstracts the windowing layer's ability to create a
// presentable surface. Implemented by the window package over GLFW.
type SurfaceSource interface {
	// CreateSurface creates a window surface on the given instance.
	//
	// Parameters:
	//   - instance: the Vulkan instance
	//
	// Returns:
	//   - vk.Surface: the created surface
	//   - error: error if surface creation fails
	CreateSurface(instance vk.Instance) (vk.Surface, error)

	// RequiredExtensions lists the instance extensions the surface needs.
	//
	// Returns:
	//   - []string: extension names (not NUL-terminated)
	RequiredExtensions() []string
}

// Context holds the device-level Vulkan handles shared by all components.
type Context struct {
	Instance vk.Instance
	Surface  vk.Surface

	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	// TransferQueue is a dedicated transfer-only queue when the device
	// exposes one, otherwise it aliases GraphicsQueue.
	TransferQueue vk.Queue

	GraphicsFamily uint32
	PresentFamily  uint32
	TransferFamily uint32

	Properties  vk.PhysicalDeviceProperties
	MemoryProps vk.PhysicalDeviceMemoryProperties
}

// New creates the instance, surface, and logical device. The Vulkan loader
// must already be initialized (see window.PrepareVulkan).
//
// Parameters:
//   - src: surface source from the windowing layer
//   - appName: application name reported to the driver
//
// Returns:
//   - *Context: the initialized context
//   - error: error if any stage of device setup fails
func New(src SurfaceSource, appName string) (*Context, error) {
	c := &Context{}

	if err := c.createInstance(src.RequiredExtensions(), appName); err != nil {
		return nil, err
	}

	surface, err := src.CreateSurface(c.Instance)
	if err != nil {
		c.Destroy()
		return nil, errors.Wrap(err, "failed to create window surface")
	}
	c.Surface = surface

	if err := c.selectPhysicalDevice(); err != nil {
		c.Destroy()
		return nil, err
	}
	if err := c.createLogicalDevice(); err != nil {
		c.Destroy()
		return nil, err
	}

	logger.Info("vulkan context ready",
		zap.String("device", vk.ToString(c.Properties.DeviceName[:])),
		zap.Uint32("graphicsFamily", c.GraphicsFamily),
		zap.Uint32("presentFamily", c.PresentFamily),
		zap.Uint32("transferFamily", c.TransferFamily),
	)
	return c, nil
}

func (c *Context) createInstance(extensions []string, appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   terminated(appName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "prism\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: terminatedStrings(extensions),
	}, nil, &instance)
	if err := CheckResult(ret, "vkCreateInstance"); err != nil {
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		return errors.Wrap(err, "failed to init instance proc addrs")
	}
	c.Instance = instance
	return nil
}

// WaitIdle blocks until the device finishes all queued work.
//
// Returns:
//   - error: error if the wait fails (including device loss)
func (c *Context) WaitIdle() error {
	return CheckResult(vk.DeviceWaitIdle(c.Device), "vkDeviceWaitIdle")
}

// HasDedicatedTransfer reports whether uploads run on a transfer-only queue
// family distinct from graphics.
//
// Returns:
//   - bool: true when a dedicated transfer family was found
func (c *Context) HasDedicatedTransfer() bool {
	return c.TransferFamily != c.GraphicsFamily
}

// Destroy releases the device, surface, and instance. Safe to call on a
// partially initialized context.
func (c *Context) Destroy() {
	if c.Device != nil {
		vk.DestroyDevice(c.Device, nil)
		c.Device = nil
	}
	if c.Surface != vk.NullSurface {
		vk.DestroySurface(c.Instance, c.Surface, nil)
		c.Surface = vk.NullSurface
	}
	if c.Instance != nil {
		vk.DestroyInstance(c.Instance, nil)
		c.Instance = nil
	}
}

// CheckResult maps a Vulkan result code to the engine's error taxonomy.
// Success and Suboptimal map to nil; out-of-date must be handled by the
// caller before reaching this function when it is recoverable.
//
// Parameters:
//   - ret: the Vulkan result code
//   - op: the API call name, for error context
//
// Returns:
//   - error: nil on success, a taxonomy error otherwise
func CheckResult(ret vk.Result, op string) error {
	switch ret {
	case vk.Success, vk.Suboptimal:
		return nil
	case vk.ErrorDeviceLost:
		return errs.NewDeviceLost(op)
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory:
		return errs.NewResourceExhausted(op, 0, fmt.Errorf("vulkan result %d", ret))
	case vk.ErrorOutOfDate:
		return errs.ErrSurfaceStale
	default:
		return errors.Errorf("%s failed with vulkan result %d", op, ret)
	}
}

// FindMemoryType selects a device memory type index satisfying both the
// resource's type bits and the requested property flags.
//
// Parameters:
//   - props: the physical device memory properties
//   - typeBits: acceptable memory types from vkGet*MemoryRequirements
//   - required: required property flags (device-local, host-visible ...)
//
// Returns:
//   - uint32: the selected memory type index
//   - bool: false if no matching type exists
func FindMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, required vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		if props.MemoryTypes[i].PropertyFlags&vk.MemoryPropertyFlags(required) == vk.MemoryPropertyFlags(required) {
			return i, true
		}
	}
	return 0, false
}

// terminated returns s with a trailing NUL, as the C API expects.
func terminated(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\x00' {
		return s
	}
	return s + "\x00"
}

// terminatedStrings NUL-terminates every string in the slice.
func terminatedStrings(strs []string) []string {
	out := make([]string, len(strs))
	for i, s := range strs {
		out[i] = terminated(s)
	}
	return out
}
