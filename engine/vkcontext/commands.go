package vkcontext

import (
	"math"

	vk "github.com/goki/vulkan"
)

// CmdPool wraps a command pool plus a single primary buffer, used for
// one-time transfer and setup commands.
type CmdPool struct {
	Pool vk.CommandPool
	Buff vk.CommandBuffer

	family uint32
}

// NewCmdPool creates a command pool on the given queue family.
//
// Parameters:
//   - ctx: the device context
//   - family: queue family index the pool's buffers submit to
//   - flags: pool creation flags
//
// Returns:
//   - *CmdPool: the created pool
//   - error: error if pool creation fails
func NewCmdPool(ctx *Context, family uint32, flags vk.CommandPoolCreateFlagBits) (*CmdPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(ctx.Device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(flags),
	}, nil, &pool)
	if err := CheckResult(ret, "vkCreateCommandPool"); err != nil {
		return nil, err
	}
	return &CmdPool{Pool: pool, family: family}, nil
}

// BeginOneTime allocates (if needed) and begins the pool's buffer with the
// one-time-submit flag.
//
// Parameters:
//   - ctx: the device context
//
// Returns:
//   - vk.CommandBuffer: the recording buffer
//   - error: error if allocation or begin fails
func (cp *CmdPool) BeginOneTime(ctx *Context) (vk.CommandBuffer, error) {
	if cp.Buff == nil {
		buffs := make([]vk.CommandBuffer, 1)
		ret := vk.AllocateCommandBuffers(ctx.Device, &vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        cp.Pool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}, buffs)
		if err := CheckResult(ret, "vkAllocateCommandBuffers"); err != nil {
			return nil, err
		}
		cp.Buff = buffs[0]
	}

	ret := vk.BeginCommandBuffer(cp.Buff, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := CheckResult(ret, "vkBeginCommandBuffer"); err != nil {
		return nil, err
	}
	return cp.Buff, nil
}

// EndSubmitWait ends the buffer, submits it to the given queue, and blocks
// until the work completes via a throwaway fence.
//
// Parameters:
//   - ctx: the device context
//   - queue: the queue to submit to
//
// Returns:
//   - error: error if submit or wait fails
func (cp *CmdPool) EndSubmitWait(ctx *Context, queue vk.Queue) error {
	if err := CheckResult(vk.EndCommandBuffer(cp.Buff), "vkEndCommandBuffer"); err != nil {
		return err
	}

	var fence vk.Fence
	ret := vk.CreateFence(ctx.Device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	if err := CheckResult(ret, "vkCreateFence"); err != nil {
		return err
	}
	defer vk.DestroyFence(ctx.Device, fence, nil)

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cp.Buff},
	}
	if err := CheckResult(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submit}, fence), "vkQueueSubmit"); err != nil {
		return err
	}
	if err := CheckResult(vk.WaitForFences(ctx.Device, 1, []vk.Fence{fence}, vk.True, math.MaxUint64), "vkWaitForFences"); err != nil {
		return err
	}

	vk.ResetCommandBuffer(cp.Buff, 0)
	return nil
}

// EndSubmit ends the buffer and submits it signaling the provided fence,
// without blocking. The caller must not reuse the pool until the fence
// signals.
//
// Parameters:
//   - ctx: the device context
//   - queue: the queue to submit to
//   - fence: fence signaled when the work completes
//
// Returns:
//   - error: error if submit fails
func (cp *CmdPool) EndSubmit(ctx *Context, queue vk.Queue, fence vk.Fence) error {
	if err := CheckResult(vk.EndCommandBuffer(cp.Buff), "vkEndCommandBuffer"); err != nil {
		return err
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cp.Buff},
	}
	return CheckResult(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submit}, fence), "vkQueueSubmit")
}

// Destroy releases the pool and its buffer.
//
// Parameters:
//   - ctx: the device context
func (cp *CmdPool) Destroy(ctx *Context) {
	if cp.Pool == nil {
		return
	}
	vk.DestroyCommandPool(ctx.Device, cp.Pool, nil)
	cp.Pool = nil
	cp.Buff = nil
}
