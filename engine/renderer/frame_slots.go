package renderer

import (
	"math"

	vk "github.com/goki/vulkan"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// frameSlot holds the per-frame-in-flight objects: one command buffer, one
// transient descriptor pool, the fence gating slot reuse, and the two
// semaphores ordering acquire -> render -> present.
type frameSlot struct {
	cmd      vk.CommandBuffer
	descPool vk.DescriptorPool

	fence          vk.Fence
	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore

	// frameIndex is the global frame number last submitted on this slot,
	// used to retire deferred resource releases.
	frameIndex uint64
}

// slotRing cycles through N frame slots round-robin. waitSlot blocks on the
// slot's fence, so at most N frames are ever in flight: asking for slot N+1
// waits until the oldest frame's GPU work completes.
type slotRing struct {
	ctx   *vkcontext.Context
	pool  vk.CommandPool
	slots []*frameSlot
	next  int
}

// newSlotRing creates count slots with signaled fences so first use does not
// block.
func newSlotRing(ctx *vkcontext.Context, count int) (*slotRing, error) {
	r := &slotRing{ctx: ctx}

	ret := vk.CreateCommandPool(ctx.Device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.GraphicsFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &r.pool)
	if err := vkcontext.CheckResult(ret, "vkCreateCommandPool(frames)"); err != nil {
		return nil, err
	}

	cmds := make([]vk.CommandBuffer, count)
	ret = vk.AllocateCommandBuffers(ctx.Device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        r.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}, cmds)
	if err := vkcontext.CheckResult(ret, "vkAllocateCommandBuffers(frames)"); err != nil {
		r.Destroy()
		return nil, err
	}

	for i := 0; i < count; i++ {
		slot := &frameSlot{cmd: cmds[i]}

		ret = vk.CreateFence(ctx.Device, &vk.FenceCreateInfo{
			SType: vk.StructureTypeFenceCreateInfo,
			Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
		}, nil, &slot.fence)
		if err := vkcontext.CheckResult(ret, "vkCreateFence(frame)"); err != nil {
			r.Destroy()
			return nil, err
		}

		for _, sem := range []*vk.Semaphore{&slot.imageAvailable, &slot.renderFinished} {
			ret = vk.CreateSemaphore(ctx.Device, &vk.SemaphoreCreateInfo{
				SType: vk.StructureTypeSemaphoreCreateInfo,
			}, nil, sem)
			if err := vkcontext.CheckResult(ret, "vkCreateSemaphore(frame)"); err != nil {
				r.Destroy()
				return nil, err
			}
		}

		ret = vk.CreateDescriptorPool(ctx.Device, &vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			MaxSets:       maxSetsPerFrame,
			PoolSizeCount: 2,
			PPoolSizes: []vk.DescriptorPoolSize{
				{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: maxSetsPerFrame},
				{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: maxSetsPerFrame * 8},
			},
		}, nil, &slot.descPool)
		if err := vkcontext.CheckResult(ret, "vkCreateDescriptorPool(frame)"); err != nil {
			r.Destroy()
			return nil, err
		}

		r.slots = append(r.slots, slot)
	}
	return r, nil
}

// maxSetsPerFrame bounds the transient descriptor sets one frame can
// allocate: one frame set plus one per distinct material drawn.
const maxSetsPerFrame = 512

// current returns the slot the next frame will use, without advancing.
func (r *slotRing) current() *frameSlot {
	return r.slots[r.next]
}

// waitCurrent blocks until the current slot's previous submission finished,
// then resets its fence and descriptor pool for reuse.
func (r *slotRing) waitCurrent() error {
	slot := r.current()
	ret := vk.WaitForFences(r.ctx.Device, 1, []vk.Fence{slot.fence}, vk.True, math.MaxUint64)
	if ret == vk.ErrorDeviceLost {
		return errs.NewDeviceLost("vkWaitForFences(frame)")
	}
	if err := vkcontext.CheckResult(ret, "vkWaitForFences(frame)"); err != nil {
		return err
	}
	vk.ResetFences(r.ctx.Device, 1, []vk.Fence{slot.fence})
	vk.ResetDescriptorPool(r.ctx.Device, slot.descPool, 0)
	return nil
}

// advance moves to the next slot after a successful submission.
func (r *slotRing) advance() {
	r.next = (r.next + 1) % len(r.slots)
}

// completedFrame returns the highest frame index guaranteed finished on the
// GPU: the minimum submitted index across slots, since each slot's previous
// work is fence-waited before reuse.
func (r *slotRing) completedFrame() uint64 {
	var minIdx uint64 = math.MaxUint64
	for _, s := range r.slots {
		if s.frameIndex < minIdx {
			minIdx = s.frameIndex
		}
	}
	if minIdx == math.MaxUint64 {
		return 0
	}
	return minIdx
}

func (r *slotRing) Destroy() {
	dev := r.ctx.Device
	for _, s := range r.slots {
		if s.fence != vk.NullFence {
			vk.DestroyFence(dev, s.fence, nil)
		}
		if s.imageAvailable != vk.NullSemaphore {
			vk.DestroySemaphore(dev, s.imageAvailable, nil)
		}
		if s.renderFinished != vk.NullSemaphore {
			vk.DestroySemaphore(dev, s.renderFinished, nil)
		}
		if s.descPool != vk.NullDescriptorPool {
			vk.DestroyDescriptorPool(dev, s.descPool, nil)
		}
	}
	r.slots = nil
	if r.pool != vk.NullCommandPool {
		vk.DestroyCommandPool(dev, r.pool, nil)
		r.pool = vk.NullCommandPool
	}
}
