package resource

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/vkcontext"
)

// stagingAlign is the offset alignment used for regions packed into one
// staging buffer. 256 satisfies optimalBufferCopyOffsetAlignment on every
// device the engine targets.
const stagingAlign = 256

// stagingBuffer is one host-visible, persistently mapped buffer from the
// transient pool. Buffers are leased to an upload batch and returned to the
// free list once the batch's fence signals.
type stagingBuffer struct {
	buf  vk.Buffer
	mem  vk.DeviceMemory
	ptr  unsafe.Pointer
	size uint64
}

// ensure grows the buffer to at least size bytes, freeing any previous
// allocation first. Contents are not preserved.
func (sb *stagingBuffer) ensure(ctx *vkcontext.Context, size uint64) error {
	if sb.size >= size {
		return nil
	}
	sb.free(ctx)

	// Grow geometrically so repeated batches converge on a stable size.
	alloc := sb.size
	if alloc == 0 {
		alloc = 1 << 20
	}
	for alloc < size {
		alloc *= 2
	}

	var buf vk.Buffer
	ret := vk.CreateBuffer(ctx.Device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(alloc),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if err := vkcontext.CheckResult(ret, "vkCreateBuffer(staging)"); err != nil {
		return err
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device, buf, &memReqs)
	memReqs.Deref()

	memType, ok := vkcontext.FindMemoryType(ctx.MemoryProps, memReqs.MemoryTypeBits,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if !ok {
		vk.DestroyBuffer(ctx.Device, buf, nil)
		return errs.NewResourceExhausted("staging memory type", uint64(memReqs.Size), errors.New("no host-visible coherent memory"))
	}

	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(ctx.Device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if err := vkcontext.CheckResult(ret, "vkAllocateMemory(staging)"); err != nil {
		vk.DestroyBuffer(ctx.Device, buf, nil)
		return errs.NewResourceExhausted("staging buffer", alloc, err)
	}
	vk.BindBufferMemory(ctx.Device, buf, mem, 0)

	var ptr unsafe.Pointer
	ret = vk.MapMemory(ctx.Device, mem, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr)
	if err := vkcontext.CheckResult(ret, "vkMapMemory(staging)"); err != nil {
		vk.FreeMemory(ctx.Device, mem, nil)
		vk.DestroyBuffer(ctx.Device, buf, nil)
		return err
	}

	sb.buf = buf
	sb.mem = mem
	sb.ptr = ptr
	sb.size = alloc
	return nil
}

// write copies data into the mapped buffer at offset.
func (sb *stagingBuffer) write(offset uint64, data []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Add(sb.ptr, offset)), len(data))
	copy(dst, data)
}

// free unmaps and releases the buffer.
func (sb *stagingBuffer) free(ctx *vkcontext.Context) {
	if sb.size == 0 {
		return
	}
	vk.UnmapMemory(ctx.Device, sb.mem)
	vk.FreeMemory(ctx.Device, sb.mem, nil)
	vk.DestroyBuffer(ctx.Device, sb.buf, nil)
	sb.buf = vk.NullBuffer
	sb.mem = vk.NullDeviceMemory
	sb.ptr = nil
	sb.size = 0
}

// alignUp rounds v up to the next multiple of align (a power of two).
func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
