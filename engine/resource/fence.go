package resource

import (
	"math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/prismgfx/prism/engine/vkcontext"
)

// UploadFence gates use of freshly uploaded resources: a resource staged in
// a batch must not be bound for drawing until Wait returns (or Done reports
// true). The staging memory backing the batch is recycled only after the
// fence signals.
//
// Wait and Done are safe to call concurrently: the loading goroutine blocks
// in Wait while the render loop polls Done, and whichever observes the
// signal first retires the fence exactly once.
type UploadFence struct {
	mu *sync.Mutex

	ctx   *vkcontext.Context
	fence vk.Fence

	// staging is the leased buffer returned to the pool on completion.
	staging *stagingBuffer
	// onDone releases the lease back to the owning manager.
	onDone func(*stagingBuffer)

	// wait and poll are swappable so completion can be driven without a
	// device in tests.
	wait func() vk.Result
	poll func() vk.Result

	completed bool
}

// Wait blocks until the upload completes, then recycles the staging lease.
// Safe to call more than once.
//
// Returns:
//   - error: error if the fence wait fails
func (f *UploadFence) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed {
		return nil
	}
	if err := vkcontext.CheckResult(f.waitLocked(), "vkWaitForFences(upload)"); err != nil {
		return err
	}
	f.finishLocked()
	return nil
}

// Done polls the fence without blocking.
//
// Returns:
//   - bool: true once the upload has completed
func (f *UploadFence) Done() bool {
	// Another goroutine blocked in Wait holds the mutex and will retire the
	// fence itself; report pending rather than block the poll.
	if !f.mu.TryLock() {
		return false
	}
	defer f.mu.Unlock()
	if f.completed {
		return true
	}
	if f.pollLocked() != vk.Success {
		return false
	}
	f.finishLocked()
	return true
}

func (f *UploadFence) waitLocked() vk.Result {
	if f.wait != nil {
		return f.wait()
	}
	return vk.WaitForFences(f.ctx.Device, 1, []vk.Fence{f.fence}, vk.True, math.MaxUint64)
}

func (f *UploadFence) pollLocked() vk.Result {
	if f.poll != nil {
		return f.poll()
	}
	return vk.GetFenceStatus(f.ctx.Device, f.fence)
}

// finishLocked retires the fence and returns the staging lease. Caller must
// hold the mutex; the completed flag guarantees a single execution.
func (f *UploadFence) finishLocked() {
	f.completed = true
	if f.fence != vk.NullFence {
		vk.DestroyFence(f.ctx.Device, f.fence, nil)
		f.fence = vk.NullFence
	}
	if f.onDone != nil {
		f.onDone(f.staging)
		f.onDone = nil
	}
	f.staging = nil
}
