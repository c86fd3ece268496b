package resource

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestReleaseQueueHoldsUntilFrameCompletes(t *testing.T) {
	var q releaseQueue
	destroyed := []int{}

	q.push(5, func() { destroyed = append(destroyed, 5) })
	q.push(6, func() { destroyed = append(destroyed, 6) })
	q.push(8, func() { destroyed = append(destroyed, 8) })

	// Nothing completed yet.
	assert.Equal(t, 0, q.collect(4))
	assert.Empty(t, destroyed)
	assert.Equal(t, 3, q.pending())

	// Frame 6 done: entries for frames 5 and 6 are reclaimed, 8 is not.
	assert.Equal(t, 2, q.collect(6))
	assert.Equal(t, []int{5, 6}, destroyed)
	assert.Equal(t, 1, q.pending())

	// Collecting the same frame again is a no-op.
	assert.Equal(t, 0, q.collect(6))

	assert.Equal(t, 1, q.collect(8))
	assert.Equal(t, []int{5, 6, 8}, destroyed)
	assert.Equal(t, 0, q.pending())
}

func TestUploadBarrierVisibleToComputeSampling(t *testing.T) {
	_, dstStage, _, dstAccess := transitionMasks(
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)

	// The lighting precompute samples uploaded textures from compute, so the
	// post-upload barrier must reach that stage as well as fragment shading.
	assert.NotZero(t, dstStage&vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit))
	assert.NotZero(t, dstStage&vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	assert.NotZero(t, dstAccess&vk.AccessFlags(vk.AccessShaderReadBit))
}

func TestReleaseQueueDrain(t *testing.T) {
	var q releaseQueue
	count := 0

	q.push(10, func() { count++ })
	q.push(20, func() { count++ })

	assert.Equal(t, 2, q.drain())
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, q.pending())
}
