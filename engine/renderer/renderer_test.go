package renderer

import (
	"sync"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/prismgfx/prism/engine/errors"
)

// hookRecorder builds frameHooks that append each invoked hook's name and
// return the configured error for that hook.
type hookRecorder struct {
	calls []string
	fail  map[string]error
}

func (h *hookRecorder) hooks() frameHooks {
	step := func(name string) func() error {
		return func() error {
			h.calls = append(h.calls, name)
			return h.fail[name]
		}
	}
	return frameHooks{
		acquire:  step("acquire"),
		record:   step("record"),
		submit:   step("submit"),
		present:  step("present"),
		recreate: step("recreate"),
	}
}

func TestFrameMachineRunsFullSequence(t *testing.T) {
	rec := &hookRecorder{}
	m := frameMachine{hooks: rec.hooks()}

	require.NoError(t, m.run())
	assert.Equal(t, []string{"acquire", "record", "submit", "present"}, rec.calls)
	assert.Equal(t, StateIdle, m.State())
}

func TestFrameMachineStaleAcquireRecreatesWithoutRecording(t *testing.T) {
	rec := &hookRecorder{fail: map[string]error{"acquire": errs.ErrSurfaceStale}}
	m := frameMachine{hooks: rec.hooks()}

	require.NoError(t, m.run())
	assert.Equal(t, []string{"acquire", "recreate"}, rec.calls)
	assert.Equal(t, StateIdle, m.State())
}

func TestFrameMachineStalePresentRecreatesAfterSubmit(t *testing.T) {
	rec := &hookRecorder{fail: map[string]error{"present": errs.ErrSurfaceStale}}
	m := frameMachine{hooks: rec.hooks()}

	require.NoError(t, m.run())
	assert.Equal(t, []string{"acquire", "record", "submit", "present", "recreate"}, rec.calls)
	assert.Equal(t, StateIdle, m.State())
}

func TestFrameMachineDeviceLostPropagates(t *testing.T) {
	lost := errs.NewDeviceLost("vkQueueSubmit(frame)")
	rec := &hookRecorder{fail: map[string]error{"submit": lost}}
	m := frameMachine{hooks: rec.hooks()}

	err := m.run()
	require.Error(t, err)

	var dl *errs.DeviceLostError
	assert.True(t, errs.As(err, &dl))
	assert.Equal(t, []string{"acquire", "record", "submit"}, rec.calls)
	assert.Equal(t, StateSubmitted, m.State())
}

func TestFrameMachineRecordErrorStopsBeforeSubmit(t *testing.T) {
	rec := &hookRecorder{fail: map[string]error{"record": errors.New("pipeline build failed")}}
	m := frameMachine{hooks: rec.hooks()}

	require.Error(t, m.run())
	assert.Equal(t, []string{"acquire", "record"}, rec.calls)
	assert.Equal(t, StateRecording, m.State())
}

func TestFrameMachineRecreateFailureSurfaces(t *testing.T) {
	rec := &hookRecorder{fail: map[string]error{
		"acquire":  errs.ErrSurfaceStale,
		"recreate": errors.New("swapchain creation failed"),
	}}
	m := frameMachine{hooks: rec.hooks()}

	require.Error(t, m.run())
	assert.Equal(t, StateRecreating, m.State())
}

func TestWithMSAASamplesRoundsDownToSupported(t *testing.T) {
	cases := map[int]int{
		0: 1, 1: 1, 2: 2, 3: 2, 4: 4, 5: 4, 7: 4, 8: 8, 16: 8, -1: 1,
	}
	for in, want := range cases {
		r := &renderer{}
		WithMSAASamples(in)(r)
		assert.Equal(t, want, r.msaaSamples, "samples=%d", in)
	}
}

func TestSampleCountFlag(t *testing.T) {
	cases := map[int]vk.SampleCountFlagBits{
		1: vk.SampleCount1Bit,
		2: vk.SampleCount2Bit,
		4: vk.SampleCount4Bit,
		8: vk.SampleCount8Bit,
		3: vk.SampleCount1Bit,
	}
	for in, want := range cases {
		assert.Equal(t, want, sampleCountFlag(in))
	}
}

func TestWaitIdleAfterDestroyIsNoOp(t *testing.T) {
	r := &renderer{mu: &sync.Mutex{}}
	assert.NoError(t, r.WaitIdle())
}

func TestWaitIdleExcludesConcurrentFrameWork(t *testing.T) {
	r := &renderer{mu: &sync.Mutex{}}

	r.mu.Lock()
	done := make(chan error, 1)
	go func() { done <- r.WaitIdle() }()

	select {
	case <-done:
		t.Fatal("WaitIdle ran while the frame lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	r.mu.Unlock()
	require.NoError(t, <-done)
}

func TestFrameStateStrings(t *testing.T) {
	cases := map[FrameState]string{
		StateIdle:       "idle",
		StateAcquiring:  "acquiring",
		StateRecording:  "recording",
		StateSubmitted:  "submitted",
		StatePresenting: "presenting",
		StateRecreating: "recreating",
		FrameState(99):  "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
