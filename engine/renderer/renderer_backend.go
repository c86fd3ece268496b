package renderer

import (
	errs "github.com/prismgfx/prism/engine/errors"
)

// FrameState tracks where the frame loop is in its lifecycle. States advance
// strictly Idle -> Acquiring -> Recording -> Submitted -> Presenting -> Idle,
// with Recreating entered from Acquiring or Presenting when the surface goes
// stale.
type FrameState int

const (
	// StateIdle means no frame is in flight on this slot.
	StateIdle FrameState = iota

	// StateAcquiring means the loop is waiting for a swapchain image.
	StateAcquiring

	// StateRecording means the command buffer is being recorded.
	StateRecording

	// StateSubmitted means the command buffer is queued on the GPU.
	StateSubmitted

	// StatePresenting means the frame is being handed to the display.
	StatePresenting

	// StateRecreating means the swapchain is being rebuilt after a stale
	// surface; the in-progress frame is abandoned.
	StateRecreating
)

func (s FrameState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateSubmitted:
		return "submitted"
	case StatePresenting:
		return "presenting"
	case StateRecreating:
		return "recreating"
	default:
		return "unknown"
	}
}

// frameHooks are the five operations a backend supplies to drive one frame.
// acquire and present may fail with the stale-surface sentinel; any hook may
// fail with a fatal device error.
type frameHooks struct {
	acquire  func() error
	record   func() error
	submit   func() error
	present  func() error
	recreate func() error
}

// frameMachine sequences one frame through its states. A stale surface
// during acquire or present routes through Recreating and drops the frame;
// every other error aborts the frame and surfaces to the caller.
type frameMachine struct {
	state FrameState
	hooks frameHooks
}

// State returns the machine's current state.
func (m *frameMachine) State() FrameState {
	return m.state
}

// run advances one full frame. It always leaves the machine in StateIdle
// unless a non-recoverable error escapes, in which case the state reflects
// where the failure happened.
func (m *frameMachine) run() error {
	m.state = StateAcquiring
	if err := m.hooks.acquire(); err != nil {
		if errs.Is(err, errs.ErrSurfaceStale) {
			return m.recreate()
		}
		return err
	}

	m.state = StateRecording
	if err := m.hooks.record(); err != nil {
		return err
	}

	m.state = StateSubmitted
	if err := m.hooks.submit(); err != nil {
		return err
	}

	m.state = StatePresenting
	if err := m.hooks.present(); err != nil {
		if errs.Is(err, errs.ErrSurfaceStale) {
			return m.recreate()
		}
		return err
	}

	m.state = StateIdle
	return nil
}

// recreate rebuilds the presentable surface and returns to Idle. The frame
// that observed the stale surface is dropped, never retried mid-flight.
func (m *frameMachine) recreate() error {
	m.state = StateRecreating
	if err := m.hooks.recreate(); err != nil {
		return err
	}
	m.state = StateIdle
	return nil
}
