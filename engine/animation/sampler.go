// Package animation samples keyframed transform channels and writes the
// results into the scene graph's local transforms.
package animation

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/scene"
	"github.com/prismgfx/prism/engine/scenedesc"
)

// TransformTarget is the subset of the scene graph a sampler writes to.
type TransformTarget interface {
	HasNode(h scene.NodeHandle) bool
	SetTranslation(h scene.NodeHandle, t [3]float32) bool
	SetRotation(h scene.NodeHandle, q [4]float32) bool
	SetScale(h scene.NodeHandle, s [3]float32) bool
}

// sampler is the implementation of the Sampler interface.
type sampler struct {
	mu *sync.Mutex

	clip     *scenedesc.Animation
	duration float32

	clock float32
	loop  bool
	speed float32

	warned map[scene.NodeHandle]bool
}

// Sampler drives one animation clip. Advance moves an internal clock; Sample
// evaluates every channel at a given time and writes the node transforms.
type Sampler interface {
	// Duration returns the clip length in seconds.
	Duration() float32

	// Time returns the sampler's current clock position.
	Time() float32

	// Seek sets the clock to t (clamped, or wrapped when looping).
	Seek(t float32)

	// Advance moves the clock by dt scaled by the playback speed, wrapping
	// when looping and clamping at the clip end otherwise.
	//
	// Parameters:
	//   - dt: elapsed wall time in seconds
	//
	// Returns:
	//   - float32: the new clock position
	Advance(dt float32) float32

	// Sample evaluates every channel at time t and writes the resulting
	// transforms to the target. Times outside the keyframe range clamp to
	// the first or last keyframe. Channels naming a missing node are
	// skipped with a one-time warning.
	//
	// Parameters:
	//   - t: the sample time in seconds
	//   - target: the scene graph receiving the transforms
	Sample(t float32, target TransformTarget)

	// Step advances the clock by dt and samples at the new position.
	//
	// Parameters:
	//   - dt: elapsed wall time in seconds
	//   - target: the scene graph receiving the transforms
	Step(dt float32, target TransformTarget)
}

// Ensure sampler implements Sampler.
var _ Sampler = &sampler{}

// NewSampler creates a Sampler for one animation clip.
//
// Parameters:
//   - clip: the clip to drive
//   - options: functional options
//
// Returns:
//   - Sampler: the sampler
func NewSampler(clip *scenedesc.Animation, options ...SamplerBuilderOption) Sampler {
	s := &sampler{
		mu:       &sync.Mutex{},
		clip:     clip,
		duration: clip.Duration(),
		loop:     true,
		speed:    1,
		warned:   map[scene.NodeHandle]bool{},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *sampler) Duration() float32 {
	return s.duration
}

func (s *sampler) Time() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *sampler) Seek(t float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.wrap(t)
}

func (s *sampler) Advance(dt float32) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.wrap(s.clock + dt*s.speed)
	return s.clock
}

// wrap folds t into [0, duration] per the playback mode.
func (s *sampler) wrap(t float32) float32 {
	if s.duration <= 0 {
		return 0
	}
	if !s.loop {
		if t < 0 {
			return 0
		}
		if t > s.duration {
			return s.duration
		}
		return t
	}
	for t >= s.duration {
		t -= s.duration
	}
	for t < 0 {
		t += s.duration
	}
	return t
}

func (s *sampler) Step(dt float32, target TransformTarget) {
	s.Sample(s.Advance(dt), target)
}

func (s *sampler) Sample(t float32, target TransformTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.clip.Channels {
		ch := &s.clip.Channels[i]
		if len(ch.Times) == 0 {
			continue
		}

		h := scene.NodeHandle(ch.Node)
		if !target.HasNode(h) {
			if !s.warned[h] {
				s.warned[h] = true
				logger.Warn("animation channel targets missing node; skipping",
					zap.String("clip", s.clip.Name),
					zap.Int("node", ch.Node),
				)
			}
			continue
		}

		switch ch.Path {
		case scenedesc.PathRotation:
			target.SetRotation(h, sampleQuat(ch, t))
		case scenedesc.PathTranslation:
			target.SetTranslation(h, sampleVec3(ch, t))
		case scenedesc.PathScale:
			target.SetScale(h, sampleVec3(ch, t))
		}
	}
}

// interval locates t within the channel's keyframe times: the lower keyframe
// index and the normalized fraction toward the next one. Times outside the
// range clamp to the endpoints.
func interval(times []float32, t float32) (int, float32) {
	n := len(times)
	if t <= times[0] {
		return 0, 0
	}
	if t >= times[n-1] {
		return n - 1, 0
	}

	// First index with times[i] > t; the lower keyframe is one before it.
	i := sort.Search(n, func(i int) bool { return times[i] > t }) - 1
	span := times[i+1] - times[i]
	if span <= 0 {
		return i, 0
	}
	return i, (t - times[i]) / span
}

func sampleVec3(ch *scenedesc.Channel, t float32) [3]float32 {
	i, frac := interval(ch.Times, t)
	a := ch.Vec3Values[i]
	if ch.Interpolation == scenedesc.InterpolationStep || frac == 0 {
		return a
	}
	b := ch.Vec3Values[i+1]
	return [3]float32{
		a[0] + (b[0]-a[0])*frac,
		a[1] + (b[1]-a[1])*frac,
		a[2] + (b[2]-a[2])*frac,
	}
}

func sampleQuat(ch *scenedesc.Channel, t float32) [4]float32 {
	i, frac := interval(ch.Times, t)
	a := ch.QuatValues[i]
	if ch.Interpolation == scenedesc.InterpolationStep || frac == 0 {
		return a
	}
	b := ch.QuatValues[i+1]

	qa := mgl32.Quat{W: a[3], V: mgl32.Vec3{a[0], a[1], a[2]}}
	qb := mgl32.Quat{W: b[3], V: mgl32.Vec3{b[0], b[1], b[2]}}

	// Take the shorter arc: antipodal quaternions encode the same rotation.
	if qa.Dot(qb) < 0 {
		qb = qb.Scale(-1)
	}
	q := mgl32.QuatSlerp(qa, qb, frac).Normalize()
	return [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}
