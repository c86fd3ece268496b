package animation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismgfx/prism/engine/scene"
	"github.com/prismgfx/prism/engine/scenedesc"
)

// fakeTarget records transform writes keyed by node handle.
type fakeTarget struct {
	nodes        int
	translations map[scene.NodeHandle][3]float32
	rotations    map[scene.NodeHandle][4]float32
	scales       map[scene.NodeHandle][3]float32
}

func newFakeTarget(nodes int) *fakeTarget {
	return &fakeTarget{
		nodes:        nodes,
		translations: map[scene.NodeHandle][3]float32{},
		rotations:    map[scene.NodeHandle][4]float32{},
		scales:       map[scene.NodeHandle][3]float32{},
	}
}

func (f *fakeTarget) HasNode(h scene.NodeHandle) bool {
	return h >= 0 && int(h) < f.nodes
}

func (f *fakeTarget) SetTranslation(h scene.NodeHandle, t [3]float32) bool {
	f.translations[h] = t
	return true
}

func (f *fakeTarget) SetRotation(h scene.NodeHandle, q [4]float32) bool {
	f.rotations[h] = q
	return true
}

func (f *fakeTarget) SetScale(h scene.NodeHandle, s [3]float32) bool {
	f.scales[h] = s
	return true
}

func translationClip(interp scenedesc.Interpolation) *scenedesc.Animation {
	return &scenedesc.Animation{
		Name: "move",
		Channels: []scenedesc.Channel{{
			Node:          0,
			Path:          scenedesc.PathTranslation,
			Interpolation: interp,
			Times:         []float32{0, 1, 2},
			Vec3Values:    [][3]float32{{0, 0, 0}, {10, 0, 0}, {10, 20, 0}},
		}},
	}
}

func TestSampleLinearInterpolates(t *testing.T) {
	s := NewSampler(translationClip(scenedesc.InterpolationLinear))
	target := newFakeTarget(1)

	s.Sample(0.5, target)
	assert.InDelta(t, 5.0, target.translations[0][0], 1e-5)

	s.Sample(1.5, target)
	assert.InDelta(t, 10.0, target.translations[0][0], 1e-5)
	assert.InDelta(t, 10.0, target.translations[0][1], 1e-5)
}

func TestSampleStepHoldsLowerKeyframe(t *testing.T) {
	s := NewSampler(translationClip(scenedesc.InterpolationStep))
	target := newFakeTarget(1)

	s.Sample(0.99, target)
	assert.InDelta(t, 0.0, target.translations[0][0], 1e-5)

	// An exact keyframe time yields exactly that keyframe.
	s.Sample(1.0, target)
	assert.InDelta(t, 10.0, target.translations[0][0], 1e-5)

	s.Sample(1.01, target)
	assert.InDelta(t, 10.0, target.translations[0][0], 1e-5)
}

func TestSampleClampsOutsideKeyframeRange(t *testing.T) {
	s := NewSampler(translationClip(scenedesc.InterpolationLinear))
	target := newFakeTarget(1)

	s.Sample(-5, target)
	assert.Equal(t, [3]float32{0, 0, 0}, target.translations[0])

	s.Sample(100, target)
	assert.Equal(t, [3]float32{10, 20, 0}, target.translations[0])
}

func TestSampleSlerpTakesShortestPath(t *testing.T) {
	// Identity to 90 degrees about Y, with the second keyframe negated;
	// -q encodes the same rotation, so the blend must not swing the long
	// way around.
	half := float32(math.Sqrt(0.5))
	clip := &scenedesc.Animation{
		Name: "turn",
		Channels: []scenedesc.Channel{{
			Node:          0,
			Path:          scenedesc.PathRotation,
			Interpolation: scenedesc.InterpolationLinear,
			Times:         []float32{0, 1},
			QuatValues:    [][4]float32{{0, 0, 0, 1}, {0, -half, 0, -half}},
		}},
	}

	s := NewSampler(clip)
	target := newFakeTarget(1)
	s.Sample(0.5, target)

	q := target.rotations[0]
	// Halfway along the short arc is 45 degrees about Y.
	assert.InDelta(t, math.Sin(math.Pi/8), math.Abs(float64(q[1])), 1e-4)
	assert.InDelta(t, math.Cos(math.Pi/8), math.Abs(float64(q[3])), 1e-4)
	// Same sign: the result stays in the hemisphere of the start keyframe.
	assert.True(t, q[1]*q[3] > 0 || q[1] == 0)
}

func TestAdvanceLoopsAndClamps(t *testing.T) {
	clip := translationClip(scenedesc.InterpolationLinear)

	looped := NewSampler(clip)
	assert.InDelta(t, 0.5, looped.Advance(2.5), 1e-5)

	clamped := NewSampler(clip, WithLoop(false))
	assert.InDelta(t, 2.0, clamped.Advance(2.5), 1e-5)
	assert.InDelta(t, 2.0, clamped.Advance(1), 1e-5)
}

func TestAdvanceAppliesSpeed(t *testing.T) {
	s := NewSampler(translationClip(scenedesc.InterpolationLinear), WithLoop(false), WithSpeed(2))
	assert.InDelta(t, 1.0, s.Advance(0.5), 1e-5)
}

func TestSampleSkipsMissingNode(t *testing.T) {
	clip := &scenedesc.Animation{
		Name: "orphan",
		Channels: []scenedesc.Channel{{
			Node:          7,
			Path:          scenedesc.PathTranslation,
			Interpolation: scenedesc.InterpolationLinear,
			Times:         []float32{0, 1},
			Vec3Values:    [][3]float32{{0, 0, 0}, {1, 1, 1}},
		}},
	}

	s := NewSampler(clip)
	target := newFakeTarget(1)
	require.NotPanics(t, func() {
		s.Sample(0.5, target)
		s.Sample(0.75, target)
	})
	assert.Empty(t, target.translations)
}
