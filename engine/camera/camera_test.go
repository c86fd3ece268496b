package camera

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrbitControllerPositionOnSphere(t *testing.T) {
	c := NewOrbitController(WithRadius(10), WithAngles(0, 0))

	x, y, z := c.Position()
	assert.InDelta(t, 0.0, x, 1e-5)
	assert.InDelta(t, 0.0, y, 1e-5)
	assert.InDelta(t, 10.0, z, 1e-5)

	c.Rotate(float32(math.Pi/2), 0)
	x, _, z = c.Position()
	assert.InDelta(t, 10.0, x, 1e-4)
	assert.InDelta(t, 0.0, z, 1e-4)
}

func TestOrbitControllerClampsElevation(t *testing.T) {
	c := NewOrbitController(WithRadius(5))

	c.Rotate(0, 100)
	_, y, _ := c.Position()
	// Clamped short of the pole: height stays strictly below the radius.
	assert.Less(t, y, float32(5))
	assert.Greater(t, y, float32(4.9))
}

func TestOrbitControllerZoomClamps(t *testing.T) {
	c := NewOrbitController(WithRadius(5), WithRadiusLimits(1, 20))

	c.Zoom(1000)
	assert.InDelta(t, 1.0, c.Radius(), 1e-5)

	c.Zoom(-10000)
	assert.InDelta(t, 20.0, c.Radius(), 1e-5)
}

func TestOrbitControllerFrame(t *testing.T) {
	c := NewOrbitController()
	c.Frame([3]float32{-1, -1, -1}, [3]float32{3, 1, 1})

	tx, ty, tz := c.Target()
	assert.InDelta(t, 1.0, tx, 1e-5)
	assert.InDelta(t, 0.0, ty, 1e-5)
	assert.InDelta(t, 0.0, tz, 1e-5)
	assert.Greater(t, c.Radius(), float32(4))
}

func TestCameraUpdatesMatricesFromController(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(10), WithAngles(0, 0))
	cam := NewCamera(WithController(ctrl), WithAspect(16.0/9.0))

	view := cam.ViewMatrix()
	// The camera sits at (0,0,10) looking at the origin: the view transform
	// moves the eye to the view-space origin.
	assert.InDelta(t, -10.0, view[14], 1e-4)

	ctrl.Rotate(float32(math.Pi), 0)
	cam.Update()
	view2 := cam.ViewMatrix()
	assert.NotEqual(t, view, view2)
}

func TestCameraDoesNothingWithoutController(t *testing.T) {
	cam := NewCamera()
	require.Nil(t, cam.Controller())

	before := cam.ViewMatrix()
	cam.Update()
	assert.Equal(t, before, cam.ViewMatrix())
}
