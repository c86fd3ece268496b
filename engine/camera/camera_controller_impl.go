package camera

import (
	"math"
	"sync"
)

// elevationLimit keeps the camera off the poles where the up vector and the
// view direction become parallel.
const elevationLimit = float32(math.Pi/2) - 0.01

type orbitControllerImpl struct {
	mu *sync.Mutex

	target    [3]float32
	azimuth   float32
	elevation float32
	radius    float32

	minRadius float32
	maxRadius float32

	zoomSpeed float32
}

var _ OrbitController = &orbitControllerImpl{}

// NewOrbitController creates an OrbitController centered on the origin.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - OrbitController: the newly created controller
func NewOrbitController(options ...OrbitControllerBuilderOption) OrbitController {
	c := &orbitControllerImpl{
		mu:        &sync.Mutex{},
		elevation: 0.3,
		radius:    5,
		minRadius: 0.05,
		maxRadius: 10000,
		zoomSpeed: 0.1,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *orbitControllerImpl) Position() (x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cosE := float32(math.Cos(float64(c.elevation)))
	return c.target[0] + c.radius*cosE*float32(math.Sin(float64(c.azimuth))),
		c.target[1] + c.radius*float32(math.Sin(float64(c.elevation))),
		c.target[2] + c.radius*cosE*float32(math.Cos(float64(c.azimuth)))
}

func (c *orbitControllerImpl) Target() (x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target[0], c.target[1], c.target[2]
}

func (c *orbitControllerImpl) Rotate(dAzimuth, dElevation float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.azimuth += dAzimuth
	c.elevation += dElevation
	if c.elevation > elevationLimit {
		c.elevation = elevationLimit
	}
	if c.elevation < -elevationLimit {
		c.elevation = -elevationLimit
	}
}

func (c *orbitControllerImpl) Zoom(delta float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.radius *= float32(math.Exp(float64(-delta * c.zoomSpeed)))
	if c.radius < c.minRadius {
		c.radius = c.minRadius
	}
	if c.radius > c.maxRadius {
		c.radius = c.maxRadius
	}
}

func (c *orbitControllerImpl) Pan(dx, dy float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sinA := float32(math.Sin(float64(c.azimuth)))
	cosA := float32(math.Cos(float64(c.azimuth)))

	// Slide along the orbit frame's right vector and world up.
	c.target[0] += dx * cosA
	c.target[2] += -dx * sinA
	c.target[1] += dy
}

func (c *orbitControllerImpl) SetTarget(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = [3]float32{x, y, z}
}

func (c *orbitControllerImpl) Frame(boundsMin, boundsMax [3]float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.target = [3]float32{
		(boundsMin[0] + boundsMax[0]) * 0.5,
		(boundsMin[1] + boundsMax[1]) * 0.5,
		(boundsMin[2] + boundsMax[2]) * 0.5,
	}

	var extent float64
	for a := 0; a < 3; a++ {
		d := float64(boundsMax[a] - boundsMin[a])
		extent += d * d
	}
	r := float32(math.Sqrt(extent)) * 1.2
	if r < c.minRadius {
		r = c.minRadius
	}
	if r > c.maxRadius {
		r = c.maxRadius
	}
	c.radius = r
}

func (c *orbitControllerImpl) Radius() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radius
}
