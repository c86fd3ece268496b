package camera

// OrbitControllerBuilderOption configures an OrbitController during
// construction.
type OrbitControllerBuilderOption func(*orbitControllerImpl)

// WithTarget sets the initial orbit center.
//
// Parameters:
//   - x, y, z: the target point
//
// Returns:
//   - OrbitControllerBuilderOption: option function to apply
func WithTarget(x, y, z float32) OrbitControllerBuilderOption {
	return func(c *orbitControllerImpl) {
		c.target = [3]float32{x, y, z}
	}
}

// WithRadius sets the initial orbit distance.
//
// Parameters:
//   - radius: the orbit distance (values <= 0 are ignored)
//
// Returns:
//   - OrbitControllerBuilderOption: option function to apply
func WithRadius(radius float32) OrbitControllerBuilderOption {
	return func(c *orbitControllerImpl) {
		if radius > 0 {
			c.radius = radius
		}
	}
}

// WithRadiusLimits sets the zoom clamp range.
//
// Parameters:
//   - minRadius: closest allowed distance
//   - maxRadius: farthest allowed distance
//
// Returns:
//   - OrbitControllerBuilderOption: option function to apply
func WithRadiusLimits(minRadius, maxRadius float32) OrbitControllerBuilderOption {
	return func(c *orbitControllerImpl) {
		if minRadius > 0 && maxRadius > minRadius {
			c.minRadius = minRadius
			c.maxRadius = maxRadius
		}
	}
}

// WithAngles sets the initial azimuth and elevation in radians.
//
// Parameters:
//   - azimuth: horizontal angle
//   - elevation: vertical angle (clamped short of the poles)
//
// Returns:
//   - OrbitControllerBuilderOption: option function to apply
func WithAngles(azimuth, elevation float32) OrbitControllerBuilderOption {
	return func(c *orbitControllerImpl) {
		c.azimuth = azimuth
		if elevation > elevationLimit {
			elevation = elevationLimit
		}
		if elevation < -elevationLimit {
			elevation = -elevationLimit
		}
		c.elevation = elevation
	}
}

// WithZoomSpeed sets the exponential zoom rate per scroll increment.
//
// Parameters:
//   - speed: the zoom rate (values <= 0 are ignored)
//
// Returns:
//   - OrbitControllerBuilderOption: option function to apply
func WithZoomSpeed(speed float32) OrbitControllerBuilderOption {
	return func(c *orbitControllerImpl) {
		if speed > 0 {
			c.zoomSpeed = speed
		}
	}
}
