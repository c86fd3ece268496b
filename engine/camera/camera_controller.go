package camera

// CameraController supplies the camera's position and look target each frame.
type CameraController interface {
	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - x, y, z: position components
	Position() (x, y, z float32)

	// Target returns the world-space point the camera looks at.
	//
	// Returns:
	//   - x, y, z: target components
	Target() (x, y, z float32)
}

// OrbitController is a controller that circles a target point at a distance,
// driven by pointer drag and scroll input.
type OrbitController interface {
	CameraController

	// Rotate adjusts the azimuth and elevation angles by the given deltas in
	// radians. Elevation is clamped short of the poles to keep the view
	// matrix well defined.
	//
	// Parameters:
	//   - dAzimuth: horizontal angle delta in radians
	//   - dElevation: vertical angle delta in radians
	Rotate(dAzimuth, dElevation float32)

	// Zoom scales the orbit radius; positive deltas move the camera closer.
	//
	// Parameters:
	//   - delta: scroll-style zoom increment
	Zoom(delta float32)

	// Pan translates the target point in the camera's screen plane.
	//
	// Parameters:
	//   - dx: horizontal pan in world units
	//   - dy: vertical pan in world units
	Pan(dx, dy float32)

	// SetTarget moves the orbit center.
	//
	// Parameters:
	//   - x, y, z: the new target point
	SetTarget(x, y, z float32)

	// Frame repositions the orbit to enclose a world-space bounding box:
	// the target moves to its center and the radius pulls back far enough
	// to see all of it.
	//
	// Parameters:
	//   - boundsMin: minimum corner of the box
	//   - boundsMax: maximum corner of the box
	Frame(boundsMin, boundsMax [3]float32)

	// Radius returns the current orbit distance.
	Radius() float32
}
