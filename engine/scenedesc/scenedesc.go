// Package scenedesc defines the already-parsed scene description consumed by
// the engine. A scene-format loader (glTF or otherwise) produces these
// structs; the engine never touches the on-disk format itself. All fields are
// read-only inputs from the engine's point of view.
package scenedesc

// AlphaMode selects how a material's alpha channel is interpreted.
type AlphaMode uint8

const (
	// AlphaOpaque ignores the alpha channel entirely.
	AlphaOpaque AlphaMode = iota
	// AlphaMask discards fragments whose alpha falls below the cutoff.
	AlphaMask
	// AlphaBlend composites fragments with standard alpha blending.
	AlphaBlend
)

// Interpolation selects how keyframe values are combined.
type Interpolation uint8

const (
	// InterpolationLinear blends the two surrounding keyframes
	// (spherical for rotations).
	InterpolationLinear Interpolation = iota
	// InterpolationStep holds the lower keyframe's value.
	InterpolationStep
)

// ChannelPath identifies which transform component a channel animates.
type ChannelPath uint8

const (
	PathTranslation ChannelPath = iota
	PathRotation
	PathScale
)

// Topology identifies the primitive assembly mode of a draw.
type Topology uint8

const (
	TopologyTriangles Topology = iota
	TopologyTriangleStrip
	TopologyLines
	TopologyPoints
)

// FilterMode selects texture sampling filtering.
type FilterMode uint8

const (
	FilterLinear FilterMode = iota
	FilterNearest
)

// WrapMode selects texture coordinate addressing outside [0, 1].
type WrapMode uint8

const (
	WrapRepeat WrapMode = iota
	WrapClampToEdge
	WrapMirroredRepeat
)

// Vertex is the interleaved per-vertex layout every primitive uses.
// Position/normal in model space, tangent with handedness in w.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	TexCoord [2]float32
	Tangent  [4]float32
}

// Description is the root of a parsed scene: flat arrays cross-referenced by
// index, plus the root node set. Indices out of range are rejected at load.
type Description struct {
	Nodes      []Node
	Meshes     []Mesh
	Materials  []Material
	Textures   []Texture
	Animations []Animation

	// RootNodes indexes into Nodes; the node graph must form a forest.
	RootNodes []int
}

// Node is one element of the transform hierarchy.
type Node struct {
	Name string

	Translation [3]float32
	// Rotation is a unit quaternion (x, y, z, w).
	Rotation [4]float32
	Scale    [3]float32

	// Children indexes into Description.Nodes, in draw order.
	Children []int

	// Mesh indexes into Description.Meshes, or nil for a pure transform node.
	Mesh *int
}

// Mesh is an ordered sequence of primitives sharing a node transform.
type Mesh struct {
	Name       string
	Primitives []Primitive
}

// Primitive is one indexed draw: geometry, a material reference, and a
// model-space bounding box.
type Primitive struct {
	Vertices []Vertex
	Indices  []uint32
	Topology Topology

	// Material indexes into Description.Materials, or nil for the default
	// material.
	Material *int

	BoundsMin [3]float32
	BoundsMax [3]float32
}

// Material carries PBR parameters and optional texture references.
// A nil texture index means the texture is absent and a flat default is
// substituted at load.
type Material struct {
	Name string

	BaseColorFactor   [4]float32
	MetallicFactor    float32
	RoughnessFactor   float32
	EmissiveFactor    [3]float32
	NormalScale       float32
	OcclusionStrength float32

	BaseColorTexture         *int
	MetallicRoughnessTexture *int
	NormalTexture            *int
	OcclusionTexture         *int
	EmissiveTexture          *int

	AlphaMode   AlphaMode
	AlphaCutoff float32
	DoubleSided bool
}

// Texture is decoded RGBA pixel data plus sampler state.
type Texture struct {
	Width  uint32
	Height uint32
	// Pixels is tightly packed RGBA, 4 bytes per texel.
	Pixels []byte

	MagFilter FilterMode
	MinFilter FilterMode
	WrapS     WrapMode
	WrapT     WrapMode
}

// Animation is a named set of channels sharing a timeline.
type Animation struct {
	Name     string
	Channels []Channel
}

// Channel animates one transform component of one node. Times are strictly
// increasing; Vec3Values or QuatValues is populated according to Path, with
// the same length as Times.
type Channel struct {
	// Node indexes into Description.Nodes.
	Node int

	Path          ChannelPath
	Interpolation Interpolation

	Times      []float32
	Vec3Values [][3]float32
	QuatValues [][4]float32
}

// Duration returns the largest keyframe timestamp across all channels.
//
// Returns:
//   - float32: the animation duration in seconds
func (a *Animation) Duration() float32 {
	var d float32
	for i := range a.Channels {
		ch := &a.Channels[i]
		if n := len(ch.Times); n > 0 && ch.Times[n-1] > d {
			d = ch.Times[n-1]
		}
	}
	return d
}
