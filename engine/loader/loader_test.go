package loader

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismgfx/prism/engine/scenedesc"
)

// buildTriangleGLTF writes a .gltf file with one triangle, one material, and
// one translation animation, with all binary data embedded as a data URI.
func buildTriangleGLTF(t *testing.T) string {
	t.Helper()

	var buf []byte
	appendF32 := func(vals ...float32) {
		for _, v := range vals {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}

	// Positions at offset 0: 3 * vec3.
	appendF32(0, 0, 0, 1, 0, 0, 0, 1, 0)
	// Indices at offset 36: 3 * u16, plus 2 bytes padding to realign.
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = append(buf, 0, 0)
	// Animation times at offset 44: 2 scalars.
	appendF32(0, 1)
	// Animation translations at offset 52: 2 * vec3.
	appendF32(0, 0, 0, 5, 0, 0)

	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf)

	doc := fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "tri", "mesh": 0, "translation": [1, 2, 3]}],
  "meshes": [{
    "name": "triangle",
    "primitives": [{
      "attributes": {"POSITION": 0},
      "indices": 1,
      "material": 0
    }]
  }],
  "materials": [{
    "name": "red",
    "pbrMetallicRoughness": {
      "baseColorFactor": [1, 0, 0, 1],
      "metallicFactor": 0.25,
      "roughnessFactor": 0.75
    },
    "alphaMode": "MASK",
    "alphaCutoff": 0.3,
    "doubleSided": true
  }],
  "animations": [{
    "name": "slide",
    "channels": [{"sampler": 0, "target": {"node": 0, "path": "translation"}}],
    "samplers": [{"input": 2, "output": 3, "interpolation": "LINEAR"}]
  }],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"},
    {"bufferView": 1, "componentType": 5123, "count": 3, "type": "SCALAR"},
    {"bufferView": 2, "componentType": 5126, "count": 2, "type": "SCALAR"},
    {"bufferView": 3, "componentType": 5126, "count": 2, "type": "VEC3"}
  ],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 36},
    {"buffer": 0, "byteOffset": 36, "byteLength": 6},
    {"buffer": 0, "byteOffset": 44, "byteLength": 8},
    {"buffer": 0, "byteOffset": 52, "byteLength": 24}
  ],
  "buffers": [{"uri": "%s", "byteLength": %d}]
}`, uri, len(buf))

	path := filepath.Join(t.TempDir(), "triangle.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadTriangle(t *testing.T) {
	l := NewLoader()
	desc, err := l.Load(buildTriangleGLTF(t))
	require.NoError(t, err)

	require.Len(t, desc.Nodes, 1)
	assert.Equal(t, "tri", desc.Nodes[0].Name)
	assert.Equal(t, [3]float32{1, 2, 3}, desc.Nodes[0].Translation)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, desc.Nodes[0].Rotation)
	assert.Equal(t, []int{0}, desc.RootNodes)

	require.Len(t, desc.Meshes, 1)
	require.Len(t, desc.Meshes[0].Primitives, 1)
	prim := &desc.Meshes[0].Primitives[0]
	require.Len(t, prim.Vertices, 3)
	assert.Equal(t, [3]float32{1, 0, 0}, prim.Vertices[1].Position)
	assert.Equal(t, []uint32{0, 1, 2}, prim.Indices)
	assert.Equal(t, [3]float32{0, 0, 0}, prim.BoundsMin)
	assert.Equal(t, [3]float32{1, 1, 0}, prim.BoundsMax)
}

func TestLoadMaterial(t *testing.T) {
	l := NewLoader()
	desc, err := l.Load(buildTriangleGLTF(t))
	require.NoError(t, err)

	require.Len(t, desc.Materials, 1)
	mat := &desc.Materials[0]
	assert.Equal(t, [4]float32{1, 0, 0, 1}, mat.BaseColorFactor)
	assert.InDelta(t, 0.25, mat.MetallicFactor, 1e-6)
	assert.InDelta(t, 0.75, mat.RoughnessFactor, 1e-6)
	assert.Equal(t, scenedesc.AlphaMask, mat.AlphaMode)
	assert.InDelta(t, 0.3, mat.AlphaCutoff, 1e-6)
	assert.True(t, mat.DoubleSided)
}

func TestLoadAnimation(t *testing.T) {
	l := NewLoader()
	desc, err := l.Load(buildTriangleGLTF(t))
	require.NoError(t, err)

	require.Len(t, desc.Animations, 1)
	anim := &desc.Animations[0]
	assert.Equal(t, "slide", anim.Name)
	require.Len(t, anim.Channels, 1)

	ch := &anim.Channels[0]
	assert.Equal(t, 0, ch.Node)
	assert.Equal(t, scenedesc.PathTranslation, ch.Path)
	assert.Equal(t, scenedesc.InterpolationLinear, ch.Interpolation)
	assert.Equal(t, []float32{0, 1}, ch.Times)
	assert.Equal(t, [3]float32{5, 0, 0}, ch.Vec3Values[1])
	assert.InDelta(t, 1.0, anim.Duration(), 1e-6)
}

func TestLoadRejectsShortAnimationOutput(t *testing.T) {
	var buf []byte
	appendF32 := func(vals ...float32) {
		for _, v := range vals {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	// Two keyframe times at offset 0, but only one translation at offset 8.
	appendF32(0, 1)
	appendF32(5, 0, 0)

	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf)

	doc := fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "n"}],
  "animations": [{
    "name": "truncated",
    "channels": [{"sampler": 0, "target": {"node": 0, "path": "translation"}}],
    "samplers": [{"input": 0, "output": 1, "interpolation": "LINEAR"}]
  }],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 2, "type": "SCALAR"},
    {"bufferView": 1, "componentType": 5126, "count": 1, "type": "VEC3"}
  ],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 8},
    {"buffer": 0, "byteOffset": 8, "byteLength": 12}
  ],
  "buffers": [{"uri": "%s", "byteLength": %d}]
}`, uri, len(buf))

	path := filepath.Join(t.TempDir(), "truncated.gltf")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := NewLoader().Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output accessor")
}

func TestLoadSkipAnimations(t *testing.T) {
	l := NewLoader(WithSkipAnimations(true))
	desc, err := l.Load(buildTriangleGLTF(t))
	require.NoError(t, err)
	assert.Empty(t, desc.Animations)
}

func TestLoadGLBContainer(t *testing.T) {
	jsonChunk := []byte(`{"asset":{"version":"2.0"},"scenes":[{"nodes":[]}]}`)
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, ' ')
	}

	var glb []byte
	glb = binary.LittleEndian.AppendUint32(glb, glbMagic)
	glb = binary.LittleEndian.AppendUint32(glb, 2)
	glb = binary.LittleEndian.AppendUint32(glb, uint32(12+8+len(jsonChunk)))
	glb = binary.LittleEndian.AppendUint32(glb, uint32(len(jsonChunk)))
	glb = binary.LittleEndian.AppendUint32(glb, glbChunkJSON)
	glb = append(glb, jsonChunk...)

	path := filepath.Join(t.TempDir(), "empty.glb")
	require.NoError(t, os.WriteFile(path, glb, 0o644))

	desc, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Empty(t, desc.Nodes)
}

func TestLoadRejectsBadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.gltf")
	require.NoError(t, os.WriteFile(path, []byte(`{"asset":{"version":"1.0"}}`), 0o644))

	_, err := NewLoader().Load(path)
	assert.ErrorIs(t, err, errInvalidGLTFVersion)
}

func TestDecomposeTRS(t *testing.T) {
	// Pure translation with uniform scale 2.
	m := [16]float32{
		2, 0, 0, 0,
		0, 2, 0, 0,
		0, 0, 2, 0,
		3, 4, 5, 1,
	}
	tr, rot, sc, err := decomposeTRS(m)
	require.NoError(t, err)
	assert.Equal(t, [3]float32{3, 4, 5}, tr)
	assert.InDelta(t, 2.0, sc[0], 1e-6)
	assert.InDelta(t, 2.0, sc[1], 1e-6)
	assert.InDelta(t, 2.0, sc[2], 1e-6)
	assert.InDelta(t, 1.0, rot[3], 1e-6)

	// 90 degrees about Y.
	m = [16]float32{
		0, 0, -1, 0,
		0, 1, 0, 0,
		1, 0, 0, 0,
		0, 0, 0, 1,
	}
	_, rot, _, err = decomposeTRS(m)
	require.NoError(t, err)
	half := float32(math.Sqrt2 / 2)
	assert.InDelta(t, half, rot[1], 1e-5)
	assert.InDelta(t, half, rot[3], 1e-5)

	// Degenerate matrix rejected.
	_, _, _, err = decomposeTRS([16]float32{})
	assert.Error(t, err)
}
