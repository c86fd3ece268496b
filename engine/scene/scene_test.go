package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/resource"
	"github.com/prismgfx/prism/engine/scenedesc"
)

// fakeRegistrar records registrations without touching a GPU.
type fakeRegistrar struct {
	nextBuffer  resource.BufferHandle
	nextTexture resource.TextureHandle

	vertexBuffers int
	indexBuffers  int
	textures      int
	flushes       int

	releasedBuffers  []resource.BufferHandle
	releasedTextures []resource.TextureHandle

	white  resource.TextureHandle
	normal resource.TextureHandle
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{nextBuffer: 1, nextTexture: 1}
}

func (f *fakeRegistrar) BeginBatch() {}

func (f *fakeRegistrar) CreateVertexBuffer(data []byte) (resource.BufferHandle, error) {
	f.vertexBuffers++
	h := f.nextBuffer
	f.nextBuffer++
	return h, nil
}

func (f *fakeRegistrar) CreateIndexBuffer(data []byte) (resource.BufferHandle, error) {
	f.indexBuffers++
	h := f.nextBuffer
	f.nextBuffer++
	return h, nil
}

func (f *fakeRegistrar) CreateTexture(t *scenedesc.Texture) (resource.TextureHandle, error) {
	f.textures++
	h := f.nextTexture
	f.nextTexture++
	return h, nil
}

func (f *fakeRegistrar) DefaultTexture() (resource.TextureHandle, error) {
	if f.white == resource.NilTexture {
		f.white = f.nextTexture
		f.nextTexture++
	}
	return f.white, nil
}

func (f *fakeRegistrar) DefaultNormalTexture() (resource.TextureHandle, error) {
	if f.normal == resource.NilTexture {
		f.normal = f.nextTexture
		f.nextTexture++
	}
	return f.normal, nil
}

func (f *fakeRegistrar) FlushBatch() (*resource.UploadFence, error) {
	f.flushes++
	return nil, nil
}

func (f *fakeRegistrar) ReleaseBuffer(h resource.BufferHandle) {
	f.releasedBuffers = append(f.releasedBuffers, h)
}

func (f *fakeRegistrar) ReleaseTexture(h resource.TextureHandle) {
	f.releasedTextures = append(f.releasedTextures, h)
}

func intp(i int) *int { return &i }

func triangleMesh() scenedesc.Mesh {
	return scenedesc.Mesh{
		Name: "tri",
		Primitives: []scenedesc.Primitive{{
			Vertices: []scenedesc.Vertex{
				{Position: [3]float32{0, 0, 0}},
				{Position: [3]float32{1, 0, 0}},
				{Position: [3]float32{0, 1, 0}},
			},
			Indices:   []uint32{0, 1, 2},
			BoundsMin: [3]float32{0, 0, 0},
			BoundsMax: [3]float32{1, 1, 0},
		}},
	}
}

func TestNewSceneBuildsArena(t *testing.T) {
	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{
			{Name: "root", Children: []int{1, 2}},
			{Name: "child", Mesh: intp(0), Translation: [3]float32{1, 2, 3}},
			{Name: "empty"},
		},
		Meshes:    []scenedesc.Mesh{triangleMesh()},
		RootNodes: []int{0},
	}

	reg := newFakeRegistrar()
	s, err := NewScene(desc, reg)
	require.NoError(t, err)

	assert.Equal(t, 3, s.NodeCount())
	assert.Equal(t, []NodeHandle{0}, s.RootHandles())
	assert.Equal(t, []NodeHandle{1, 2}, s.Children(0))
	assert.Equal(t, 1, reg.vertexBuffers)
	assert.Equal(t, 1, reg.indexBuffers)
	assert.Equal(t, 1, reg.flushes)
}

func TestNewSceneRejectsCycle(t *testing.T) {
	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{
			{Name: "a", Children: []int{1}},
			{Name: "b", Children: []int{0}},
		},
		RootNodes: []int{0},
	}

	_, err := NewScene(desc, newFakeRegistrar())
	require.Error(t, err)
	var integrity *errs.SceneIntegrityError
	assert.True(t, errs.As(err, &integrity))
}

func TestNewSceneRejectsSharedChild(t *testing.T) {
	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{
			{Name: "a", Children: []int{2}},
			{Name: "b", Children: []int{2}},
			{Name: "shared"},
		},
		RootNodes: []int{0, 1},
	}

	_, err := NewScene(desc, newFakeRegistrar())
	require.Error(t, err)
	var integrity *errs.SceneIntegrityError
	assert.True(t, errs.As(err, &integrity))
}

func TestNewSceneRejectsDanglingIndices(t *testing.T) {
	cases := []struct {
		name string
		desc *scenedesc.Description
	}{
		{
			name: "child out of range",
			desc: &scenedesc.Description{
				Nodes:     []scenedesc.Node{{Name: "a", Children: []int{5}}},
				RootNodes: []int{0},
			},
		},
		{
			name: "mesh out of range",
			desc: &scenedesc.Description{
				Nodes:     []scenedesc.Node{{Name: "a", Mesh: intp(3)}},
				RootNodes: []int{0},
			},
		},
		{
			name: "root out of range",
			desc: &scenedesc.Description{
				Nodes:     []scenedesc.Node{{Name: "a"}},
				RootNodes: []int{7},
			},
		},
		{
			name: "material out of range",
			desc: &scenedesc.Description{
				Nodes: []scenedesc.Node{{Name: "a", Mesh: intp(0)}},
				Meshes: []scenedesc.Mesh{{
					Primitives: []scenedesc.Primitive{{
						Vertices: []scenedesc.Vertex{{}},
						Material: intp(9),
					}},
				}},
				RootNodes: []int{0},
			},
		},
		{
			name: "texture out of range",
			desc: &scenedesc.Description{
				Nodes: []scenedesc.Node{{Name: "a"}},
				Materials: []scenedesc.Material{{
					BaseColorTexture: intp(4),
				}},
				RootNodes: []int{0},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewScene(tc.desc, newFakeRegistrar())
			require.Error(t, err)
			var integrity *errs.SceneIntegrityError
			assert.True(t, errs.As(err, &integrity))
		})
	}
}

func TestWorldTransformComposition(t *testing.T) {
	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{
			{Name: "root", Translation: [3]float32{10, 0, 0}, Children: []int{1}},
			{Name: "child", Translation: [3]float32{0, 5, 0}, Scale: [3]float32{2, 2, 2}},
		},
		RootNodes: []int{0},
	}

	s, err := NewScene(desc, newFakeRegistrar())
	require.NoError(t, err)

	world, ok := s.WorldTransform(1)
	require.True(t, ok)
	// Column-major: translation in elements 12..14.
	assert.InDelta(t, 10.0, world[12], 1e-5)
	assert.InDelta(t, 5.0, world[13], 1e-5)
	assert.InDelta(t, 0.0, world[14], 1e-5)
	assert.InDelta(t, 2.0, world[0], 1e-5)
}

func TestSetTranslationDirtiesSubtree(t *testing.T) {
	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{
			{Name: "root", Children: []int{1}},
			{Name: "child", Translation: [3]float32{1, 0, 0}},
		},
		RootNodes: []int{0},
	}

	s, err := NewScene(desc, newFakeRegistrar())
	require.NoError(t, err)

	require.True(t, s.SetTranslation(0, [3]float32{0, 0, 7}))
	s.UpdateWorldTransforms()

	world, ok := s.WorldTransform(1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, world[12], 1e-5)
	assert.InDelta(t, 7.0, world[14], 1e-5)

	assert.False(t, s.SetTranslation(99, [3]float32{}))
	assert.False(t, s.SetRotation(NilNode, [4]float32{0, 0, 0, 1}))
}

func TestDrawBatchesGroupsBySignatureAndSortsBlend(t *testing.T) {
	mesh := func(z float32, material int) scenedesc.Mesh {
		return scenedesc.Mesh{
			Primitives: []scenedesc.Primitive{{
				Vertices:  []scenedesc.Vertex{{}},
				Material:  intp(material),
				BoundsMin: [3]float32{-0.5, -0.5, z - 0.5},
				BoundsMax: [3]float32{0.5, 0.5, z + 0.5},
			}},
		}
	}

	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{
			{Name: "opaqueA", Mesh: intp(0)},
			{Name: "opaqueB", Mesh: intp(1)},
			{Name: "blendNear", Mesh: intp(2)},
			{Name: "blendFar", Mesh: intp(3)},
		},
		Meshes: []scenedesc.Mesh{
			mesh(0, 0),
			mesh(0, 0),
			mesh(-1, 1),
			mesh(-10, 1),
		},
		Materials: []scenedesc.Material{
			{AlphaMode: scenedesc.AlphaOpaque},
			{AlphaMode: scenedesc.AlphaBlend},
		},
		RootNodes: []int{0, 1, 2, 3},
	}

	s, err := NewScene(desc, newFakeRegistrar(), WithFrustumCulling(false))
	require.NoError(t, err)

	var identity [16]float32
	identity[0], identity[5], identity[10], identity[15] = 1, 1, 1, 1

	list := s.DrawBatches(identity[:], identity[:])

	// Both opaque primitives share one signature and therefore one batch.
	require.Len(t, list.Opaque, 1)
	assert.Len(t, list.Opaque[0].Calls, 2)

	// Blend calls come farthest-first; z=-10 is deeper than z=-1 for a
	// camera looking down -Z.
	require.Len(t, list.Blend, 2)
	assert.InDelta(t, 10.0, list.Blend[0].Calls[0].Depth, 1e-5)
	assert.InDelta(t, 1.0, list.Blend[1].Calls[0].Depth, 1e-5)
}

func TestDrawBatchesSplitSharedMaterialByTopology(t *testing.T) {
	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{{Name: "mixed", Mesh: intp(0)}},
		Meshes: []scenedesc.Mesh{{
			Primitives: []scenedesc.Primitive{
				{
					Vertices: []scenedesc.Vertex{{}},
					Material: intp(0),
					Topology: scenedesc.TopologyTriangles,
				},
				{
					Vertices: []scenedesc.Vertex{{}},
					Material: intp(0),
					Topology: scenedesc.TopologyLines,
				},
			},
		}},
		Materials: []scenedesc.Material{{AlphaMode: scenedesc.AlphaOpaque}},
		RootNodes: []int{0},
	}

	s, err := NewScene(desc, newFakeRegistrar(), WithFrustumCulling(false))
	require.NoError(t, err)

	var identity [16]float32
	identity[0], identity[5], identity[10], identity[15] = 1, 1, 1, 1

	// Same material, different topologies: the primitives cannot share a
	// compiled pipeline, so they land in separate batches.
	list := s.DrawBatches(identity[:], identity[:])
	require.Len(t, list.Opaque, 2)
	assert.NotEqual(t, list.Opaque[0].Signature.Key(), list.Opaque[1].Signature.Key())

	topologies := map[scenedesc.Topology]bool{}
	for _, b := range list.Opaque {
		topologies[b.Signature.Topology] = true
	}
	assert.True(t, topologies[scenedesc.TopologyTriangles])
	assert.True(t, topologies[scenedesc.TopologyLines])
}

func TestReleaseReturnsAllHandles(t *testing.T) {
	desc := &scenedesc.Description{
		Nodes: []scenedesc.Node{{Name: "a", Mesh: intp(0)}},
		Meshes: []scenedesc.Mesh{{
			Primitives: []scenedesc.Primitive{{
				Vertices: []scenedesc.Vertex{{}},
				Indices:  []uint32{0},
				Material: intp(0),
			}},
		}},
		Materials: []scenedesc.Material{{
			BaseColorTexture: intp(0),
		}},
		Textures:  []scenedesc.Texture{{Width: 1, Height: 1, Pixels: []byte{255, 255, 255, 255}}},
		RootNodes: []int{0},
	}

	reg := newFakeRegistrar()
	s, err := NewScene(desc, reg)
	require.NoError(t, err)

	s.Release(reg)
	assert.Len(t, reg.releasedBuffers, 2)
	assert.Len(t, reg.releasedTextures, 1)
}
