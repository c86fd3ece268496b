// Package scene converts an externally-parsed scene description into the
// engine's native node/mesh/primitive/material graph with stable handles,
// and owns the per-frame world transform pass.
package scene

import (
	"sync"

	"go.uber.org/zap"

	"github.com/prismgfx/prism/common"
	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/renderer/pipeline"
	"github.com/prismgfx/prism/engine/resource"
	"github.com/prismgfx/prism/engine/scenedesc"
)

// NodeHandle is a stable index into the scene's node arena.
type NodeHandle int32

// NilNode is the invalid node handle.
const NilNode NodeHandle = -1

// Transform is a node's local TRS transform.
type Transform struct {
	Translation [3]float32
	// Rotation is a unit quaternion (x, y, z, w).
	Rotation [4]float32
	Scale    [3]float32
}

// Material is a primitive's resolved shading state: PBR factors plus GPU
// texture handles with defaults substituted for absent textures.
type Material struct {
	BaseColorFactor   [4]float32
	MetallicFactor    float32
	RoughnessFactor   float32
	EmissiveFactor    [3]float32
	NormalScale       float32
	OcclusionStrength float32
	AlphaCutoff       float32

	// Textures is indexed by pipeline.TextureSlot.
	Textures [pipeline.SlotCount]resource.TextureHandle

	Signature pipeline.Signature
}

// Primitive is one indexed draw with GPU-resident geometry. Immutable after
// load.
type Primitive struct {
	VertexBuffer resource.BufferHandle
	IndexBuffer  resource.BufferHandle
	IndexCount   uint32
	VertexCount  uint32
	Topology     scenedesc.Topology

	Material Material

	BoundsMin [3]float32
	BoundsMax [3]float32
}

// sceneNode is one arena slot: local TRS, cached world matrix, and tree
// links by index (no owning pointers, so the tree shape is explicit).
type sceneNode struct {
	name     string
	local    Transform
	world    [16]float32
	parent   NodeHandle
	children []NodeHandle
	mesh     int32 // index into meshes, -1 for transform-only nodes
	dirty    bool
}

// ResourceRegistrar is the subset of the resource manager the scene needs to
// push geometry and texture payloads to the GPU.
type ResourceRegistrar interface {
	BeginBatch()
	CreateVertexBuffer(data []byte) (resource.BufferHandle, error)
	CreateIndexBuffer(data []byte) (resource.BufferHandle, error)
	CreateTexture(t *scenedesc.Texture) (resource.TextureHandle, error)
	DefaultTexture() (resource.TextureHandle, error)
	DefaultNormalTexture() (resource.TextureHandle, error)
	FlushBatch() (*resource.UploadFence, error)
	ReleaseBuffer(h resource.BufferHandle)
	ReleaseTexture(h resource.TextureHandle)
}

// scene is the implementation of the Scene interface.
type scene struct {
	mu *sync.Mutex

	nodes  []sceneNode
	roots  []NodeHandle
	meshes [][]Primitive

	animations []scenedesc.Animation

	// textures created by this scene, released with it.
	ownedTextures []resource.TextureHandle

	uploadFence *resource.UploadFence

	culling bool
}

// Scene is the engine-native graph built from a scene description. Node
// handles remain valid for the scene's lifetime; every GPU handle reachable
// from a primitive stays valid until Release.
type Scene interface {
	// NodeCount returns the number of nodes in the arena.
	NodeCount() int

	// RootHandles returns the root node handles in declaration order.
	RootHandles() []NodeHandle

	// Children returns a node's ordered child handles.
	//
	// Parameters:
	//   - h: the parent node
	//
	// Returns:
	//   - []NodeHandle: child handles, nil for an invalid handle
	Children(h NodeHandle) []NodeHandle

	// HasNode reports whether h refers to a live node.
	HasNode(h NodeHandle) bool

	// LocalTransform returns a node's local TRS transform.
	//
	// Returns:
	//   - Transform: the local transform
	//   - bool: false for an invalid handle
	LocalTransform(h NodeHandle) (Transform, bool)

	// WorldTransform returns a node's cached world matrix (column-major).
	// Call UpdateWorldTransforms after mutating local transforms.
	//
	// Returns:
	//   - [16]float32: the world matrix
	//   - bool: false for an invalid handle
	WorldTransform(h NodeHandle) ([16]float32, bool)

	// SetTranslation updates a node's local translation and marks its
	// subtree dirty.
	//
	// Returns:
	//   - bool: false for an invalid handle
	SetTranslation(h NodeHandle, t [3]float32) bool

	// SetRotation updates a node's local rotation quaternion and marks its
	// subtree dirty.
	//
	// Returns:
	//   - bool: false for an invalid handle
	SetRotation(h NodeHandle, q [4]float32) bool

	// SetScale updates a node's local scale and marks its subtree dirty.
	//
	// Returns:
	//   - bool: false for an invalid handle
	SetScale(h NodeHandle, s [3]float32) bool

	// UpdateWorldTransforms recomputes world matrices for dirty subtrees in
	// a single top-down pass.
	UpdateWorldTransforms()

	// DrawBatches assembles this frame's draw lists: opaque/mask batches
	// grouped by pipeline signature, and blend calls sorted back-to-front
	// by view-space depth.
	//
	// Parameters:
	//   - view: the camera view matrix (16 elements, column-major)
	//   - proj: the projection matrix (16 elements, column-major)
	//
	// Returns:
	//   - *DrawList: the assembled draw lists
	DrawBatches(view, proj []float32) *DrawList

	// Animations returns the description's animation clips for the sampler.
	Animations() []scenedesc.Animation

	// Bounds returns the world-space bounding box over all primitives,
	// useful for camera framing.
	//
	// Returns:
	//   - [3]float32: minimum corner
	//   - [3]float32: maximum corner
	Bounds() ([3]float32, [3]float32)

	// UploadFence returns the fence gating first use of the scene's GPU
	// resources, or nil when everything has already landed.
	UploadFence() *resource.UploadFence

	// Release hands every GPU handle owned by the scene to the registrar
	// for deferred destruction.
	//
	// Parameters:
	//   - reg: the registrar that created the handles
	Release(reg ResourceRegistrar)
}

// Ensure scene implements Scene.
var _ Scene = &scene{}

// NewScene validates and converts a description into the native graph,
// registering all geometry and texture payloads for batched GPU upload.
//
// Parameters:
//   - desc: the parsed scene description
//   - reg: resource registrar receiving the GPU payloads
//   - options: functional options
//
// Returns:
//   - Scene: the built scene
//   - error: SceneIntegrityError for dangling references or node cycles,
//     ResourceExhaustedError if GPU allocation fails
func NewScene(desc *scenedesc.Description, reg ResourceRegistrar, options ...SceneBuilderOption) (Scene, error) {
	s := &scene{
		mu:      &sync.Mutex{},
		culling: true,
	}
	for _, opt := range options {
		opt(s)
	}

	if err := s.buildGraph(desc); err != nil {
		return nil, err
	}
	if err := s.registerResources(desc, reg); err != nil {
		return nil, err
	}

	s.animations = desc.Animations
	s.updateWorldsLocked(true)

	logger.Info("scene built",
		zap.Int("nodes", len(s.nodes)),
		zap.Int("meshes", len(s.meshes)),
		zap.Int("animations", len(s.animations)),
	)
	return s, nil
}

// buildGraph copies nodes into the arena, validating references and
// rejecting cycles and shared ownership.
func (s *scene) buildGraph(desc *scenedesc.Description) error {
	s.nodes = make([]sceneNode, len(desc.Nodes))
	for i := range desc.Nodes {
		dn := &desc.Nodes[i]

		mesh := int32(-1)
		if dn.Mesh != nil {
			if *dn.Mesh < 0 || *dn.Mesh >= len(desc.Meshes) {
				return errs.NewSceneIntegrity("node %d (%s) references mesh %d of %d", i, dn.Name, *dn.Mesh, len(desc.Meshes))
			}
			mesh = int32(*dn.Mesh)
		}

		rot := dn.Rotation
		if rot == ([4]float32{}) {
			rot = [4]float32{0, 0, 0, 1}
		}
		scale := dn.Scale
		if scale == ([3]float32{}) {
			scale = [3]float32{1, 1, 1}
		}

		s.nodes[i] = sceneNode{
			name:   dn.Name,
			local:  Transform{Translation: dn.Translation, Rotation: rot, Scale: scale},
			parent: NilNode,
			mesh:   mesh,
			dirty:  true,
		}
	}

	// Wire children and detect cycles/shared nodes with a visited set while
	// traversing top-down from the roots. A node reached twice means either
	// two parents own it or the graph loops back on itself; both violate the
	// tree invariant and would otherwise traverse forever.
	visited := make([]bool, len(desc.Nodes))

	var visit func(idx int) error
	visit = func(idx int) error {
		if visited[idx] {
			return errs.NewSceneIntegrity("node %d (%s) is reachable twice: cycle or shared ownership", idx, desc.Nodes[idx].Name)
		}
		visited[idx] = true

		for _, child := range desc.Nodes[idx].Children {
			if child < 0 || child >= len(desc.Nodes) {
				return errs.NewSceneIntegrity("node %d (%s) references child %d of %d", idx, desc.Nodes[idx].Name, child, len(desc.Nodes))
			}
			s.nodes[child].parent = NodeHandle(idx)
			s.nodes[idx].children = append(s.nodes[idx].children, NodeHandle(child))
			if err := visit(child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range desc.RootNodes {
		if root < 0 || root >= len(desc.Nodes) {
			return errs.NewSceneIntegrity("root node %d of %d", root, len(desc.Nodes))
		}
		s.roots = append(s.roots, NodeHandle(root))
		if err := visit(root); err != nil {
			return err
		}
	}

	return nil
}

// registerResources uploads geometry and textures through the registrar and
// resolves materials into GPU-ready form.
func (s *scene) registerResources(desc *scenedesc.Description, reg ResourceRegistrar) error {
	reg.BeginBatch()

	// Resolve each referenced texture exactly once.
	textureHandles := make(map[int]resource.TextureHandle)
	resolveTexture := func(idx *int, slot pipeline.TextureSlot, matIdx int) (resource.TextureHandle, error) {
		if idx == nil {
			if slot == pipeline.SlotNormal {
				return reg.DefaultNormalTexture()
			}
			return reg.DefaultTexture()
		}
		if *idx < 0 || *idx >= len(desc.Textures) {
			return resource.NilTexture, errs.NewSceneIntegrity("material %d references texture %d of %d", matIdx, *idx, len(desc.Textures))
		}
		if h, ok := textureHandles[*idx]; ok {
			return h, nil
		}
		h, err := reg.CreateTexture(&desc.Textures[*idx])
		if err != nil {
			return resource.NilTexture, err
		}
		textureHandles[*idx] = h
		s.ownedTextures = append(s.ownedTextures, h)
		return h, nil
	}

	materials := make([]Material, len(desc.Materials))
	for i := range desc.Materials {
		dm := &desc.Materials[i]

		mat := Material{
			BaseColorFactor:   dm.BaseColorFactor,
			MetallicFactor:    dm.MetallicFactor,
			RoughnessFactor:   dm.RoughnessFactor,
			EmissiveFactor:    dm.EmissiveFactor,
			NormalScale:       dm.NormalScale,
			OcclusionStrength: dm.OcclusionStrength,
			AlphaCutoff:       dm.AlphaCutoff,
			Signature:         pipeline.SignatureFromMaterial(dm),
		}

		slots := []struct {
			idx  *int
			slot pipeline.TextureSlot
		}{
			{dm.BaseColorTexture, pipeline.SlotBaseColor},
			{dm.MetallicRoughnessTexture, pipeline.SlotMetallicRoughness},
			{dm.NormalTexture, pipeline.SlotNormal},
			{dm.OcclusionTexture, pipeline.SlotOcclusion},
			{dm.EmissiveTexture, pipeline.SlotEmissive},
		}
		for _, sl := range slots {
			h, err := resolveTexture(sl.idx, sl.slot, i)
			if err != nil {
				return err
			}
			mat.Textures[sl.slot] = h
		}

		materials[i] = mat
	}

	defaultMat, err := s.defaultMaterial(reg)
	if err != nil {
		return err
	}

	s.meshes = make([][]Primitive, len(desc.Meshes))
	for mi := range desc.Meshes {
		dm := &desc.Meshes[mi]
		prims := make([]Primitive, len(dm.Primitives))
		for pi := range dm.Primitives {
			dp := &dm.Primitives[pi]

			mat := defaultMat
			if dp.Material != nil {
				if *dp.Material < 0 || *dp.Material >= len(materials) {
					return errs.NewSceneIntegrity("mesh %d primitive %d references material %d of %d", mi, pi, *dp.Material, len(materials))
				}
				mat = materials[*dp.Material]
			}
			// A material shared across topologies still needs one compiled
			// pipeline per topology.
			mat.Signature.Topology = dp.Topology

			vb, err := reg.CreateVertexBuffer(common.SliceToBytes(dp.Vertices))
			if err != nil {
				return err
			}
			var ib resource.BufferHandle
			if len(dp.Indices) > 0 {
				ib, err = reg.CreateIndexBuffer(common.SliceToBytes(dp.Indices))
				if err != nil {
					return err
				}
			}

			prims[pi] = Primitive{
				VertexBuffer: vb,
				IndexBuffer:  ib,
				IndexCount:   uint32(len(dp.Indices)),
				VertexCount:  uint32(len(dp.Vertices)),
				Topology:     dp.Topology,
				Material:     mat,
				BoundsMin:    dp.BoundsMin,
				BoundsMax:    dp.BoundsMax,
			}
		}
		s.meshes[mi] = prims
	}

	fence, err := reg.FlushBatch()
	if err != nil {
		return err
	}
	s.uploadFence = fence
	return nil
}

func (s *scene) defaultMaterial(reg ResourceRegistrar) (Material, error) {
	white, err := reg.DefaultTexture()
	if err != nil {
		return Material{}, err
	}
	normal, err := reg.DefaultNormalTexture()
	if err != nil {
		return Material{}, err
	}
	mat := Material{
		BaseColorFactor:   [4]float32{1, 1, 1, 1},
		RoughnessFactor:   1,
		NormalScale:       1,
		OcclusionStrength: 1,
	}
	for i := range mat.Textures {
		mat.Textures[i] = white
	}
	mat.Textures[pipeline.SlotNormal] = normal
	return mat, nil
}

func (s *scene) NodeCount() int {
	return len(s.nodes)
}

func (s *scene) RootHandles() []NodeHandle {
	return s.roots
}

func (s *scene) Children(h NodeHandle) []NodeHandle {
	if !s.HasNode(h) {
		return nil
	}
	return s.nodes[h].children
}

func (s *scene) HasNode(h NodeHandle) bool {
	return h >= 0 && int(h) < len(s.nodes)
}

func (s *scene) LocalTransform(h NodeHandle) (Transform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.HasNode(h) {
		return Transform{}, false
	}
	return s.nodes[h].local, true
}

func (s *scene) WorldTransform(h NodeHandle) ([16]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.HasNode(h) {
		return [16]float32{}, false
	}
	return s.nodes[h].world, true
}

func (s *scene) SetTranslation(h NodeHandle, t [3]float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.HasNode(h) {
		return false
	}
	s.nodes[h].local.Translation = t
	s.nodes[h].dirty = true
	return true
}

func (s *scene) SetRotation(h NodeHandle, q [4]float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.HasNode(h) {
		return false
	}
	s.nodes[h].local.Rotation = q
	s.nodes[h].dirty = true
	return true
}

func (s *scene) SetScale(h NodeHandle, sc [3]float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.HasNode(h) {
		return false
	}
	s.nodes[h].local.Scale = sc
	s.nodes[h].dirty = true
	return true
}

func (s *scene) UpdateWorldTransforms() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateWorldsLocked(false)
}

// updateWorldsLocked recomputes world = parentWorld * local top-down. When
// force is false only dirty subtrees are recomputed.
func (s *scene) updateWorldsLocked(force bool) {
	var local [16]float32

	var walk func(h NodeHandle, parentWorld []float32, parentDirty bool)
	walk = func(h NodeHandle, parentWorld []float32, parentDirty bool) {
		n := &s.nodes[h]
		recompute := force || parentDirty || n.dirty
		if recompute {
			common.ComposeTRS(local[:], n.local.Translation, n.local.Rotation, n.local.Scale)
			if parentWorld == nil {
				n.world = local
			} else {
				common.Mul4(n.world[:], parentWorld, local[:])
			}
			n.dirty = false
		}
		for _, c := range n.children {
			walk(c, n.world[:], recompute)
		}
	}

	for _, root := range s.roots {
		walk(root, nil, false)
	}
}

func (s *scene) Animations() []scenedesc.Animation {
	return s.animations
}

func (s *scene) UploadFence() *resource.UploadFence {
	return s.uploadFence
}

func (s *scene) Release(reg ResourceRegistrar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prims := range s.meshes {
		for i := range prims {
			reg.ReleaseBuffer(prims[i].VertexBuffer)
			if prims[i].IndexBuffer != resource.NilBuffer {
				reg.ReleaseBuffer(prims[i].IndexBuffer)
			}
		}
	}
	s.meshes = nil

	for _, h := range s.ownedTextures {
		reg.ReleaseTexture(h)
	}
	s.ownedTextures = nil
}
