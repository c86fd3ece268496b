package scene

import (
	"sort"

	"github.com/prismgfx/prism/common"
	"github.com/prismgfx/prism/engine/renderer/pipeline"
)

// DrawCall is one primitive instance with its world matrix. Depth is the
// view-space distance used to order blend calls.
type DrawCall struct {
	Primitive *Primitive
	World     [16]float32
	Depth     float32
}

// DrawBatch groups calls that share a pipeline signature so the recorder
// binds each pipeline once.
type DrawBatch struct {
	Signature pipeline.Signature
	Calls     []DrawCall
}

// DrawList is the frame's assembled draw order: opaque and mask batches by
// signature, then blended calls farthest-first.
type DrawList struct {
	Opaque []DrawBatch
	Blend  []DrawBatch
}

func (s *scene) DrawBatches(view, proj []float32) *DrawList {
	s.mu.Lock()
	defer s.mu.Unlock()

	var frustum *common.Frustum
	if s.culling && len(view) == 16 && len(proj) == 16 {
		var viewProj [16]float32
		common.Mul4(viewProj[:], proj, view)
		f := common.ExtractFrustumFromMatrix(viewProj[:])
		frustum = &f
	}

	opaque := map[uint32]*DrawBatch{}
	var opaqueKeys []uint32
	var blend []DrawCall
	blendSigs := map[*Primitive]pipeline.Signature{}

	for ni := range s.nodes {
		n := &s.nodes[ni]
		if n.mesh < 0 {
			continue
		}
		prims := s.meshes[n.mesh]
		for pi := range prims {
			p := &prims[pi]

			if frustum != nil && !worldAABBVisible(frustum, n.world[:], p.BoundsMin, p.BoundsMax) {
				continue
			}

			if p.Material.Signature.Blended() {
				blend = append(blend, DrawCall{
					Primitive: p,
					World:     n.world,
					Depth:     viewDepth(view, n.world[:], p.BoundsMin, p.BoundsMax),
				})
				blendSigs[p] = p.Material.Signature
				continue
			}

			key := p.Material.Signature.Key()
			batch, ok := opaque[key]
			if !ok {
				batch = &DrawBatch{Signature: p.Material.Signature}
				opaque[key] = batch
				opaqueKeys = append(opaqueKeys, key)
			}
			batch.Calls = append(batch.Calls, DrawCall{Primitive: p, World: n.world})
		}
	}

	// Deterministic batch order regardless of node iteration.
	sort.Slice(opaqueKeys, func(i, j int) bool { return opaqueKeys[i] < opaqueKeys[j] })

	list := &DrawList{}
	for _, key := range opaqueKeys {
		list.Opaque = append(list.Opaque, *opaque[key])
	}

	// Blended geometry draws strictly back-to-front; each call becomes its
	// own single-entry batch so pipeline changes never reorder it.
	sort.SliceStable(blend, func(i, j int) bool { return blend[i].Depth > blend[j].Depth })
	for _, call := range blend {
		list.Blend = append(list.Blend, DrawBatch{
			Signature: blendSigs[call.Primitive],
			Calls:     []DrawCall{call},
		})
	}

	return list
}

// viewDepth returns the view-space distance of the primitive's world-space
// center along the camera's forward axis.
func viewDepth(view, world []float32, boundsMin, boundsMax [3]float32) float32 {
	center := [3]float32{
		(boundsMin[0] + boundsMax[0]) * 0.5,
		(boundsMin[1] + boundsMax[1]) * 0.5,
		(boundsMin[2] + boundsMax[2]) * 0.5,
	}
	worldCenter := common.TransformPoint(world, center)
	if len(view) != 16 {
		return 0
	}
	viewCenter := common.TransformPoint(view, worldCenter)
	// The camera looks down -Z in view space, so distance is -z.
	return -viewCenter[2]
}

// worldAABBVisible transforms the local AABB's corners to world space,
// rebuilds an axis-aligned box around them, and tests it against the frustum.
func worldAABBVisible(f *common.Frustum, world []float32, boundsMin, boundsMax [3]float32) bool {
	if boundsMin == boundsMax {
		// Degenerate bounds mean the loader had none; never cull.
		return true
	}

	var wmin, wmax [3]float32
	for c := 0; c < 8; c++ {
		corner := [3]float32{boundsMin[0], boundsMin[1], boundsMin[2]}
		if c&1 != 0 {
			corner[0] = boundsMax[0]
		}
		if c&2 != 0 {
			corner[1] = boundsMax[1]
		}
		if c&4 != 0 {
			corner[2] = boundsMax[2]
		}
		p := common.TransformPoint(world, corner)
		if c == 0 {
			wmin, wmax = p, p
			continue
		}
		for a := 0; a < 3; a++ {
			if p[a] < wmin[a] {
				wmin[a] = p[a]
			}
			if p[a] > wmax[a] {
				wmax[a] = p[a]
			}
		}
	}
	return f.IntersectsAABB(wmin, wmax)
}

func (s *scene) Bounds() ([3]float32, [3]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first := true
	var bmin, bmax [3]float32
	for ni := range s.nodes {
		n := &s.nodes[ni]
		if n.mesh < 0 || int(n.mesh) >= len(s.meshes) {
			continue
		}
		for pi := range s.meshes[n.mesh] {
			p := &s.meshes[n.mesh][pi]
			for c := 0; c < 8; c++ {
				corner := [3]float32{p.BoundsMin[0], p.BoundsMin[1], p.BoundsMin[2]}
				if c&1 != 0 {
					corner[0] = p.BoundsMax[0]
				}
				if c&2 != 0 {
					corner[1] = p.BoundsMax[1]
				}
				if c&4 != 0 {
					corner[2] = p.BoundsMax[2]
				}
				w := common.TransformPoint(n.world[:], corner)
				if first {
					bmin, bmax = w, w
					first = false
					continue
				}
				for a := 0; a < 3; a++ {
					if w[a] < bmin[a] {
						bmin[a] = w[a]
					}
					if w[a] > bmax[a] {
						bmax[a] = w[a]
					}
				}
			}
		}
	}
	return bmin, bmax
}
