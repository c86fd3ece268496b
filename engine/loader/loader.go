// Package loader imports glTF 2.0 assets (.gltf and .glb) into the parsed
// scene description the engine consumes. The importer handles geometry,
// PBR materials, textures, and keyframe animations; skinning and morph
// targets are not supported.
package loader

import (
	"bytes"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/engine/logger"
	"github.com/prismgfx/prism/engine/scenedesc"
)

// loader is the implementation of the Loader interface.
type loader struct {
	skipTextures   bool
	skipAnimations bool
}

// Loader imports scene files into engine-ready descriptions.
type Loader interface {
	// Load imports the glTF or GLB file at the given path.
	//
	// Parameters:
	//   - path: path to a .gltf or .glb file
	//
	// Returns:
	//   - *scenedesc.Description: the imported scene
	//   - error: error if the file is malformed or uses unsupported features
	Load(path string) (*scenedesc.Description, error)
}

var _ Loader = &loader{}

// NewLoader creates a Loader with the specified options.
//
// Parameters:
//   - options: functional options to configure the loader
//
// Returns:
//   - Loader: the configured loader
func NewLoader(options ...LoaderBuilderOption) Loader {
	l := &loader{}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func (l *loader) Load(path string) (*scenedesc.Description, error) {
	p := &gltfParser{}
	if err := p.parse(path); err != nil {
		return nil, err
	}
	doc := p.document

	desc := &scenedesc.Description{}

	if err := l.importNodes(doc, desc); err != nil {
		return nil, err
	}
	if err := l.importMeshes(p, desc); err != nil {
		return nil, err
	}
	if !l.skipTextures {
		if err := l.importTextures(p, desc); err != nil {
			return nil, err
		}
	}
	l.importMaterials(doc, desc)
	if !l.skipAnimations {
		if err := l.importAnimations(p, desc); err != nil {
			return nil, err
		}
	}

	logger.Info("scene imported",
		zap.String("path", filepath.Base(path)),
		zap.Int("nodes", len(desc.Nodes)),
		zap.Int("meshes", len(desc.Meshes)),
		zap.Int("materials", len(desc.Materials)),
		zap.Int("textures", len(desc.Textures)),
		zap.Int("animations", len(desc.Animations)),
	)
	return desc, nil
}

// importNodes copies the transform hierarchy and selects the root set from
// the default scene, or from every scene when none is marked default.
func (l *loader) importNodes(doc *gltfDocument, desc *scenedesc.Description) error {
	desc.Nodes = make([]scenedesc.Node, len(doc.Nodes))
	for i := range doc.Nodes {
		src := &doc.Nodes[i]
		node := scenedesc.Node{
			Name:        src.Name,
			Children:    src.Children,
			Mesh:        src.Mesh,
			Translation: [3]float32{0, 0, 0},
			Rotation:    [4]float32{0, 0, 0, 1},
			Scale:       [3]float32{1, 1, 1},
		}
		if src.Matrix != nil {
			t, r, s, err := decomposeTRS(*src.Matrix)
			if err != nil {
				return errors.Wrapf(err, "node %d (%s)", i, src.Name)
			}
			node.Translation, node.Rotation, node.Scale = t, r, s
		} else {
			if src.Translation != nil {
				node.Translation = *src.Translation
			}
			if src.Rotation != nil {
				node.Rotation = *src.Rotation
			}
			if src.Scale != nil {
				node.Scale = *src.Scale
			}
		}
		desc.Nodes[i] = node
	}

	if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
		desc.RootNodes = doc.Scenes[*doc.Scene].Nodes
	} else {
		for i := range doc.Scenes {
			desc.RootNodes = append(desc.RootNodes, doc.Scenes[i].Nodes...)
		}
	}
	return nil
}

// importMeshes converts each primitive's accessors into interleaved
// vertices. Missing normals, UVs, or tangents fall back to flat defaults;
// model-space bounds come straight from the positions.
func (l *loader) importMeshes(p *gltfParser, desc *scenedesc.Description) error {
	doc := p.document
	desc.Meshes = make([]scenedesc.Mesh, len(doc.Meshes))

	for mi := range doc.Meshes {
		src := &doc.Meshes[mi]
		mesh := scenedesc.Mesh{Name: src.Name}

		for pi := range src.Primitives {
			prim, err := l.importPrimitive(p, &src.Primitives[pi])
			if err != nil {
				return errors.Wrapf(err, "mesh %d primitive %d", mi, pi)
			}
			mesh.Primitives = append(mesh.Primitives, *prim)
		}
		desc.Meshes[mi] = mesh
	}
	return nil
}

func (l *loader) importPrimitive(p *gltfParser, src *gltfPrimitive) (*scenedesc.Primitive, error) {
	topology := scenedesc.TopologyTriangles
	if src.Mode != nil {
		switch *src.Mode {
		case gltfModeTriangles:
		case gltfModeTriangleStrip:
			topology = scenedesc.TopologyTriangleStrip
		case gltfModeLines:
			topology = scenedesc.TopologyLines
		case gltfModePoints:
			topology = scenedesc.TopologyPoints
		default:
			return nil, errors.Errorf("unsupported primitive mode %d", *src.Mode)
		}
	}

	posIdx, ok := src.Attributes["POSITION"]
	if !ok {
		return nil, errors.New("primitive has no POSITION attribute")
	}
	positions, err := p.readFloats(posIdx, 3)
	if err != nil {
		return nil, err
	}
	count := len(positions) / 3

	var normals, uvs, tangents []float32
	if idx, ok := src.Attributes["NORMAL"]; ok {
		if normals, err = p.readFloats(idx, 3); err != nil {
			return nil, err
		}
	}
	if idx, ok := src.Attributes["TEXCOORD_0"]; ok {
		if uvs, err = p.readFloats(idx, 2); err != nil {
			return nil, err
		}
	}
	if idx, ok := src.Attributes["TANGENT"]; ok {
		if tangents, err = p.readFloats(idx, 4); err != nil {
			return nil, err
		}
	}

	prim := &scenedesc.Primitive{
		Topology:  topology,
		Material:  src.Material,
		BoundsMin: [3]float32{positions[0], positions[1], positions[2]},
		BoundsMax: [3]float32{positions[0], positions[1], positions[2]},
	}

	prim.Vertices = make([]scenedesc.Vertex, count)
	for i := 0; i < count; i++ {
		v := scenedesc.Vertex{
			Position: [3]float32{positions[i*3], positions[i*3+1], positions[i*3+2]},
			Normal:   [3]float32{0, 1, 0},
			Tangent:  [4]float32{1, 0, 0, 1},
		}
		if normals != nil {
			v.Normal = [3]float32{normals[i*3], normals[i*3+1], normals[i*3+2]}
		}
		if uvs != nil {
			v.TexCoord = [2]float32{uvs[i*2], uvs[i*2+1]}
		}
		if tangents != nil {
			v.Tangent = [4]float32{tangents[i*4], tangents[i*4+1], tangents[i*4+2], tangents[i*4+3]}
		}
		prim.Vertices[i] = v

		for c := 0; c < 3; c++ {
			if v.Position[c] < prim.BoundsMin[c] {
				prim.BoundsMin[c] = v.Position[c]
			}
			if v.Position[c] > prim.BoundsMax[c] {
				prim.BoundsMax[c] = v.Position[c]
			}
		}
	}

	if src.Indices != nil {
		if prim.Indices, err = p.readIndices(*src.Indices); err != nil {
			return nil, err
		}
	}
	return prim, nil
}

// importTextures decodes each referenced image into tightly packed RGBA and
// attaches the sampler state from the texture's sampler, if any.
func (l *loader) importTextures(p *gltfParser, desc *scenedesc.Description) error {
	doc := p.document
	desc.Textures = make([]scenedesc.Texture, len(doc.Textures))

	for ti := range doc.Textures {
		src := &doc.Textures[ti]
		tex := scenedesc.Texture{
			MagFilter: scenedesc.FilterLinear,
			MinFilter: scenedesc.FilterLinear,
			WrapS:     scenedesc.WrapRepeat,
			WrapT:     scenedesc.WrapRepeat,
		}

		if src.Source != nil {
			raw, err := l.imageBytes(p, *src.Source)
			if err != nil {
				return errors.Wrapf(err, "texture %d", ti)
			}
			img, _, err := image.Decode(bytes.NewReader(raw))
			if err != nil {
				return errors.Wrapf(err, "texture %d: failed to decode image", ti)
			}
			bounds := img.Bounds()
			rgba := image.NewRGBA(bounds)
			draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

			tex.Width = uint32(bounds.Dx())
			tex.Height = uint32(bounds.Dy())
			tex.Pixels = rgba.Pix
		}

		if src.Sampler != nil && *src.Sampler >= 0 && *src.Sampler < len(doc.Samplers) {
			applySampler(&tex, &doc.Samplers[*src.Sampler])
		}
		desc.Textures[ti] = tex
	}
	return nil
}

func (l *loader) imageBytes(p *gltfParser, imageIndex int) ([]byte, error) {
	doc := p.document
	if imageIndex < 0 || imageIndex >= len(doc.Images) {
		return nil, errors.Errorf("image index %d out of range", imageIndex)
	}
	img := &doc.Images[imageIndex]

	if img.BufferView != nil {
		return p.viewBytes(*img.BufferView)
	}
	if img.URI == "" {
		return nil, errors.Errorf("image %d has neither URI nor buffer view", imageIndex)
	}
	return os.ReadFile(filepath.Join(p.baseDir, img.URI))
}

func applySampler(tex *scenedesc.Texture, s *gltfSampler) {
	if s.MagFilter != nil && *s.MagFilter == gltfFilterNearest {
		tex.MagFilter = scenedesc.FilterNearest
	}
	// Mipmapped min filters collapse to their base filter.
	if s.MinFilter != nil && (*s.MinFilter == gltfFilterNearest || *s.MinFilter == 9984 || *s.MinFilter == 9986) {
		tex.MinFilter = scenedesc.FilterNearest
	}
	tex.WrapS = convertWrap(s.WrapS)
	tex.WrapT = convertWrap(s.WrapT)
}

func convertWrap(mode *int) scenedesc.WrapMode {
	if mode == nil {
		return scenedesc.WrapRepeat
	}
	switch *mode {
	case gltfWrapClampToEdge:
		return scenedesc.WrapClampToEdge
	case gltfWrapMirroredRepeat:
		return scenedesc.WrapMirroredRepeat
	default:
		return scenedesc.WrapRepeat
	}
}

// importMaterials maps glTF PBR metallic-roughness materials onto the
// engine's material model, filling spec defaults for absent factors.
func (l *loader) importMaterials(doc *gltfDocument, desc *scenedesc.Description) {
	desc.Materials = make([]scenedesc.Material, len(doc.Materials))

	for i := range doc.Materials {
		src := &doc.Materials[i]
		mat := scenedesc.Material{
			Name:              src.Name,
			BaseColorFactor:   [4]float32{1, 1, 1, 1},
			MetallicFactor:    1,
			RoughnessFactor:   1,
			NormalScale:       1,
			OcclusionStrength: 1,
			AlphaCutoff:       0.5,
			DoubleSided:       src.DoubleSided,
		}

		if pbr := src.PBRMetallicRoughness; pbr != nil {
			if pbr.BaseColorFactor != nil {
				mat.BaseColorFactor = *pbr.BaseColorFactor
			}
			if pbr.MetallicFactor != nil {
				mat.MetallicFactor = *pbr.MetallicFactor
			}
			if pbr.RoughnessFactor != nil {
				mat.RoughnessFactor = *pbr.RoughnessFactor
			}
			if pbr.BaseColorTexture != nil && !l.skipTextures {
				mat.BaseColorTexture = intPtr(pbr.BaseColorTexture.Index)
			}
			if pbr.MetallicRoughnessTexture != nil && !l.skipTextures {
				mat.MetallicRoughnessTexture = intPtr(pbr.MetallicRoughnessTexture.Index)
			}
		}

		if src.NormalTexture != nil {
			if !l.skipTextures {
				mat.NormalTexture = intPtr(src.NormalTexture.Index)
			}
			if src.NormalTexture.Scale != nil {
				mat.NormalScale = *src.NormalTexture.Scale
			}
		}
		if src.OcclusionTexture != nil {
			if !l.skipTextures {
				mat.OcclusionTexture = intPtr(src.OcclusionTexture.Index)
			}
			if src.OcclusionTexture.Strength != nil {
				mat.OcclusionStrength = *src.OcclusionTexture.Strength
			}
		}
		if src.EmissiveTexture != nil && !l.skipTextures {
			mat.EmissiveTexture = intPtr(src.EmissiveTexture.Index)
		}
		if src.EmissiveFactor != nil {
			mat.EmissiveFactor = *src.EmissiveFactor
		}

		switch src.AlphaMode {
		case "MASK":
			mat.AlphaMode = scenedesc.AlphaMask
			if src.AlphaCutoff != nil {
				mat.AlphaCutoff = *src.AlphaCutoff
			}
		case "BLEND":
			mat.AlphaMode = scenedesc.AlphaBlend
		default:
			mat.AlphaMode = scenedesc.AlphaOpaque
		}

		desc.Materials[i] = mat
	}
}

// importAnimations converts TRS channels. Weight (morph target) channels
// are skipped with a warning.
func (l *loader) importAnimations(p *gltfParser, desc *scenedesc.Description) error {
	doc := p.document

	for ai := range doc.Animations {
		src := &doc.Animations[ai]
		anim := scenedesc.Animation{Name: src.Name}

		for ci := range src.Channels {
			ch := &src.Channels[ci]
			if ch.Target.Node == nil {
				continue
			}
			if ch.Sampler < 0 || ch.Sampler >= len(src.Samplers) {
				return errors.Errorf("animation %d channel %d: sampler %d out of range", ai, ci, ch.Sampler)
			}
			sampler := &src.Samplers[ch.Sampler]

			var path scenedesc.ChannelPath
			switch ch.Target.Path {
			case "translation":
				path = scenedesc.PathTranslation
			case "rotation":
				path = scenedesc.PathRotation
			case "scale":
				path = scenedesc.PathScale
			default:
				logger.Warn("skipping unsupported animation channel",
					zap.String("animation", src.Name),
					zap.String("path", ch.Target.Path),
				)
				continue
			}

			// Cubic-spline samplers carry in/out tangents in their output
			// accessor; the engine only samples step and linear.
			if sampler.Interpolation == "CUBICSPLINE" {
				logger.Warn("skipping cubic-spline animation channel",
					zap.String("animation", src.Name),
					zap.Int("channel", ci),
				)
				continue
			}
			interp := scenedesc.InterpolationLinear
			if sampler.Interpolation == "STEP" {
				interp = scenedesc.InterpolationStep
			}

			times, err := p.readFloats(sampler.Input, 1)
			if err != nil {
				return errors.Wrapf(err, "animation %d channel %d", ai, ci)
			}

			out := scenedesc.Channel{
				Node:          *ch.Target.Node,
				Path:          path,
				Interpolation: interp,
				Times:         times,
			}

			if path == scenedesc.PathRotation {
				values, err := p.readFloats(sampler.Output, 4)
				if err != nil {
					return errors.Wrapf(err, "animation %d channel %d", ai, ci)
				}
				if len(values) < len(times)*4 {
					return errors.Errorf("animation %d channel %d: output accessor holds %d keyframes for %d input times",
						ai, ci, len(values)/4, len(times))
				}
				out.QuatValues = make([][4]float32, len(times))
				for i := range out.QuatValues {
					out.QuatValues[i] = [4]float32{values[i*4], values[i*4+1], values[i*4+2], values[i*4+3]}
				}
			} else {
				values, err := p.readFloats(sampler.Output, 3)
				if err != nil {
					return errors.Wrapf(err, "animation %d channel %d", ai, ci)
				}
				if len(values) < len(times)*3 {
					return errors.Errorf("animation %d channel %d: output accessor holds %d keyframes for %d input times",
						ai, ci, len(values)/3, len(times))
				}
				out.Vec3Values = make([][3]float32, len(times))
				for i := range out.Vec3Values {
					out.Vec3Values[i] = [3]float32{values[i*3], values[i*3+1], values[i*3+2]}
				}
			}
			anim.Channels = append(anim.Channels, out)
		}

		if len(anim.Channels) > 0 {
			desc.Animations = append(desc.Animations, anim)
		}
	}
	return nil
}

func intPtr(v int) *int { return &v }
