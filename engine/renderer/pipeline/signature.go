// Package pipeline builds and caches graphics pipeline state objects keyed
// by material permutation signatures.
package pipeline

import (
	"fmt"

	"github.com/prismgfx/prism/engine/scenedesc"
)

// TextureSlot identifies one of the optional material textures contributing
// to the signature's presence bitmask.
type TextureSlot uint8

const (
	SlotBaseColor TextureSlot = iota
	SlotMetallicRoughness
	SlotNormal
	SlotOcclusion
	SlotEmissive

	// SlotCount is the number of optional texture slots.
	SlotCount
)

// Signature captures the material attributes that determine which compiled
// pipeline state is required. It is a pure function of material shape:
// materials with equal signatures always share one cached pipeline.
type Signature struct {
	// AlphaMode selects the blend state.
	AlphaMode scenedesc.AlphaMode

	// TextureMask has bit i set when the texture in TextureSlot i is present
	// on the material (before default substitution).
	TextureMask uint8

	// DoubleSided disables back-face culling.
	DoubleSided bool

	// Topology selects the input assembly primitive topology. Materials
	// shared between triangle and line primitives need distinct pipelines.
	Topology scenedesc.Topology
}

// SignatureFromMaterial derives the pipeline signature for a material
// description.
//
// Parameters:
//   - m: the material description
//
// Returns:
//   - Signature: the derived signature
func SignatureFromMaterial(m *scenedesc.Material) Signature {
	var mask uint8
	if m.BaseColorTexture != nil {
		mask |= 1 << SlotBaseColor
	}
	if m.MetallicRoughnessTexture != nil {
		mask |= 1 << SlotMetallicRoughness
	}
	if m.NormalTexture != nil {
		mask |= 1 << SlotNormal
	}
	if m.OcclusionTexture != nil {
		mask |= 1 << SlotOcclusion
	}
	if m.EmissiveTexture != nil {
		mask |= 1 << SlotEmissive
	}
	return Signature{
		AlphaMode:   m.AlphaMode,
		TextureMask: mask,
		DoubleSided: m.DoubleSided,
	}
}

// HasTexture reports whether the signature's bitmask includes the slot.
//
// Parameters:
//   - slot: the texture slot to query
//
// Returns:
//   - bool: true when the texture is present
func (s Signature) HasTexture(slot TextureSlot) bool {
	return s.TextureMask&(1<<slot) != 0
}

// Blended reports whether the signature requires alpha blending.
//
// Returns:
//   - bool: true for AlphaBlend materials
func (s Signature) Blended() bool {
	return s.AlphaMode == scenedesc.AlphaBlend
}

// Key packs the signature into a single comparable integer, usable as a
// cache map key alongside the render target format.
//
// Returns:
//   - uint32: the packed signature
func (s Signature) Key() uint32 {
	k := uint32(s.TextureMask)
	k |= uint32(s.AlphaMode) << 8
	if s.DoubleSided {
		k |= 1 << 10
	}
	k |= uint32(s.Topology) << 11
	return k
}

// String renders the signature for logs and error messages.
//
// Returns:
//   - string: e.g. "alpha=blend tex=0x07 doubleSided=true"
func (s Signature) String() string {
	mode := "opaque"
	switch s.AlphaMode {
	case scenedesc.AlphaMask:
		mode = "mask"
	case scenedesc.AlphaBlend:
		mode = "blend"
	}
	return fmt.Sprintf("alpha=%s tex=0x%02x doubleSided=%t topology=%d",
		mode, s.TextureMask, s.DoubleSided, s.Topology)
}
