package pipeline

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/prismgfx/prism/engine/errors"
	"github.com/prismgfx/prism/engine/scenedesc"
)

func TestSignatureFromMaterial(t *testing.T) {
	base := 0
	normal := 2
	m := &scenedesc.Material{
		BaseColorTexture: &base,
		NormalTexture:    &normal,
		AlphaMode:        scenedesc.AlphaMask,
		DoubleSided:      true,
	}

	sig := SignatureFromMaterial(m)
	assert.True(t, sig.HasTexture(SlotBaseColor))
	assert.True(t, sig.HasTexture(SlotNormal))
	assert.False(t, sig.HasTexture(SlotEmissive))
	assert.True(t, sig.DoubleSided)
	assert.False(t, sig.Blended())
}

func TestSignatureKeyIsUnique(t *testing.T) {
	topologies := []scenedesc.Topology{
		scenedesc.TopologyTriangles, scenedesc.TopologyTriangleStrip,
		scenedesc.TopologyLines, scenedesc.TopologyPoints,
	}
	seen := map[uint32]bool{}
	for _, mode := range []scenedesc.AlphaMode{scenedesc.AlphaOpaque, scenedesc.AlphaMask, scenedesc.AlphaBlend} {
		for mask := 0; mask < 1<<SlotCount; mask++ {
			for _, ds := range []bool{false, true} {
				for _, topo := range topologies {
					key := Signature{AlphaMode: mode, TextureMask: uint8(mask), DoubleSided: ds, Topology: topo}.Key()
					assert.False(t, seen[key], "duplicate key %d", key)
					seen[key] = true
				}
			}
		}
	}
}

func TestPrimitiveTopologyMapping(t *testing.T) {
	cases := map[scenedesc.Topology]vk.PrimitiveTopology{
		scenedesc.TopologyTriangles:     vk.PrimitiveTopologyTriangleList,
		scenedesc.TopologyTriangleStrip: vk.PrimitiveTopologyTriangleStrip,
		scenedesc.TopologyLines:         vk.PrimitiveTopologyLineList,
		scenedesc.TopologyPoints:        vk.PrimitiveTopologyPointList,
	}
	for topo, want := range cases {
		assert.Equal(t, want, primitiveTopology(topo))
	}
}

func TestGetOrCreateSplitsOnTopology(t *testing.T) {
	builds := 0
	c := NewCache(nil, nil, withBuildFunc(func(sig Signature) (vk.Pipeline, error) {
		builds++
		return vk.NullPipeline, nil
	}))
	c.SetTarget(vk.NullRenderPass, vk.FormatB8g8r8a8Srgb)

	sig := Signature{TextureMask: 0x03}
	p1, err := c.GetOrCreate(sig)
	require.NoError(t, err)

	sig.Topology = scenedesc.TopologyLines
	p2, err := c.GetOrCreate(sig)
	require.NoError(t, err)

	assert.NotSame(t, p1, p2)
	assert.Equal(t, 2, builds)
}

func TestGetOrCreateCompilesOncePerSignature(t *testing.T) {
	builds := 0
	c := NewCache(nil, nil, withBuildFunc(func(sig Signature) (vk.Pipeline, error) {
		builds++
		return vk.NullPipeline, nil
	}))
	c.SetTarget(vk.NullRenderPass, vk.FormatB8g8r8a8Srgb)

	sig := Signature{AlphaMode: scenedesc.AlphaBlend, TextureMask: 0x03}
	p1, err := c.GetOrCreate(sig)
	require.NoError(t, err)
	p2, err := c.GetOrCreate(sig)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, c.Size())

	_, err = c.GetOrCreate(Signature{TextureMask: 0x01})
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 2, c.Size())
}

func TestFormatChangeInvalidatesWholesale(t *testing.T) {
	builds := 0
	c := NewCache(nil, nil, withBuildFunc(func(sig Signature) (vk.Pipeline, error) {
		builds++
		return vk.NullPipeline, nil
	}))

	c.SetTarget(vk.NullRenderPass, vk.FormatB8g8r8a8Srgb)
	_, err := c.GetOrCreate(Signature{})
	require.NoError(t, err)
	_, err = c.GetOrCreate(Signature{TextureMask: 0x1f})
	require.NoError(t, err)
	require.Equal(t, 2, c.Size())

	// Same format: nothing drops.
	assert.False(t, c.SetTarget(vk.NullRenderPass, vk.FormatB8g8r8a8Srgb))
	assert.Equal(t, 2, c.Size())

	// New format: everything drops and rebuilds on demand.
	assert.True(t, c.SetTarget(vk.NullRenderPass, vk.FormatR8g8b8a8Unorm))
	assert.Equal(t, 0, c.Size())

	p, err := c.GetOrCreate(Signature{})
	require.NoError(t, err)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, p.Format())
	assert.Equal(t, 3, builds)

	built, invalidated := c.Stats()
	assert.Equal(t, uint64(3), built)
	assert.Equal(t, uint64(1), invalidated)
}

func TestGetOrCreateWrapsBuildFailure(t *testing.T) {
	c := NewCache(nil, nil, withBuildFunc(func(sig Signature) (vk.Pipeline, error) {
		return vk.NullPipeline, errors.New("missing stage")
	}))
	c.SetTarget(vk.NullRenderPass, vk.FormatB8g8r8a8Srgb)

	_, err := c.GetOrCreate(Signature{})
	require.Error(t, err)
	var pce *errs.PipelineCreationError
	assert.True(t, errs.As(err, &pce))

	// A failed build is not cached; the next request retries.
	assert.Equal(t, 0, c.Size())
}
