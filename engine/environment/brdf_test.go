package environment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float16At(lut []byte, x, y, component int) float64 {
	i := (y*BRDFLUTSize+x)*4 + component*2
	h := uint16(lut[i]) | uint16(lut[i+1])<<8
	sign := 1.0
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int((h >> 10) & 0x1f)
	mant := float64(h & 0x3ff)
	switch exp {
	case 0:
		return sign * mant / 1024 * math.Pow(2, -14)
	case 0x1f:
		return sign * math.Inf(1)
	default:
		return sign * (1 + mant/1024) * math.Pow(2, float64(exp-15))
	}
}

func TestGenerateBRDFLUTIsDeterministic(t *testing.T) {
	a := GenerateBRDFLUT()
	b := GenerateBRDFLUT()
	assert.Equal(t, a, b)
	assert.Len(t, a, BRDFLUTSize*BRDFLUTSize*4)
}

func TestBRDFLUTValuesAreWellFormed(t *testing.T) {
	lut := GenerateBRDFLUT()

	// Spot-check a grid of cells: both terms stay in [0, 1] and their sum
	// never exceeds 1 (energy conservation of the split-sum terms).
	for y := 8; y < BRDFLUTSize; y += 32 {
		for x := 8; x < BRDFLUTSize; x += 32 {
			scale := float16At(lut, x, y, 0)
			bias := float16At(lut, x, y, 1)
			require.GreaterOrEqual(t, scale, 0.0, "scale at (%d,%d)", x, y)
			require.GreaterOrEqual(t, bias, 0.0, "bias at (%d,%d)", x, y)
			assert.LessOrEqual(t, scale+bias, 1.01, "sum at (%d,%d)", x, y)
		}
	}
}

func TestBRDFLUTFresnelBiasGrowsAtGrazingAngles(t *testing.T) {
	lut := GenerateBRDFLUT()

	// At low roughness, the Fresnel bias term is larger at grazing
	// incidence (small NdotV) than head-on.
	grazing := float16At(lut, 8, 16, 1)
	headOn := float16At(lut, BRDFLUTSize-8, 16, 1)
	assert.Greater(t, grazing, headOn)
}

func TestHalfFloatEncoding(t *testing.T) {
	var buf [2]byte

	putFloat16(buf[:], 1.0)
	assert.Equal(t, []byte{0x00, 0x3c}, buf[:])

	putFloat16(buf[:], 0.5)
	assert.Equal(t, []byte{0x00, 0x38}, buf[:])

	putFloat16(buf[:], 0)
	assert.Equal(t, []byte{0x00, 0x00}, buf[:])
}
