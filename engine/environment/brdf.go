package environment

import (
	"math"
)

// BRDFLUTSize is the edge length in texels of the split-sum BRDF lookup
// table. Axis X is NdotV, axis Y is roughness.
const BRDFLUTSize = 256

// brdfSampleCount is the number of importance samples integrated per texel.
const brdfSampleCount = 1024

// GenerateBRDFLUT integrates the split-sum environment BRDF on the CPU and
// returns the table as tightly packed RG16F texels. The output depends only
// on the constants above, so repeated calls are bit-identical.
//
// Returns:
//   - []byte: BRDFLUTSize*BRDFLUTSize texels, 4 bytes each (scale, bias)
func GenerateBRDFLUT() []byte {
	out := make([]byte, BRDFLUTSize*BRDFLUTSize*4)
	for y := 0; y < BRDFLUTSize; y++ {
		roughness := (float64(y) + 0.5) / BRDFLUTSize
		for x := 0; x < BRDFLUTSize; x++ {
			ndotv := (float64(x) + 0.5) / BRDFLUTSize
			scale, bias := integrateBRDF(ndotv, roughness)

			i := (y*BRDFLUTSize + x) * 4
			putFloat16(out[i:], float32(scale))
			putFloat16(out[i+2:], float32(bias))
		}
	}
	return out
}

// integrateBRDF computes the scale/bias pair of the split-sum approximation
// for one (NdotV, roughness) cell using GGX importance sampling.
func integrateBRDF(ndotv, roughness float64) (float64, float64) {
	v := [3]float64{math.Sqrt(1 - ndotv*ndotv), 0, ndotv}

	var scale, bias float64
	for i := 0; i < brdfSampleCount; i++ {
		u1, u2 := hammersley(uint32(i), brdfSampleCount)
		h := importanceSampleGGX(u1, u2, roughness)

		// Reflect V about H to get L.
		vdoth := v[0]*h[0] + v[1]*h[1] + v[2]*h[2]
		l := [3]float64{
			2*vdoth*h[0] - v[0],
			2*vdoth*h[1] - v[1],
			2*vdoth*h[2] - v[2],
		}

		ndotl := l[2]
		if ndotl <= 0 {
			continue
		}
		ndoth := h[2]
		if ndoth < 0 {
			ndoth = 0
		}
		if vdoth < 0 {
			vdoth = 0
		}

		g := geometrySmith(ndotv, ndotl, roughness)
		gVis := g * vdoth / (ndoth * ndotv)
		fc := math.Pow(1-vdoth, 5)

		scale += (1 - fc) * gVis
		bias += fc * gVis
	}
	return scale / brdfSampleCount, bias / brdfSampleCount
}

// hammersley returns the i-th point of the 2D Hammersley low-discrepancy
// sequence via radical inverse.
func hammersley(i, n uint32) (float64, float64) {
	bits := i
	bits = (bits << 16) | (bits >> 16)
	bits = ((bits & 0x55555555) << 1) | ((bits & 0xaaaaaaaa) >> 1)
	bits = ((bits & 0x33333333) << 2) | ((bits & 0xcccccccc) >> 2)
	bits = ((bits & 0x0f0f0f0f) << 4) | ((bits & 0xf0f0f0f0) >> 4)
	bits = ((bits & 0x00ff00ff) << 8) | ((bits & 0xff00ff00) >> 8)
	return float64(i) / float64(n), float64(bits) * 2.3283064365386963e-10
}

// importanceSampleGGX maps a uniform sample to a half vector distributed by
// the GGX normal distribution, in tangent space with +Z as the normal.
func importanceSampleGGX(u1, u2, roughness float64) [3]float64 {
	a := roughness * roughness
	phi := 2 * math.Pi * u1
	cosTheta := math.Sqrt((1 - u2) / (1 + (a*a-1)*u2))
	sinTheta := math.Sqrt(1 - cosTheta*cosTheta)
	return [3]float64{
		math.Cos(phi) * sinTheta,
		math.Sin(phi) * sinTheta,
		cosTheta,
	}
}

// geometrySmith is Smith's shadowing-masking term with the Schlick-GGX
// k remapping used for image-based lighting.
func geometrySmith(ndotv, ndotl, roughness float64) float64 {
	k := roughness * roughness / 2
	gv := ndotv / (ndotv*(1-k) + k)
	gl := ndotl / (ndotl*(1-k) + k)
	return gv * gl
}

// putFloat16 encodes f as an IEEE 754 half float at buf[0:2], little endian.
// Inputs here are always finite and within half range.
func putFloat16(buf []byte, f float32) {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	var h uint16
	switch {
	case exp <= 0:
		// Flush denormals and underflow to signed zero.
		h = sign
	case exp >= 0x1f:
		h = sign | 0x7c00
	default:
		h = sign | uint16(exp)<<10 | uint16(mant>>13)
	}
	buf[0] = byte(h)
	buf[1] = byte(h >> 8)
}
