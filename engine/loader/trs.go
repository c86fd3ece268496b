package loader

import (
	"math"

	"github.com/pkg/errors"
)

// decomposeTRS splits a column-major 4x4 node matrix into translation,
// rotation quaternion, and scale. Matrices with shear or a zero-length basis
// vector are rejected.
func decomposeTRS(m [16]float32) (t [3]float32, r [4]float32, s [3]float32, err error) {
	t = [3]float32{m[12], m[13], m[14]}

	s[0] = vecLen(m[0], m[1], m[2])
	s[1] = vecLen(m[4], m[5], m[6])
	s[2] = vecLen(m[8], m[9], m[10])
	if s[0] == 0 || s[1] == 0 || s[2] == 0 {
		err = errors.New("node matrix has a zero-length basis vector")
		return
	}

	// Negative determinant means one axis is mirrored; fold it into x scale.
	det := m[0]*(m[5]*m[10]-m[6]*m[9]) - m[4]*(m[1]*m[10]-m[2]*m[9]) + m[8]*(m[1]*m[6]-m[2]*m[5])
	if det < 0 {
		s[0] = -s[0]
	}

	// Normalized rotation columns.
	var rot [9]float32
	rot[0], rot[1], rot[2] = m[0]/s[0], m[1]/s[0], m[2]/s[0]
	rot[3], rot[4], rot[5] = m[4]/s[1], m[5]/s[1], m[6]/s[1]
	rot[6], rot[7], rot[8] = m[8]/s[2], m[9]/s[2], m[10]/s[2]

	r = matToQuat(rot)
	return
}

func vecLen(x, y, z float32) float32 {
	return float32(math.Sqrt(float64(x*x + y*y + z*z)))
}

// matToQuat converts a column-major 3x3 rotation matrix to a unit quaternion
// (x, y, z, w) using the stable branch per largest diagonal element.
func matToQuat(m [9]float32) [4]float32 {
	trace := m[0] + m[4] + m[8]

	var q [4]float32
	switch {
	case trace > 0:
		k := float32(math.Sqrt(float64(trace+1))) * 2
		q[3] = k / 4
		q[0] = (m[5] - m[7]) / k
		q[1] = (m[6] - m[2]) / k
		q[2] = (m[1] - m[3]) / k
	case m[0] > m[4] && m[0] > m[8]:
		k := float32(math.Sqrt(float64(1+m[0]-m[4]-m[8]))) * 2
		q[3] = (m[5] - m[7]) / k
		q[0] = k / 4
		q[1] = (m[3] + m[1]) / k
		q[2] = (m[6] + m[2]) / k
	case m[4] > m[8]:
		k := float32(math.Sqrt(float64(1+m[4]-m[0]-m[8]))) * 2
		q[3] = (m[6] - m[2]) / k
		q[0] = (m[3] + m[1]) / k
		q[1] = k / 4
		q[2] = (m[7] + m[5]) / k
	default:
		k := float32(math.Sqrt(float64(1+m[8]-m[0]-m[4]))) * 2
		q[3] = (m[1] - m[3]) / k
		q[0] = (m[6] + m[2]) / k
		q[1] = (m[7] + m[5]) / k
		q[2] = k / 4
	}
	return q
}
