package spatial

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Matrix3x4 is a row-major 3x4 affine transform. Elements are indexed
// [row*4+col]; the fourth column is the translation. The implicit fourth
// row is (0 0 0 1).
type Matrix3x4 [12]float32

var Matrix3x4Identity = Matrix3x4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
}

// NewMatrix3x4 composes a transform from translation, rotation and scale.
func NewMatrix3x4(translation Vector3, rotation Quaternion, scale Vector3) Matrix3x4 {
	r := rotation.rotationMatrix()
	return Matrix3x4{
		r[0] * scale.X, r[1] * scale.Y, r[2] * scale.Z, translation.X,
		r[3] * scale.X, r[4] * scale.Y, r[5] * scale.Z, translation.Y,
		r[6] * scale.X, r[7] * scale.Y, r[8] * scale.Z, translation.Z,
	}
}

// rotationMatrix returns the row-major 3x3 rotation matrix of q.
func (q Quaternion) rotationMatrix() [9]float32 {
	return [9]float32{
		1 - 2*q.Y*q.Y - 2*q.Z*q.Z, 2*q.X*q.Y - 2*q.W*q.Z, 2*q.X*q.Z + 2*q.W*q.Y,
		2*q.X*q.Y + 2*q.W*q.Z, 1 - 2*q.X*q.X - 2*q.Z*q.Z, 2*q.Y*q.Z - 2*q.W*q.X,
		2*q.X*q.Z - 2*q.W*q.Y, 2*q.Y*q.Z + 2*q.W*q.X, 1 - 2*q.X*q.X - 2*q.Y*q.Y,
	}
}

// Mul concatenates transforms: the result applies rhs first, then m.
func (m Matrix3x4) Mul(rhs Matrix3x4) Matrix3x4 {
	return Matrix3x4{
		m[0]*rhs[0] + m[1]*rhs[4] + m[2]*rhs[8],
		m[0]*rhs[1] + m[1]*rhs[5] + m[2]*rhs[9],
		m[0]*rhs[2] + m[1]*rhs[6] + m[2]*rhs[10],
		m[0]*rhs[3] + m[1]*rhs[7] + m[2]*rhs[11] + m[3],
		m[4]*rhs[0] + m[5]*rhs[4] + m[6]*rhs[8],
		m[4]*rhs[1] + m[5]*rhs[5] + m[6]*rhs[9],
		m[4]*rhs[2] + m[5]*rhs[6] + m[6]*rhs[10],
		m[4]*rhs[3] + m[5]*rhs[7] + m[6]*rhs[11] + m[7],
		m[8]*rhs[0] + m[9]*rhs[4] + m[10]*rhs[8],
		m[8]*rhs[1] + m[9]*rhs[5] + m[10]*rhs[9],
		m[8]*rhs[2] + m[9]*rhs[6] + m[10]*rhs[10],
		m[8]*rhs[3] + m[9]*rhs[7] + m[10]*rhs[11] + m[11],
	}
}

// TransformPoint applies the full affine transform to a point.
func (m Matrix3x4) TransformPoint(v Vector3) Vector3 {
	return Vector3{
		m[0]*v.X + m[1]*v.Y + m[2]*v.Z + m[3],
		m[4]*v.X + m[5]*v.Y + m[6]*v.Z + m[7],
		m[8]*v.X + m[9]*v.Y + m[10]*v.Z + m[11],
	}
}

// TransformDirection applies rotation and scale but not translation.
func (m Matrix3x4) TransformDirection(v Vector3) Vector3 {
	return Vector3{
		m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		m[4]*v.X + m[5]*v.Y + m[6]*v.Z,
		m[8]*v.X + m[9]*v.Y + m[10]*v.Z,
	}
}

// Translation returns the translation column.
func (m Matrix3x4) Translation() Vector3 {
	return Vector3{m[3], m[7], m[11]}
}

// Scale returns the per-axis scale as column lengths.
func (m Matrix3x4) Scale() Vector3 {
	return Vector3{
		math32.Sqrt(m[0]*m[0] + m[4]*m[4] + m[8]*m[8]),
		math32.Sqrt(m[1]*m[1] + m[5]*m[5] + m[9]*m[9]),
		math32.Sqrt(m[2]*m[2] + m[6]*m[6] + m[10]*m[10]),
	}
}

// Rotation returns the rotation with scale factored out.
func (m Matrix3x4) Rotation() Quaternion {
	s := m.Scale()
	inv := Vector3{1 / s.X, 1 / s.Y, 1 / s.Z}
	return quaternionFromRotationMatrix([9]float32{
		m[0] * inv.X, m[1] * inv.Y, m[2] * inv.Z,
		m[4] * inv.X, m[5] * inv.Y, m[6] * inv.Z,
		m[8] * inv.X, m[9] * inv.Y, m[10] * inv.Z,
	}).Normalized()
}

// Decompose splits the transform into translation, rotation and scale.
func (m Matrix3x4) Decompose() (translation Vector3, rotation Quaternion, scale Vector3) {
	return m.Translation(), m.Rotation(), m.Scale()
}

// Inverse returns the inverse transform.
func (m Matrix3x4) Inverse() Matrix3x4 {
	det := m[0]*m[5]*m[10] +
		m[4]*m[9]*m[2] +
		m[8]*m[1]*m[6] -
		m[8]*m[5]*m[2] -
		m[4]*m[1]*m[10] -
		m[0]*m[9]*m[6]
	invDet := 1 / det

	var r Matrix3x4
	r[0] = (m[5]*m[10] - m[9]*m[6]) * invDet
	r[1] = -(m[1]*m[10] - m[9]*m[2]) * invDet
	r[2] = (m[1]*m[6] - m[5]*m[2]) * invDet
	r[3] = -(m[3]*r[0] + m[7]*r[1] + m[11]*r[2])
	r[4] = -(m[4]*m[10] - m[8]*m[6]) * invDet
	r[5] = (m[0]*m[10] - m[8]*m[2]) * invDet
	r[6] = -(m[0]*m[6] - m[4]*m[2]) * invDet
	r[7] = -(m[3]*r[4] + m[7]*r[5] + m[11]*r[6])
	r[8] = (m[4]*m[9] - m[8]*m[5]) * invDet
	r[9] = -(m[0]*m[9] - m[8]*m[1]) * invDet
	r[10] = (m[0]*m[5] - m[4]*m[1]) * invDet
	r[11] = -(m[3]*r[8] + m[7]*r[9] + m[11]*r[10])
	return r
}

// Equals reports approximate elementwise equality.
func (m Matrix3x4) Equals(rhs Matrix3x4) bool {
	for i := range m {
		if !equalsApprox(m[i], rhs[i]) {
			return false
		}
	}
	return true
}

func (m Matrix3x4) String() string {
	return fmt.Sprintf("%g %g %g %g | %g %g %g %g | %g %g %g %g",
		m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8], m[9], m[10], m[11])
}
