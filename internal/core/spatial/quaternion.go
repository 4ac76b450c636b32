package spatial

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Quaternion is a rotation. The zero value is not a valid rotation; use
// QuaternionIdentity or a constructor.
type Quaternion struct {
	W float32 `json:"w" xml:"w,attr"`
	X float32 `json:"x" xml:"x,attr"`
	Y float32 `json:"y" xml:"y,attr"`
	Z float32 `json:"z" xml:"z,attr"`
}

var QuaternionIdentity = Quaternion{W: 1}

// QuaternionFromAxisAngle creates a rotation of angle degrees around axis.
func QuaternionFromAxisAngle(axis Vector3, angle float32) Quaternion {
	norm := axis.Normalized()
	half := angle * degToRadHalf
	sin := math32.Sin(half)
	return Quaternion{
		W: math32.Cos(half),
		X: norm.X * sin,
		Y: norm.Y * sin,
		Z: norm.Z * sin,
	}
}

// QuaternionFromEuler creates a rotation from Euler angles in degrees.
// Rotation order is Z first, then X, then Y.
func QuaternionFromEuler(x, y, z float32) Quaternion {
	x *= degToRadHalf
	y *= degToRadHalf
	z *= degToRadHalf
	sinX, cosX := math32.Sincos(x)
	sinY, cosY := math32.Sincos(y)
	sinZ, cosZ := math32.Sincos(z)
	return Quaternion{
		W: cosY*cosX*cosZ + sinY*sinX*sinZ,
		X: cosY*sinX*cosZ + sinY*cosX*sinZ,
		Y: sinY*cosX*cosZ - cosY*sinX*sinZ,
		Z: cosY*cosX*sinZ - sinY*sinX*cosZ,
	}
}

// RotationBetween creates the shortest rotation taking direction start to
// direction end.
func RotationBetween(start, end Vector3) Quaternion {
	normStart := start.Normalized()
	normEnd := end.Normalized()
	d := normStart.Dot(normEnd)

	if d > -1+Epsilon {
		c := normStart.Cross(normEnd)
		s := math32.Sqrt((1 + d) * 2)
		invS := 1 / s
		return Quaternion{W: 0.5 * s, X: c.X * invS, Y: c.Y * invS, Z: c.Z * invS}
	}
	// Opposite vectors: rotate 180 degrees around any perpendicular axis.
	axis := Vector3Right.Cross(normStart)
	if axis.Length() < Epsilon {
		axis = Vector3Up.Cross(normStart)
	}
	return QuaternionFromAxisAngle(axis, 180)
}

// LookRotation creates a rotation whose forward axis points along direction
// with the given up reference. Returns false when the result is degenerate.
func LookRotation(direction, up Vector3) (Quaternion, bool) {
	forward := direction.Normalized()
	v := forward.Cross(up)
	var ret Quaternion
	if v.LengthSquared() >= Epsilon {
		v = v.Normalized()
		newUp := v.Cross(forward)
		right := newUp.Cross(forward)
		ret = quaternionFromAxes(right, newUp, forward)
	} else {
		ret = RotationBetween(Vector3Forward, forward)
	}
	if ret.IsNaN() {
		return QuaternionIdentity, false
	}
	return ret, true
}

func quaternionFromAxes(x, y, z Vector3) Quaternion {
	return quaternionFromRotationMatrix([9]float32{
		x.X, y.X, z.X,
		x.Y, y.Y, z.Y,
		x.Z, y.Z, z.Z,
	})
}

// quaternionFromRotationMatrix converts a row-major 3x3 rotation matrix.
func quaternionFromRotationMatrix(m [9]float32) Quaternion {
	var q Quaternion
	t := m[0] + m[4] + m[8]
	switch {
	case t > 0:
		invS := 0.5 / math32.Sqrt(1+t)
		q.X = (m[7] - m[5]) * invS
		q.Y = (m[2] - m[6]) * invS
		q.Z = (m[3] - m[1]) * invS
		q.W = 0.25 / invS
	case m[0] > m[4] && m[0] > m[8]:
		invS := 0.5 / math32.Sqrt(1+m[0]-m[4]-m[8])
		q.X = 0.25 / invS
		q.Y = (m[1] + m[3]) * invS
		q.Z = (m[6] + m[2]) * invS
		q.W = (m[7] - m[5]) * invS
	case m[4] > m[8]:
		invS := 0.5 / math32.Sqrt(1+m[4]-m[0]-m[8])
		q.X = (m[1] + m[3]) * invS
		q.Y = 0.25 / invS
		q.Z = (m[5] + m[7]) * invS
		q.W = (m[2] - m[6]) * invS
	default:
		invS := 0.5 / math32.Sqrt(1+m[8]-m[0]-m[4])
		q.X = (m[2] + m[6]) * invS
		q.Y = (m[5] + m[7]) * invS
		q.Z = 0.25 / invS
		q.W = (m[3] - m[1]) * invS
	}
	return q
}

// Mul concatenates rotations: the result applies rhs first, then q.
func (q Quaternion) Mul(rhs Quaternion) Quaternion {
	return Quaternion{
		W: q.W*rhs.W - q.X*rhs.X - q.Y*rhs.Y - q.Z*rhs.Z,
		X: q.W*rhs.X + q.X*rhs.W + q.Y*rhs.Z - q.Z*rhs.Y,
		Y: q.W*rhs.Y + q.Y*rhs.W + q.Z*rhs.X - q.X*rhs.Z,
		Z: q.W*rhs.Z + q.Z*rhs.W + q.X*rhs.Y - q.Y*rhs.X,
	}
}

// Rotate applies the rotation to a vector.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	qVec := Vector3{q.X, q.Y, q.Z}
	cross1 := qVec.Cross(v)
	cross2 := qVec.Cross(cross1)
	return v.Add(cross1.Scale(q.W).Add(cross2).Scale(2))
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Inverse returns the inverse rotation.
func (q Quaternion) Inverse() Quaternion {
	lenSq := q.LengthSquared()
	if equalsApprox(lenSq, 1) {
		return q.Conjugate()
	}
	if lenSq >= Epsilon {
		c := q.Conjugate()
		inv := 1 / lenSq
		return Quaternion{W: c.W * inv, X: c.X * inv, Y: c.Y * inv, Z: c.Z * inv}
	}
	return QuaternionIdentity
}

func (q Quaternion) Dot(rhs Quaternion) float32 {
	return q.W*rhs.W + q.X*rhs.X + q.Y*rhs.Y + q.Z*rhs.Z
}

func (q Quaternion) LengthSquared() float32 {
	return q.Dot(q)
}

// Normalized returns a unit-length copy.
func (q Quaternion) Normalized() Quaternion {
	lenSq := q.LengthSquared()
	if equalsApprox(lenSq, 1) || lenSq < Epsilon*Epsilon {
		return q
	}
	inv := 1 / math32.Sqrt(lenSq)
	return Quaternion{W: q.W * inv, X: q.X * inv, Y: q.Y * inv, Z: q.Z * inv}
}

// Slerp interpolates spherically toward rhs by t in [0, 1], taking the
// shortest path.
func (q Quaternion) Slerp(rhs Quaternion, t float32) Quaternion {
	cosAngle := q.Dot(rhs)
	if cosAngle < 0 {
		cosAngle = -cosAngle
		rhs = Quaternion{W: -rhs.W, X: -rhs.X, Y: -rhs.Y, Z: -rhs.Z}
	}

	var t1, t2 float32
	if cosAngle < 1-Epsilon {
		angle := math32.Acos(cosAngle)
		sinAngle := math32.Sin(angle)
		invSinAngle := 1 / sinAngle
		t1 = math32.Sin((1-t)*angle) * invSinAngle
		t2 = math32.Sin(t*angle) * invSinAngle
	} else {
		t1 = 1 - t
		t2 = t
	}

	return Quaternion{
		W: q.W*t1 + rhs.W*t2,
		X: q.X*t1 + rhs.X*t2,
		Y: q.Y*t1 + rhs.Y*t2,
		Z: q.Z*t1 + rhs.Z*t2,
	}
}

// EulerAngles returns the rotation as Euler angles in degrees, matching the
// order used by QuaternionFromEuler.
func (q Quaternion) EulerAngles() Vector3 {
	check := 2 * (-q.Y*q.Z + q.W*q.X)
	switch {
	case check < -0.995:
		return Vector3{
			-90,
			0,
			-math32.Atan2(2*(q.X*q.Z-q.W*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z)) * radToDeg,
		}
	case check > 0.995:
		return Vector3{
			90,
			0,
			math32.Atan2(2*(q.X*q.Z-q.W*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z)) * radToDeg,
		}
	default:
		return Vector3{
			math32.Asin(check) * radToDeg,
			math32.Atan2(2*(q.X*q.Z+q.W*q.Y), 1-2*(q.X*q.X+q.Y*q.Y)) * radToDeg,
			math32.Atan2(2*(q.X*q.Y+q.W*q.Z), 1-2*(q.X*q.X+q.Z*q.Z)) * radToDeg,
		}
	}
}

// Equals reports approximate equality. q and -q describe the same rotation
// but do not compare equal.
func (q Quaternion) Equals(rhs Quaternion) bool {
	return equalsApprox(q.W, rhs.W) && equalsApprox(q.X, rhs.X) &&
		equalsApprox(q.Y, rhs.Y) && equalsApprox(q.Z, rhs.Z)
}

func (q Quaternion) IsNaN() bool {
	return math32.IsNaN(q.W) || math32.IsNaN(q.X) || math32.IsNaN(q.Y) || math32.IsNaN(q.Z)
}

func (q Quaternion) String() string {
	return fmt.Sprintf("%g %g %g %g", q.W, q.X, q.Y, q.Z)
}
