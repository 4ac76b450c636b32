// Package spatial provides the float32 vector, quaternion and matrix types
// used by the scene graph. Angles are in degrees throughout.
package spatial

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Epsilon is the tolerance used by approximate comparisons.
const Epsilon = 1e-5

const (
	degToRad     = math32.Pi / 180
	radToDeg     = 180 / math32.Pi
	degToRadHalf = degToRad / 2
)

// Vector3 is a three-component float32 vector.
type Vector3 struct {
	X float32 `json:"x" xml:"x,attr"`
	Y float32 `json:"y" xml:"y,attr"`
	Z float32 `json:"z" xml:"z,attr"`
}

var (
	Vector3Zero    = Vector3{}
	Vector3One     = Vector3{1, 1, 1}
	Vector3Right   = Vector3{1, 0, 0}
	Vector3Up      = Vector3{0, 1, 0}
	Vector3Forward = Vector3{0, 0, 1}
)

// NewVector3 creates a vector from components.
func NewVector3(x, y, z float32) Vector3 {
	return Vector3{x, y, z}
}

func (v Vector3) Add(rhs Vector3) Vector3 {
	return Vector3{v.X + rhs.X, v.Y + rhs.Y, v.Z + rhs.Z}
}

func (v Vector3) Sub(rhs Vector3) Vector3 {
	return Vector3{v.X - rhs.X, v.Y - rhs.Y, v.Z - rhs.Z}
}

func (v Vector3) Negate() Vector3 {
	return Vector3{-v.X, -v.Y, -v.Z}
}

// Scale multiplies all components by s.
func (v Vector3) Scale(s float32) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Mul multiplies componentwise.
func (v Vector3) Mul(rhs Vector3) Vector3 {
	return Vector3{v.X * rhs.X, v.Y * rhs.Y, v.Z * rhs.Z}
}

// Div divides componentwise. Divisor components must be nonzero.
func (v Vector3) Div(rhs Vector3) Vector3 {
	return Vector3{v.X / rhs.X, v.Y / rhs.Y, v.Z / rhs.Z}
}

func (v Vector3) Dot(rhs Vector3) float32 {
	return v.X*rhs.X + v.Y*rhs.Y + v.Z*rhs.Z
}

func (v Vector3) Cross(rhs Vector3) Vector3 {
	return Vector3{
		v.Y*rhs.Z - v.Z*rhs.Y,
		v.Z*rhs.X - v.X*rhs.Z,
		v.X*rhs.Y - v.Y*rhs.X,
	}
}

func (v Vector3) Length() float32 {
	return math32.Sqrt(v.LengthSquared())
}

func (v Vector3) LengthSquared() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Normalized returns a unit-length copy, or the vector unchanged when its
// length is already one or too small to normalize.
func (v Vector3) Normalized() Vector3 {
	lenSq := v.LengthSquared()
	if equalsApprox(lenSq, 1) || lenSq < Epsilon*Epsilon {
		return v
	}
	return v.Scale(1 / math32.Sqrt(lenSq))
}

// Lerp interpolates linearly toward rhs by t in [0, 1].
func (v Vector3) Lerp(rhs Vector3, t float32) Vector3 {
	return v.Add(rhs.Sub(v).Scale(t))
}

// Equals reports approximate equality within Epsilon per component.
func (v Vector3) Equals(rhs Vector3) bool {
	return equalsApprox(v.X, rhs.X) && equalsApprox(v.Y, rhs.Y) && equalsApprox(v.Z, rhs.Z)
}

func (v Vector3) IsNaN() bool {
	return math32.IsNaN(v.X) || math32.IsNaN(v.Y) || math32.IsNaN(v.Z)
}

func (v Vector3) String() string {
	return fmt.Sprintf("%g %g %g", v.X, v.Y, v.Z)
}

func equalsApprox(a, b float32) bool {
	return math32.Abs(a-b) < Epsilon
}
