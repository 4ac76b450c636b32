package spatial

import "fmt"

// Color is an RGBA color with float32 components, normally in [0, 1].
type Color struct {
	R float32 `json:"r" xml:"r,attr"`
	G float32 `json:"g" xml:"g,attr"`
	B float32 `json:"b" xml:"b,attr"`
	A float32 `json:"a" xml:"a,attr"`
}

var (
	ColorWhite = Color{1, 1, 1, 1}
	ColorBlack = Color{0, 0, 0, 1}
)

// NewColor creates an opaque color.
func NewColor(r, g, b float32) Color {
	return Color{r, g, b, 1}
}

// Lerp interpolates linearly toward rhs by t in [0, 1].
func (c Color) Lerp(rhs Color, t float32) Color {
	return Color{
		c.R + (rhs.R-c.R)*t,
		c.G + (rhs.G-c.G)*t,
		c.B + (rhs.B-c.B)*t,
		c.A + (rhs.A-c.A)*t,
	}
}

// Equals reports approximate equality within Epsilon per component.
func (c Color) Equals(rhs Color) bool {
	return equalsApprox(c.R, rhs.R) && equalsApprox(c.G, rhs.G) &&
		equalsApprox(c.B, rhs.B) && equalsApprox(c.A, rhs.A)
}

func (c Color) String() string {
	return fmt.Sprintf("%g %g %g %g", c.R, c.G, c.B, c.A)
}
