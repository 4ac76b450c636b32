package variant

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/scenesync/scenesync/internal/core/spatial"
)

// FormatValue renders a scalar variant as the flat string used by the JSON
// and XML scene formats: floats at round-trip precision, vector types as
// space-separated components, buffers base64. Containers have no flat form
// and return the empty string.
func FormatValue(v Variant) string {
	switch v.Type {
	case TypeBool:
		return strconv.FormatBool(v.Bool())
	case TypeInt:
		return strconv.FormatInt(int64(v.Int()), 10)
	case TypeInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case TypeFloat:
		return formatF32(v.Float())
	case TypeDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case TypeVector3:
		vec := v.Vector3()
		return joinF32(vec.X, vec.Y, vec.Z)
	case TypeQuaternion:
		q := v.Quaternion()
		return joinF32(q.W, q.X, q.Y, q.Z)
	case TypeColor:
		c := v.Color()
		return joinF32(c.R, c.G, c.B, c.A)
	case TypeString:
		return v.Str()
	case TypeBuffer:
		return base64.StdEncoding.EncodeToString(v.Buffer())
	default:
		return ""
	}
}

// ParseValue parses a FormatValue string back into a variant of the given
// type. Containers cannot be parsed from a flat string.
func ParseValue(t Type, s string) (Variant, error) {
	switch t {
	case TypeNone:
		return None, nil
	case TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return None, fmt.Errorf("parse bool %q: %w", s, err)
		}
		return Bool(b), nil
	case TypeInt:
		// Accept the unsigned form so ID attributes above 2^31 round-trip.
		if u, err := strconv.ParseUint(s, 10, 32); err == nil {
			return Int(int32(u)), nil
		}
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return None, fmt.Errorf("parse int %q: %w", s, err)
		}
		return Int(int32(i)), nil
	case TypeInt64:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return None, fmt.Errorf("parse int64 %q: %w", s, err)
		}
		return Int64(i), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return None, fmt.Errorf("parse float %q: %w", s, err)
		}
		return Float(float32(f)), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return None, fmt.Errorf("parse double %q: %w", s, err)
		}
		return Double(f), nil
	case TypeVector3:
		f, err := splitF32(s, 3)
		if err != nil {
			return None, err
		}
		return Vector3(spatial.Vector3{X: f[0], Y: f[1], Z: f[2]}), nil
	case TypeQuaternion:
		f, err := splitF32(s, 4)
		if err != nil {
			return None, err
		}
		return Quaternion(spatial.Quaternion{W: f[0], X: f[1], Y: f[2], Z: f[3]}), nil
	case TypeColor:
		f, err := splitF32(s, 4)
		if err != nil {
			return None, err
		}
		return Color(spatial.Color{R: f[0], G: f[1], B: f[2], A: f[3]}), nil
	case TypeString:
		return String(s), nil
	case TypeBuffer:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return None, fmt.Errorf("parse buffer: %w", err)
		}
		return Buffer(b), nil
	default:
		return None, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

func formatF32(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

func joinF32(fs ...float32) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = formatF32(f)
	}
	return strings.Join(parts, " ")
}

func splitF32(s string, n int) ([4]float32, error) {
	var out [4]float32
	parts := strings.Fields(s)
	if len(parts) != n {
		return out, fmt.Errorf("want %d components, got %q", n, s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return out, fmt.Errorf("parse component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
