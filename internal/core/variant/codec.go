package variant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/spatial"
)

// ErrUnknownType reports a type tag outside the known range.
var ErrUnknownType = errors.New("unknown variant type")

// Decoding limits. Counts and lengths beyond these mark the input as
// corrupt rather than attempting the allocation.
const (
	maxBlobLen      = 64 << 20
	maxContainerLen = 1 << 20
)

// ErrTooLarge reports a length prefix beyond the decoding limits.
var ErrTooLarge = errors.New("variant length exceeds limit")

// Write encodes a variant with a leading type tag. The binary layout is
// little-endian and shared by scene files and replication messages.
func Write(w io.Writer, v Variant) error {
	if err := writeU8(w, uint8(v.Type)); err != nil {
		return err
	}
	return WriteValue(w, v)
}

// WriteValue encodes the payload only. The reader must know the type, as
// replication does from the attribute table.
func WriteValue(w io.Writer, v Variant) error {
	switch v.Type {
	case TypeNone:
		return nil
	case TypeBool:
		var b uint8
		if v.Bool() {
			b = 1
		}
		return writeU8(w, b)
	case TypeInt:
		return writeU32(w, uint32(v.Int()))
	case TypeInt64:
		return writeU64(w, uint64(v.Int64()))
	case TypeFloat:
		return writeU32(w, math.Float32bits(v.Float()))
	case TypeDouble:
		return writeU64(w, math.Float64bits(v.Double()))
	case TypeVector3:
		vec := v.Vector3()
		return writeF32s(w, vec.X, vec.Y, vec.Z)
	case TypeQuaternion:
		q := v.Quaternion()
		return writeF32s(w, q.W, q.X, q.Y, q.Z)
	case TypeColor:
		c := v.Color()
		return writeF32s(w, c.R, c.G, c.B, c.A)
	case TypeString:
		return writeBlob(w, []byte(v.Str()))
	case TypeBuffer:
		return writeBlob(w, v.Buffer())
	case TypeMap:
		return writeMap(w, v.Map())
	case TypeList:
		return writeList(w, v.List())
	default:
		return fmt.Errorf("%w: %d", ErrUnknownType, v.Type)
	}
}

// Read decodes a type-tagged variant.
func Read(r io.Reader) (Variant, error) {
	tag, err := readU8(r)
	if err != nil {
		return None, err
	}
	if Type(tag) > TypeList {
		return None, fmt.Errorf("%w: %d", ErrUnknownType, tag)
	}
	return ReadValue(r, Type(tag))
}

// ReadValue decodes a payload of known type.
func ReadValue(r io.Reader, t Type) (Variant, error) {
	switch t {
	case TypeNone:
		return None, nil
	case TypeBool:
		b, err := readU8(r)
		if err != nil {
			return None, err
		}
		return Bool(b != 0), nil
	case TypeInt:
		u, err := readU32(r)
		if err != nil {
			return None, err
		}
		return Int(int32(u)), nil
	case TypeInt64:
		u, err := readU64(r)
		if err != nil {
			return None, err
		}
		return Int64(int64(u)), nil
	case TypeFloat:
		u, err := readU32(r)
		if err != nil {
			return None, err
		}
		return Float(math.Float32frombits(u)), nil
	case TypeDouble:
		u, err := readU64(r)
		if err != nil {
			return None, err
		}
		return Double(math.Float64frombits(u)), nil
	case TypeVector3:
		f, err := readF32s(r, 3)
		if err != nil {
			return None, err
		}
		return Vector3(spatial.Vector3{X: f[0], Y: f[1], Z: f[2]}), nil
	case TypeQuaternion:
		f, err := readF32s(r, 4)
		if err != nil {
			return None, err
		}
		return Quaternion(spatial.Quaternion{W: f[0], X: f[1], Y: f[2], Z: f[3]}), nil
	case TypeColor:
		f, err := readF32s(r, 4)
		if err != nil {
			return None, err
		}
		return Color(spatial.Color{R: f[0], G: f[1], B: f[2], A: f[3]}), nil
	case TypeString:
		b, err := readBlob(r)
		if err != nil {
			return None, err
		}
		return String(string(b)), nil
	case TypeBuffer:
		b, err := readBlob(r)
		if err != nil {
			return None, err
		}
		return Buffer(b), nil
	case TypeMap:
		m, err := readMap(r)
		if err != nil {
			return None, err
		}
		return FromMap(m), nil
	case TypeList:
		l, err := readList(r)
		if err != nil {
			return None, err
		}
		return FromList(l), nil
	default:
		return None, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// sortedKeys returns map keys ordered by hash value so encoded output is
// deterministic.
func sortedKeys(m Map) []hash.StringHash {
	keys := make([]hash.StringHash, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Value() < keys[j].Value() })
	return keys
}

func writeMap(w io.Writer, m Map) error {
	if err := writeU32(w, uint32(len(m))); err != nil {
		return err
	}
	for _, k := range sortedKeys(m) {
		if err := writeU64(w, k.Value()); err != nil {
			return err
		}
		if err := Write(w, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func readMap(r io.Reader) (Map, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n > maxContainerLen {
		return nil, fmt.Errorf("%w: map of %d entries", ErrTooLarge, n)
	}
	m := make(Map, n)
	for i := uint32(0); i < n; i++ {
		k, err := readU64(r)
		if err != nil {
			return nil, err
		}
		v, err := Read(r)
		if err != nil {
			return nil, err
		}
		m[hash.StringHash(k)] = v
	}
	return m, nil
}

func writeList(w io.Writer, l List) error {
	if err := writeU32(w, uint32(len(l))); err != nil {
		return err
	}
	for _, v := range l {
		if err := Write(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readList(r io.Reader) (List, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n > maxContainerLen {
		return nil, fmt.Errorf("%w: list of %d entries", ErrTooLarge, n)
	}
	l := make(List, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := Read(r)
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
	return l, nil
}

func writeBlob(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func readBlob(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n > maxBlobLen {
		return nil, fmt.Errorf("%w: blob of %d bytes", ErrTooLarge, n)
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeF32s(w io.Writer, vs ...float32) error {
	for _, v := range vs {
		if err := writeU32(w, math.Float32bits(v)); err != nil {
			return err
		}
	}
	return nil
}

func readU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readF32s(r io.Reader, n int) ([4]float32, error) {
	var out [4]float32
	for i := 0; i < n; i++ {
		u, err := readU32(r)
		if err != nil {
			return out, err
		}
		out[i] = math.Float32frombits(u)
	}
	return out, nil
}
