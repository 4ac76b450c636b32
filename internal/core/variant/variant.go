// Package variant provides the tagged-union value type carried by user
// variables and serializable attributes.
package variant

import (
	"bytes"
	"fmt"

	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/spatial"
)

// Type indicates which value a Variant holds and how it is serialized.
type Type uint8

const (
	TypeNone Type = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat
	TypeDouble
	TypeVector3
	TypeQuaternion
	TypeColor
	TypeString
	TypeBuffer
	TypeMap
	TypeList
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeBool:
		return "Bool"
	case TypeInt:
		return "Int"
	case TypeInt64:
		return "Int64"
	case TypeFloat:
		return "Float"
	case TypeDouble:
		return "Double"
	case TypeVector3:
		return "Vector3"
	case TypeQuaternion:
		return "Quaternion"
	case TypeColor:
		return "Color"
	case TypeString:
		return "String"
	case TypeBuffer:
		return "Buffer"
	case TypeMap:
		return "VariantMap"
	case TypeList:
		return "VariantList"
	default:
		return "Unknown"
	}
}

// TypeFromName resolves a type name produced by Type.String. Returns
// TypeNone and false for unknown names.
func TypeFromName(name string) (Type, bool) {
	for t := TypeNone; t <= TypeList; t++ {
		if t.String() == name {
			return t, true
		}
	}
	return TypeNone, false
}

// Variant is a tagged union value. The zero value is None.
type Variant struct {
	Type  Type
	Value any
}

// Map holds named variants keyed by name hash.
type Map map[hash.StringHash]Variant

// List is an ordered collection of variants.
type List []Variant

var None = Variant{}

func Bool(v bool) Variant {
	return Variant{Type: TypeBool, Value: v}
}

func Int(v int32) Variant {
	return Variant{Type: TypeInt, Value: v}
}

func Int64(v int64) Variant {
	return Variant{Type: TypeInt64, Value: v}
}

func Float(v float32) Variant {
	return Variant{Type: TypeFloat, Value: v}
}

func Double(v float64) Variant {
	return Variant{Type: TypeDouble, Value: v}
}

func Vector3(v spatial.Vector3) Variant {
	return Variant{Type: TypeVector3, Value: v}
}

func Quaternion(v spatial.Quaternion) Variant {
	return Variant{Type: TypeQuaternion, Value: v}
}

func Color(v spatial.Color) Variant {
	return Variant{Type: TypeColor, Value: v}
}

func String(v string) Variant {
	return Variant{Type: TypeString, Value: v}
}

func Buffer(v []byte) Variant {
	return Variant{Type: TypeBuffer, Value: v}
}

func FromMap(v Map) Variant {
	return Variant{Type: TypeMap, Value: v}
}

func FromList(v List) Variant {
	return Variant{Type: TypeList, Value: v}
}

func (v Variant) IsNone() bool {
	return v.Type == TypeNone
}

// Typed getters return the zero value on type mismatch.

func (v Variant) Bool() bool {
	if b, ok := v.Value.(bool); ok && v.Type == TypeBool {
		return b
	}
	return false
}

func (v Variant) Int() int32 {
	if i, ok := v.Value.(int32); ok && v.Type == TypeInt {
		return i
	}
	return 0
}

// UInt reinterprets an Int variant as unsigned. Used for node and
// component ID attributes.
func (v Variant) UInt() uint32 {
	return uint32(v.Int())
}

func (v Variant) Int64() int64 {
	if i, ok := v.Value.(int64); ok && v.Type == TypeInt64 {
		return i
	}
	return 0
}

func (v Variant) Float() float32 {
	if f, ok := v.Value.(float32); ok && v.Type == TypeFloat {
		return f
	}
	return 0
}

func (v Variant) Double() float64 {
	if f, ok := v.Value.(float64); ok && v.Type == TypeDouble {
		return f
	}
	return 0
}

func (v Variant) Vector3() spatial.Vector3 {
	if vec, ok := v.Value.(spatial.Vector3); ok && v.Type == TypeVector3 {
		return vec
	}
	return spatial.Vector3{}
}

func (v Variant) Quaternion() spatial.Quaternion {
	if q, ok := v.Value.(spatial.Quaternion); ok && v.Type == TypeQuaternion {
		return q
	}
	return spatial.QuaternionIdentity
}

func (v Variant) Color() spatial.Color {
	if c, ok := v.Value.(spatial.Color); ok && v.Type == TypeColor {
		return c
	}
	return spatial.Color{}
}

func (v Variant) Str() string {
	if s, ok := v.Value.(string); ok && v.Type == TypeString {
		return s
	}
	return ""
}

func (v Variant) Buffer() []byte {
	if b, ok := v.Value.([]byte); ok && v.Type == TypeBuffer {
		return b
	}
	return nil
}

func (v Variant) Map() Map {
	if m, ok := v.Value.(Map); ok && v.Type == TypeMap {
		return m
	}
	return nil
}

func (v Variant) List() List {
	if l, ok := v.Value.(List); ok && v.Type == TypeList {
		return l
	}
	return nil
}

// Equals reports deep equality of type and value. Float comparisons are
// exact; attribute diffing relies on bitwise-identical round trips.
func (v Variant) Equals(rhs Variant) bool {
	if v.Type != rhs.Type {
		return false
	}
	switch v.Type {
	case TypeNone:
		return true
	case TypeBuffer:
		return bytes.Equal(v.Buffer(), rhs.Buffer())
	case TypeMap:
		return v.Map().Equals(rhs.Map())
	case TypeList:
		return v.List().Equals(rhs.List())
	default:
		return v.Value == rhs.Value
	}
}

// Clone returns a deep copy. Scalar variants are returned as-is.
func (v Variant) Clone() Variant {
	switch v.Type {
	case TypeBuffer:
		src := v.Buffer()
		if src == nil {
			return v
		}
		dst := make([]byte, len(src))
		copy(dst, src)
		return Buffer(dst)
	case TypeMap:
		return FromMap(v.Map().Clone())
	case TypeList:
		src := v.List()
		if src == nil {
			return v
		}
		dst := make(List, len(src))
		for i, e := range src {
			dst[i] = e.Clone()
		}
		return FromList(dst)
	default:
		return v
	}
}

func (v Variant) String() string {
	switch v.Type {
	case TypeNone:
		return "none"
	case TypeVector3:
		return v.Vector3().String()
	case TypeQuaternion:
		return v.Quaternion().String()
	case TypeColor:
		return v.Color().String()
	case TypeString:
		return v.Str()
	case TypeBuffer:
		return fmt.Sprintf("%d bytes", len(v.Buffer()))
	case TypeMap:
		return fmt.Sprintf("map of %d", len(v.Map()))
	case TypeList:
		return fmt.Sprintf("list of %d", len(v.List()))
	default:
		return fmt.Sprintf("%v", v.Value)
	}
}

// Equals reports deep equality. Maps with different key sets never match.
func (m Map) Equals(rhs Map) bool {
	if len(m) != len(rhs) {
		return false
	}
	for k, v := range m {
		other, ok := rhs[k]
		if !ok || !v.Equals(other) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the map.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	dst := make(Map, len(m))
	for k, v := range m {
		dst[k] = v.Clone()
	}
	return dst
}

// Equals reports deep equality in order.
func (l List) Equals(rhs List) bool {
	if len(l) != len(rhs) {
		return false
	}
	for i, v := range l {
		if !v.Equals(rhs[i]) {
			return false
		}
	}
	return true
}
