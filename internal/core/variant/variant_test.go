package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/spatial"
)

func TestVariant_TypedAccess(t *testing.T) {
	t.Run("ZeroValueIsNone", func(t *testing.T) {
		var v Variant
		assert.True(t, v.IsNone())
		assert.Equal(t, TypeNone, v.Type)
	})

	t.Run("ConstructorsCarryType", func(t *testing.T) {
		assert.Equal(t, TypeBool, Bool(true).Type)
		assert.Equal(t, TypeInt, Int(-7).Type)
		assert.Equal(t, TypeVector3, Vector3(spatial.NewVector3(1, 2, 3)).Type)
		assert.Equal(t, TypeString, String("abc").Type)
	})

	t.Run("GettersReturnValue", func(t *testing.T) {
		assert.Equal(t, true, Bool(true).Bool())
		assert.Equal(t, int32(-7), Int(-7).Int())
		assert.Equal(t, int64(1<<40), Int64(1<<40).Int64())
		assert.Equal(t, float32(1.5), Float(1.5).Float())
		assert.Equal(t, 2.5, Double(2.5).Double())
		assert.Equal(t, "abc", String("abc").Str())
		assert.Equal(t, []byte{1, 2}, Buffer([]byte{1, 2}).Buffer())
		assert.Equal(t, spatial.NewVector3(1, 2, 3), Vector3(spatial.NewVector3(1, 2, 3)).Vector3())
	})

	t.Run("MismatchedGetterFallsBack", func(t *testing.T) {
		v := String("abc")
		assert.Equal(t, int32(0), v.Int())
		assert.Equal(t, false, v.Bool())
		assert.Nil(t, v.Buffer())
		assert.Equal(t, spatial.QuaternionIdentity, v.Quaternion())
	})

	t.Run("UIntRoundTripsIDs", func(t *testing.T) {
		var id = uint32(0xFFFFFFF0)
		v := Int(int32(id))
		assert.Equal(t, id, v.UInt())
	})
}

func TestVariant_Equality(t *testing.T) {
	t.Run("ScalarEquality", func(t *testing.T) {
		assert.True(t, Int(3).Equals(Int(3)))
		assert.False(t, Int(3).Equals(Int(4)))
		assert.False(t, Int(3).Equals(Int64(3)))
	})

	t.Run("BufferEquality", func(t *testing.T) {
		assert.True(t, Buffer([]byte{1, 2}).Equals(Buffer([]byte{1, 2})))
		assert.False(t, Buffer([]byte{1, 2}).Equals(Buffer([]byte{1, 3})))
	})

	t.Run("MapEquality", func(t *testing.T) {
		k := hash.NewStringHash("health")
		a := Map{k: Int(100)}
		b := Map{k: Int(100)}
		assert.True(t, FromMap(a).Equals(FromMap(b)))
		b[k] = Int(99)
		assert.False(t, FromMap(a).Equals(FromMap(b)))
	})
}

func TestVariant_Clone(t *testing.T) {
	t.Run("BufferCloneIsIndependent", func(t *testing.T) {
		orig := Buffer([]byte{1, 2, 3})
		clone := orig.Clone()
		clone.Buffer()[0] = 9
		assert.Equal(t, byte(1), orig.Buffer()[0])
	})

	t.Run("NestedMapCloneIsIndependent", func(t *testing.T) {
		inner := hash.NewStringHash("inner")
		outer := hash.NewStringHash("outer")
		m := Map{outer: FromMap(Map{inner: Int(1)})}
		clone := FromMap(m).Clone()
		require.Equal(t, TypeMap, clone.Type)

		clone.Map()[outer].Map()[inner] = Int(2)
		assert.Equal(t, int32(1), m[outer].Map()[inner].Int())
	})
}

func TestTypeFromName(t *testing.T) {
	for ty := TypeNone; ty <= TypeList; ty++ {
		got, ok := TypeFromName(ty.String())
		require.True(t, ok, ty.String())
		assert.Equal(t, ty, got)
	}
	_, ok := TypeFromName("NoSuchType")
	assert.False(t, ok)
}
