package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector3_Operations(t *testing.T) {
	t.Run("AddSub", func(t *testing.T) {
		a := NewVector3(1, 2, 3)
		b := NewVector3(4, 5, 6)
		assert.True(t, a.Add(b).Equals(NewVector3(5, 7, 9)))
		assert.True(t, b.Sub(a).Equals(NewVector3(3, 3, 3)))
	})

	t.Run("DotCross", func(t *testing.T) {
		assert.InDelta(t, 0, float64(Vector3Right.Dot(Vector3Up)), 1e-6)
		assert.True(t, Vector3Right.Cross(Vector3Up).Equals(Vector3Forward))
	})

	t.Run("Normalized", func(t *testing.T) {
		v := NewVector3(3, 0, 4)
		n := v.Normalized()
		assert.InDelta(t, 1, float64(n.Length()), 1e-6)
		assert.True(t, n.Equals(NewVector3(0.6, 0, 0.8)))
	})

	t.Run("Lerp", func(t *testing.T) {
		a := NewVector3(0, 0, 0)
		b := NewVector3(10, -10, 2)
		assert.True(t, a.Lerp(b, 0.5).Equals(NewVector3(5, -5, 1)))
	})
}

func TestQuaternion_Rotation(t *testing.T) {
	t.Run("IdentityLeavesVectorAlone", func(t *testing.T) {
		v := NewVector3(1, 2, 3)
		assert.True(t, QuaternionIdentity.Rotate(v).Equals(v))
	})

	t.Run("AxisAngle90AroundY", func(t *testing.T) {
		q := QuaternionFromAxisAngle(Vector3Up, 90)
		got := q.Rotate(Vector3Forward)
		assert.True(t, got.Equals(Vector3Right), "got %v", got)
	})

	t.Run("MulConcatenates", func(t *testing.T) {
		a := QuaternionFromAxisAngle(Vector3Up, 90)
		b := QuaternionFromAxisAngle(Vector3Up, 45)
		c := a.Mul(b)
		want := QuaternionFromAxisAngle(Vector3Up, 135)
		assert.True(t, c.Equals(want) || c.Equals(Quaternion{-want.W, -want.X, -want.Y, -want.Z}))
	})

	t.Run("InverseUndoesRotation", func(t *testing.T) {
		q := QuaternionFromEuler(30, 60, -45)
		v := NewVector3(1, 2, 3)
		assert.True(t, q.Inverse().Rotate(q.Rotate(v)).Equals(v))
	})

	t.Run("EulerRoundTrip", func(t *testing.T) {
		q := QuaternionFromEuler(10, 20, 30)
		e := q.EulerAngles()
		q2 := QuaternionFromEuler(e.X, e.Y, e.Z)
		v := NewVector3(0.5, -1, 2)
		assert.True(t, q.Rotate(v).Equals(q2.Rotate(v)))
	})

	t.Run("SlerpEndpoints", func(t *testing.T) {
		a := QuaternionIdentity
		b := QuaternionFromAxisAngle(Vector3Up, 90)
		assert.True(t, a.Slerp(b, 0).Equals(a))
		assert.True(t, a.Slerp(b, 1).Equals(b))
		mid := a.Slerp(b, 0.5)
		want := QuaternionFromAxisAngle(Vector3Up, 45)
		assert.True(t, mid.Equals(want), "got %v want %v", mid, want)
	})

	t.Run("RotationBetween", func(t *testing.T) {
		q := RotationBetween(Vector3Forward, Vector3Right)
		assert.True(t, q.Rotate(Vector3Forward).Equals(Vector3Right))
	})
}

func TestMatrix3x4_Transform(t *testing.T) {
	t.Run("IdentityIsNoOp", func(t *testing.T) {
		v := NewVector3(1, 2, 3)
		assert.True(t, Matrix3x4Identity.TransformPoint(v).Equals(v))
	})

	t.Run("ComposeAndDecompose", func(t *testing.T) {
		tr := NewVector3(1, -2, 3)
		rot := QuaternionFromEuler(15, 30, 45)
		sc := NewVector3(2, 2, 2)
		m := NewMatrix3x4(tr, rot, sc)

		gotT, gotR, gotS := m.Decompose()
		assert.True(t, gotT.Equals(tr))
		assert.True(t, gotS.Equals(sc))
		v := NewVector3(1, 1, 1)
		assert.True(t, gotR.Rotate(v).Equals(rot.Rotate(v)))
	})

	t.Run("ParentChildComposition", func(t *testing.T) {
		parent := NewMatrix3x4(NewVector3(1, 0, 0), QuaternionIdentity, Vector3One)
		child := NewMatrix3x4(NewVector3(0, 2, 0), QuaternionIdentity, Vector3One)
		world := parent.Mul(child)
		assert.True(t, world.Translation().Equals(NewVector3(1, 2, 0)))
	})

	t.Run("InverseRoundTrip", func(t *testing.T) {
		m := NewMatrix3x4(NewVector3(5, 6, 7), QuaternionFromEuler(10, 20, 30), NewVector3(1, 2, 0.5))
		require.True(t, m.Mul(m.Inverse()).Equals(Matrix3x4Identity))

		p := NewVector3(-3, 4, 9)
		back := m.Inverse().TransformPoint(m.TransformPoint(p))
		assert.True(t, back.Equals(p), "got %v", back)
	})
}
