package variant

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/spatial"
)

func sampleValues() []Variant {
	k1 := hash.NewStringHash("health")
	k2 := hash.NewStringHash("mana")
	return []Variant{
		None,
		Bool(true),
		Int(-40),
		Int64(1 << 40),
		Float(1.25),
		Double(-2.5),
		Vector3(spatial.NewVector3(1, -2, 3.5)),
		Quaternion(spatial.QuaternionFromEuler(0, 90, 0)),
		Color(spatial.NewColor(0.25, 0.5, 1)),
		String("hello world"),
		Buffer([]byte{0, 1, 2, 255}),
		FromMap(Map{k1: Int(100), k2: FromList(List{Bool(false), String("x")})}),
		FromList(List{Float(1), FromMap(Map{k1: Int(7)})}),
	}
}

func TestBinaryCodec_TaggedRoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, v), v.Type.String())

		got, err := Read(&buf)
		require.NoError(t, err, v.Type.String())
		assert.True(t, got.Equals(v), "round trip of %s", v.Type.String())
		assert.Zero(t, buf.Len(), "trailing bytes after %s", v.Type.String())
	}
}

func TestBinaryCodec_UntaggedRoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		if v.Type == TypeNone {
			continue
		}
		var buf bytes.Buffer
		require.NoError(t, WriteValue(&buf, v), v.Type.String())

		got, err := ReadValue(&buf, v.Type)
		require.NoError(t, err, v.Type.String())
		assert.True(t, got.Equals(v), "round trip of %s", v.Type.String())
	}
}

func TestBinaryCodec_DeterministicMapOrder(t *testing.T) {
	m := make(Map)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		m[hash.NewStringHash(name)] = String(name)
	}
	v := FromMap(m)

	var first, second bytes.Buffer
	require.NoError(t, Write(&first, v))
	require.NoError(t, Write(&second, v))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestBinaryCodec_RejectsMalformedData(t *testing.T) {
	t.Run("UnknownTypeByte", func(t *testing.T) {
		_, err := Read(bytes.NewReader([]byte{0xEE}))
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("OversizedBlob", func(t *testing.T) {
		raw := []byte{byte(TypeString)}
		raw = binary.LittleEndian.AppendUint32(raw, 0xFFFFFFFF)
		_, err := Read(bytes.NewReader(raw))
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("OversizedContainer", func(t *testing.T) {
		raw := []byte{byte(TypeList)}
		raw = binary.LittleEndian.AppendUint32(raw, 0xFFFFFFF0)
		_, err := Read(bytes.NewReader(raw))
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, Vector3(spatial.NewVector3(1, 2, 3))))
		_, err := Read(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
		assert.Error(t, err)
	})
}

func TestTextForm(t *testing.T) {
	t.Run("ScalarRoundTrip", func(t *testing.T) {
		for _, v := range sampleValues() {
			if v.Type == TypeNone || v.Type == TypeMap || v.Type == TypeList {
				continue
			}
			s := FormatValue(v)
			got, err := ParseValue(v.Type, s)
			require.NoError(t, err, "%s %q", v.Type.String(), s)
			assert.True(t, got.Equals(v), "round trip of %s via %q", v.Type.String(), s)
		}
	})

	t.Run("IntKeepsIDRange", func(t *testing.T) {
		// Node IDs in the local range exceed int32 but must survive the
		// text form unchanged.
		var id = uint32(0xFF000010)
		s := FormatValue(Int(int32(id)))
		got, err := ParseValue(TypeInt, s)
		require.NoError(t, err)
		assert.Equal(t, id, got.UInt())
	})

	t.Run("VectorComponentCount", func(t *testing.T) {
		_, err := ParseValue(TypeVector3, "1 2")
		assert.Error(t, err)
		_, err = ParseValue(TypeQuaternion, "1 0 0 0 0")
		assert.Error(t, err)
	})

	t.Run("BadNumber", func(t *testing.T) {
		_, err := ParseValue(TypeFloat, "abc")
		assert.Error(t, err)
	})
}

func TestJSONForm(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		for _, v := range sampleValues() {
			raw, err := json.Marshal(v)
			require.NoError(t, err, v.Type.String())

			var got Variant
			require.NoError(t, json.Unmarshal(raw, &got), "%s: %s", v.Type.String(), raw)
			assert.True(t, got.Equals(v), "round trip of %s via %s", v.Type.String(), raw)
		}
	})

	t.Run("ScalarShape", func(t *testing.T) {
		raw, err := json.Marshal(Int(42))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"Int","value":"42"}`, string(raw))
	})

	t.Run("MapPairsSortedByKey", func(t *testing.T) {
		m := make(Map)
		for _, name := range []string{"zz", "aa", "mm"} {
			m[hash.NewStringHash(name)] = Int(1)
		}
		first, err := json.Marshal(FromMap(m))
		require.NoError(t, err)
		second, err := json.Marshal(FromMap(m))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("UnknownTypeName", func(t *testing.T) {
		var got Variant
		err := json.Unmarshal([]byte(`{"type":"NoSuchType","value":"1"}`), &got)
		assert.Error(t, err)
	})
}

type xmlEnvelope struct {
	XMLName xml.Name `xml:"envelope"`
	Value   Variant  `xml:"value"`
}

func TestXMLForm(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		for _, v := range sampleValues() {
			raw, err := xml.Marshal(xmlEnvelope{Value: v})
			require.NoError(t, err, v.Type.String())

			var got xmlEnvelope
			require.NoError(t, xml.Unmarshal(raw, &got), "%s: %s", v.Type.String(), raw)
			assert.True(t, got.Value.Equals(v), "round trip of %s via %s", v.Type.String(), raw)
		}
	})

	t.Run("ScalarShape", func(t *testing.T) {
		raw, err := xml.Marshal(xmlEnvelope{Value: String("abc")})
		require.NoError(t, err)
		assert.Equal(t, `<envelope><value type="String" value="abc"></value></envelope>`, string(raw))
	})
}
