package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_FrameRoundTrip(t *testing.T) {
	t.Run("BufferRoundTrip", func(t *testing.T) {
		src := NewMessage(KindNodeDelta, []byte{0x01, 0x02, 0x03, 0x04})
		frame := src.Encode(nil)
		assert.Len(t, frame, src.EncodedSize())

		var dst Message
		require.NoError(t, dst.Decode(frame))
		assert.Equal(t, KindNodeDelta, dst.Kind)
		assert.Equal(t, src.Payload, dst.Payload)
	})

	t.Run("StreamRoundTrip", func(t *testing.T) {
		var stream bytes.Buffer
		sent := []*Message{
			NewMessage(KindHello, []byte("hello")),
			NewMessage(KindNodeRemove, []byte{0xAA, 0xBB}),
			NewMessage(KindAck, nil),
		}
		for _, m := range sent {
			require.NoError(t, WriteMessage(&stream, m))
		}

		for _, want := range sent {
			var got Message
			require.NoError(t, ReadMessage(&stream, &got, 1024))
			assert.Equal(t, want.Kind, got.Kind)
			if len(want.Payload) > 0 {
				assert.Equal(t, want.Payload, got.Payload)
			} else {
				assert.Empty(t, got.Payload)
			}
		}

		var extra Message
		assert.ErrorIs(t, ReadMessage(&stream, &extra, 1024), io.EOF)
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		src := NewMessage(KindAck, nil)
		frame := src.Encode(nil)
		assert.Len(t, frame, FrameHeaderSize+1)

		var dst Message
		require.NoError(t, dst.Decode(frame))
		assert.Equal(t, KindAck, dst.Kind)
		assert.Empty(t, dst.Payload)
	})

	t.Run("TruncatedFrame", func(t *testing.T) {
		var dst Message
		assert.ErrorIs(t, dst.Decode([]byte{0x00, 0x01}), ErrInvalidMessage)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		frame := NewMessage(KindHello, []byte("abc")).Encode(nil)
		binary.BigEndian.PutUint64(frame[:FrameHeaderSize], 99)

		var dst Message
		assert.ErrorIs(t, dst.Decode(frame), ErrInvalidMessage)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		frame := NewMessage(Kind(0xEE), []byte("junk")).Encode(nil)

		var dst Message
		assert.ErrorIs(t, dst.Decode(frame), ErrUnknownMessageKind)

		var got Message
		assert.ErrorIs(t, ReadMessage(bytes.NewReader(frame), &got, 1024), ErrUnknownMessageKind)
	})

	t.Run("TooLarge", func(t *testing.T) {
		var stream bytes.Buffer
		require.NoError(t, WriteMessage(&stream, NewMessage(KindNodeDelta, make([]byte, 64))))

		var got Message
		assert.ErrorIs(t, ReadMessage(&stream, &got, 16), ErrMessageTooLarge)
	})
}

func TestMessagePool(t *testing.T) {
	t.Run("GetReturnsReset", func(t *testing.T) {
		pool := NewMessagePool()

		m := pool.GetMessage()
		m.Kind = KindVarDelta
		m.Payload = append(m.Payload, 1, 2, 3)
		pool.PutMessage(m)

		got := pool.GetMessage()
		assert.Equal(t, Kind(0), got.Kind)
		assert.Empty(t, got.Payload)
	})

	t.Run("NewPooledMessageCopies", func(t *testing.T) {
		payload := []byte{1, 2, 3}
		m := NewPooledMessage(KindAck, payload)
		payload[0] = 9

		assert.Equal(t, []byte{1, 2, 3}, m.Payload)
		assert.Equal(t, KindAck, m.Kind)
		m.Release()
	})

	t.Run("BufferReuse", func(t *testing.T) {
		pool := NewMessagePool()

		b := pool.GetBuffer()
		b.WriteString("scratch")
		pool.PutBuffer(b)

		got := pool.GetBuffer()
		assert.Zero(t, got.Len())
	})

	t.Run("NilPutIgnored", func(t *testing.T) {
		pool := NewMessagePool()
		assert.NotPanics(t, func() {
			pool.PutMessage(nil)
			pool.PutBuffer(nil)
		})
	})
}

func TestPayloadReadWrite(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		var buf bytes.Buffer
		pw := NewPayloadWriter(&buf)
		pw.Uint8(7)
		pw.Uint32(0xDEADBEEF)
		pw.Uint64(1 << 40)
		pw.String("avatar")
		require.NoError(t, pw.Err())

		pr := NewPayloadReader(&buf)
		assert.Equal(t, uint8(7), pr.Uint8())
		assert.Equal(t, uint32(0xDEADBEEF), pr.Uint32())
		assert.Equal(t, uint64(1<<40), pr.Uint64())
		assert.Equal(t, "avatar", pr.String())
		assert.NoError(t, pr.Err())
	})

	t.Run("TruncatedRead", func(t *testing.T) {
		pr := NewPayloadReader(bytes.NewReader([]byte{0x01, 0x02}))
		assert.Equal(t, uint8(1), pr.Uint8())

		assert.Zero(t, pr.Uint32())
		require.Error(t, pr.Err())

		// Errors stick: later reads return zero values.
		assert.Zero(t, pr.Uint64())
		assert.Empty(t, pr.String())
	})

	t.Run("StringLengthGuard", func(t *testing.T) {
		var buf bytes.Buffer
		pw := NewPayloadWriter(&buf)
		pw.Uint32(maxPayloadStringLen + 1)
		require.NoError(t, pw.Err())

		pr := NewPayloadReader(&buf)
		assert.Empty(t, pr.String())
		assert.ErrorIs(t, pr.Err(), ErrMalformedPayload)
	})

	t.Run("SharesReader", func(t *testing.T) {
		var buf bytes.Buffer
		pw := NewPayloadWriter(&buf)
		pw.Uint32(42)
		require.NoError(t, pw.Err())
		buf.WriteString("trailing scene data")

		r := bytes.NewReader(buf.Bytes())
		pr := NewPayloadReader(r)
		assert.Equal(t, uint32(42), pr.Uint32())

		rest, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "trailing scene data", string(rest))
	})
}

func TestPayloadCodecs(t *testing.T) {
	t.Run("Hello", func(t *testing.T) {
		var m Message
		EncodeHello(&m, Hello{Version: ProtocolVersion, ClientID: "client-1"})
		assert.Equal(t, KindHello, m.Kind)

		got, err := DecodeHello(&m)
		require.NoError(t, err)
		assert.Equal(t, ProtocolVersion, got.Version)
		assert.Equal(t, ClientID("client-1"), got.ClientID)
	})

	t.Run("SceneChecksum", func(t *testing.T) {
		var m Message
		EncodeSceneChecksum(&m, SceneChecksum{Checksum: 0xCAFEBABE})
		assert.Equal(t, KindSceneChecksum, m.Kind)

		got, err := DecodeSceneChecksum(&m)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xCAFEBABE), got.Checksum)
	})

	t.Run("Ack", func(t *testing.T) {
		var m Message
		EncodeAck(&m, Ack{Frame: 9001})
		assert.Equal(t, KindAck, m.Kind)

		got, err := DecodeAck(&m)
		require.NoError(t, err)
		assert.Equal(t, uint64(9001), got.Frame)
	})

	t.Run("KindMismatch", func(t *testing.T) {
		var m Message
		EncodeSceneChecksum(&m, SceneChecksum{Checksum: 1})

		_, err := DecodeHello(&m)
		assert.ErrorIs(t, err, ErrUnexpectedMessage)
		_, err = DecodeAck(&m)
		assert.ErrorIs(t, err, ErrUnexpectedMessage)
	})

	t.Run("TruncatedPayload", func(t *testing.T) {
		var m Message
		EncodeHello(&m, Hello{Version: 1, ClientID: "client-1"})
		m.Payload = m.Payload[:3]

		_, err := DecodeHello(&m)
		require.Error(t, err)
		assert.Equal(t, ErrCodeMalformedPayload, GetErrorCode(err))
	})

	t.Run("FramedRoundTrip", func(t *testing.T) {
		var m Message
		EncodeHello(&m, Hello{Version: ProtocolVersion, ClientID: "framed"})

		var dst Message
		require.NoError(t, dst.Decode(m.Encode(nil)))

		got, err := DecodeHello(&dst)
		require.NoError(t, err)
		assert.Equal(t, ClientID("framed"), got.ClientID)
	})
}
