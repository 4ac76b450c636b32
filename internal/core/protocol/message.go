package protocol

import (
	"encoding/binary"
	"io"
)

// ProtocolVersion is the wire version negotiated during the hello exchange.
const ProtocolVersion uint32 = 1

// FrameHeaderSize is the size of the big-endian length prefix that frames
// every message on a byte stream.
const FrameHeaderSize = 8

// Kind identifies the purpose of a message.
type Kind uint8

const (
	KindHello Kind = 1 + iota
	KindSceneChecksum
	KindNodeCreate
	KindNodeDelta
	KindNodeRemove
	KindComponentCreate
	KindComponentDelta
	KindComponentRemove
	KindVarDelta
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindSceneChecksum:
		return "scene_checksum"
	case KindNodeCreate:
		return "node_create"
	case KindNodeDelta:
		return "node_delta"
	case KindNodeRemove:
		return "node_remove"
	case KindComponentCreate:
		return "component_create"
	case KindComponentDelta:
		return "component_delta"
	case KindComponentRemove:
		return "component_remove"
	case KindVarDelta:
		return "var_delta"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k >= KindHello && k <= KindAck
}

// Delta payload flags. A node or component delta carries a reliable record,
// a latest-data record or both; each record is a dirty mask followed by the
// masked attribute values.
const (
	DeltaHasReliable uint8 = 1 << iota
	DeltaHasLatest
)

// Message is a single unit of the replication protocol. The payload layout
// depends on the kind; scene data inside payloads uses the scene package's
// little-endian binary conventions.
type Message struct {
	Kind    Kind
	Payload []byte
}

// NewMessage creates an unpooled message. Hot paths should prefer
// NewPooledMessage.
func NewMessage(kind Kind, payload []byte) *Message {
	return &Message{Kind: kind, Payload: payload}
}

func (m *Message) reset() {
	m.Kind = 0
	m.Payload = m.Payload[:0]
}

// EncodedSize returns the number of bytes the framed wire form occupies.
func (m *Message) EncodedSize() int {
	return FrameHeaderSize + 1 + len(m.Payload)
}

// Encode appends the framed wire form of the message to dst and returns the
// extended slice. The frame is an 8-byte big-endian body length followed by
// the kind byte and the payload.
func (m *Message) Encode(dst []byte) []byte {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(1+len(m.Payload)))
	dst = append(dst, header[:]...)
	dst = append(dst, byte(m.Kind))
	return append(dst, m.Payload...)
}

// Decode replaces the receiver's contents with the message framed in data.
// The whole frame, header included, must be present.
func (m *Message) Decode(data []byte) error {
	if len(data) < FrameHeaderSize+1 {
		return ErrInvalidMessage
	}
	bodyLen := binary.BigEndian.Uint64(data[:FrameHeaderSize])
	if bodyLen == 0 || bodyLen != uint64(len(data)-FrameHeaderSize) {
		return ErrInvalidMessage
	}
	kind := Kind(data[FrameHeaderSize])
	if !kind.valid() {
		return ErrUnknownMessageKind
	}
	m.Kind = kind
	m.Payload = append(m.Payload[:0], data[FrameHeaderSize+1:]...)
	return nil
}

// WriteMessage writes the framed wire form of m to w.
func WriteMessage(w io.Writer, m *Message) error {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(1+len(m.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return WrapError(err, "failed to write message header")
	}
	if _, err := w.Write([]byte{byte(m.Kind)}); err != nil {
		return WrapError(err, "failed to write message kind")
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return WrapError(err, "failed to write message payload")
		}
	}
	return nil
}

// ReadMessage reads the next framed message from r into m. Frames whose body
// exceeds maxSize fail with ErrMessageTooLarge and leave the stream position
// undefined.
func ReadMessage(r io.Reader, m *Message, maxSize uint32) error {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	bodyLen := binary.BigEndian.Uint64(header[:])
	if bodyLen == 0 {
		return ErrInvalidMessage
	}
	if maxSize > 0 && bodyLen > uint64(maxSize) {
		return ErrMessageTooLarge
	}

	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return err
	}
	if !Kind(kind[0]).valid() {
		return ErrUnknownMessageKind
	}

	payloadLen := int(bodyLen - 1)
	if cap(m.Payload) < payloadLen {
		m.Payload = make([]byte, payloadLen)
	} else {
		m.Payload = m.Payload[:payloadLen]
	}
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return err
		}
	}
	m.Kind = Kind(kind[0])
	return nil
}
