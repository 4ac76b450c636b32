package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
)

// maxPayloadStringLen caps length-prefixed strings read from untrusted
// payloads.
const maxPayloadStringLen = 1 << 20

// PayloadWriter composes message payloads in little-endian byte order, the
// same conventions the scene binary format uses. Errors stick; callers check
// Err once after the last write.
type PayloadWriter struct {
	w   io.Writer
	err error
}

func NewPayloadWriter(w io.Writer) *PayloadWriter {
	return &PayloadWriter{w: w}
}

func (pw *PayloadWriter) write(p []byte) {
	if pw.err != nil {
		return
	}
	_, pw.err = pw.w.Write(p)
}

func (pw *PayloadWriter) Uint8(v uint8) {
	pw.write([]byte{v})
}

func (pw *PayloadWriter) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	pw.write(b[:])
}

func (pw *PayloadWriter) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	pw.write(b[:])
}

// String writes a uint32 length prefix followed by the raw bytes.
func (pw *PayloadWriter) String(s string) {
	pw.Uint32(uint32(len(s)))
	pw.write([]byte(s))
}

func (pw *PayloadWriter) Err() error {
	return pw.err
}

// PayloadReader decodes message payloads written by PayloadWriter. It shares
// its underlying reader, so scene wire data interleaved with header fields
// can be read from the same stream. Errors stick; zero values are returned
// after the first failure.
type PayloadReader struct {
	r   io.Reader
	err error
}

func NewPayloadReader(r io.Reader) *PayloadReader {
	return &PayloadReader{r: r}
}

func (pr *PayloadReader) read(p []byte) bool {
	if pr.err != nil {
		return false
	}
	if _, err := io.ReadFull(pr.r, p); err != nil {
		pr.err = err
		return false
	}
	return true
}

func (pr *PayloadReader) Uint8() uint8 {
	var b [1]byte
	if !pr.read(b[:]) {
		return 0
	}
	return b[0]
}

func (pr *PayloadReader) Uint32() uint32 {
	var b [4]byte
	if !pr.read(b[:]) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (pr *PayloadReader) Uint64() uint64 {
	var b [8]byte
	if !pr.read(b[:]) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (pr *PayloadReader) String() string {
	length := pr.Uint32()
	if pr.err != nil {
		return ""
	}
	if length > maxPayloadStringLen {
		pr.err = ErrMalformedPayload
		return ""
	}
	buf := make([]byte, length)
	if !pr.read(buf) {
		return ""
	}
	return string(buf)
}

func (pr *PayloadReader) Err() error {
	return pr.err
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func appendString(dst []byte, s string) []byte {
	dst = appendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// Hello is the first message a client sends after the transport connects.
type Hello struct {
	Version  uint32
	ClientID ClientID
}

// EncodeHello fills m with a hello message.
func EncodeHello(m *Message, h Hello) {
	m.Kind = KindHello
	m.Payload = appendUint32(m.Payload[:0], h.Version)
	m.Payload = appendString(m.Payload, string(h.ClientID))
}

// DecodeHello parses a hello message.
func DecodeHello(m *Message) (Hello, error) {
	if m.Kind != KindHello {
		return Hello{}, ErrUnexpectedMessage
	}
	pr := NewPayloadReader(bytes.NewReader(m.Payload))
	h := Hello{Version: pr.Uint32(), ClientID: ClientID(pr.String())}
	if err := pr.Err(); err != nil {
		return Hello{}, WrapError(ErrMalformedPayload, "failed to decode hello")
	}
	return h, nil
}

// SceneChecksum carries the server's registry checksum so the client can
// verify both ends agree on the replicated attribute layout.
type SceneChecksum struct {
	Checksum uint32
}

// EncodeSceneChecksum fills m with a scene checksum message.
func EncodeSceneChecksum(m *Message, c SceneChecksum) {
	m.Kind = KindSceneChecksum
	m.Payload = appendUint32(m.Payload[:0], c.Checksum)
}

// DecodeSceneChecksum parses a scene checksum message.
func DecodeSceneChecksum(m *Message) (SceneChecksum, error) {
	if m.Kind != KindSceneChecksum {
		return SceneChecksum{}, ErrUnexpectedMessage
	}
	pr := NewPayloadReader(bytes.NewReader(m.Payload))
	c := SceneChecksum{Checksum: pr.Uint32()}
	if err := pr.Err(); err != nil {
		return SceneChecksum{}, WrapError(ErrMalformedPayload, "failed to decode scene checksum")
	}
	return c, nil
}

// Ack reports the last replication frame a client finished applying.
type Ack struct {
	Frame uint64
}

// EncodeAck fills m with an ack message.
func EncodeAck(m *Message, a Ack) {
	m.Kind = KindAck
	m.Payload = appendUint64(m.Payload[:0], a.Frame)
}

// DecodeAck parses an ack message.
func DecodeAck(m *Message) (Ack, error) {
	if m.Kind != KindAck {
		return Ack{}, ErrUnexpectedMessage
	}
	pr := NewPayloadReader(bytes.NewReader(m.Payload))
	a := Ack{Frame: pr.Uint64()}
	if err := pr.Err(); err != nil {
		return Ack{}, WrapError(ErrMalformedPayload, "failed to decode ack")
	}
	return a, nil
}
