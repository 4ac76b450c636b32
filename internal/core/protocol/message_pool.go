package protocol

import (
	"bytes"

	"github.com/scenesync/scenesync/pkg/generic"
)

// maxPooledPayload caps the payload capacity a message may keep when it
// returns to the pool. Oversized one-off payloads are dropped instead of
// pinning memory.
const maxPooledPayload = 64 * 1024

// MessagePool recycles messages and scratch buffers between replication
// ticks.
type MessagePool struct {
	messages *generic.Pool[*Message]
	buffers  *generic.Pool[*bytes.Buffer]
}

// NewMessagePool creates an empty message pool.
func NewMessagePool() *MessagePool {
	return &MessagePool{
		messages: generic.NewPool(func() *Message {
			return &Message{Payload: make([]byte, 0, 256)}
		}),
		buffers: generic.NewPool(func() *bytes.Buffer {
			return new(bytes.Buffer)
		}),
	}
}

// GetMessage returns a reset message from the pool.
func (p *MessagePool) GetMessage() *Message {
	m := p.messages.Get()
	m.reset()
	return m
}

// PutMessage returns a message to the pool.
func (p *MessagePool) PutMessage(m *Message) {
	if m == nil || cap(m.Payload) > maxPooledPayload {
		return
	}
	p.messages.Put(m)
}

// GetBuffer returns a reset scratch buffer from the pool.
func (p *MessagePool) GetBuffer() *bytes.Buffer {
	b := p.buffers.Get()
	b.Reset()
	return b
}

// PutBuffer returns a scratch buffer to the pool.
func (p *MessagePool) PutBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledPayload {
		return
	}
	p.buffers.Put(b)
}

// DefaultMessagePool is the pool Release and the transports use.
var DefaultMessagePool = NewMessagePool()

// NewPooledMessage returns a pooled message holding a copy of payload.
func NewPooledMessage(kind Kind, payload []byte) *Message {
	m := DefaultMessagePool.GetMessage()
	m.Kind = kind
	m.Payload = append(m.Payload[:0], payload...)
	return m
}

// Release returns the message to the default pool. The message must not be
// used afterwards.
func (m *Message) Release() {
	DefaultMessagePool.PutMessage(m)
}
