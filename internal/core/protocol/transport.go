package protocol

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/scenesync/scenesync/internal/core/log"
)

// Transport opens and accepts protocol connections over one wire protocol.
type Transport interface {
	Type() TransportType
	Listen(ctx context.Context, addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
	Close() error
}

// Listener accepts incoming connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Conn is a transport-agnostic connection carrying framed messages.
//
// Send enqueues without blocking and hands message ownership to the
// connection; the message returns to the pool once written. Receive hands
// ownership to the caller, who releases the message when done.
type Conn interface {
	ID() ConnectionID
	Transport() TransportType
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	Send(m *Message) error
	Receive(ctx context.Context) (*Message, error)
	Info() ConnectionInfo
	Close() error
}

// connBase carries the identity, queue and counter plumbing shared by the
// websocket and QUIC connections.
type connBase struct {
	id          ConnectionID
	transport   TransportType
	remoteAddr  net.Addr
	localAddr   net.Addr
	connectedAt time.Time

	sendQueue chan *Message
	recvQueue chan *Message
	done      chan struct{}
	closed    int32

	lastActivity  int64 // unix nanoseconds
	bytesSent     uint64
	bytesReceived uint64

	logger log.Log
}

func newConnBase(transport TransportType, remote, local net.Addr, config Config, logger log.Log) connBase {
	id := GenerateConnectionID()
	now := time.Now()
	return connBase{
		id:           id,
		transport:    transport,
		remoteAddr:   remote,
		localAddr:    local,
		connectedAt:  now,
		sendQueue:    make(chan *Message, config.SendQueueSize),
		recvQueue:    make(chan *Message, config.ReceiveQueueSize),
		done:         make(chan struct{}),
		lastActivity: now.UnixNano(),
		logger:       logger.With(log.String("connection_id", string(id))),
	}
}

func (c *connBase) ID() ConnectionID         { return c.id }
func (c *connBase) Transport() TransportType { return c.transport }
func (c *connBase) RemoteAddr() net.Addr     { return c.remoteAddr }
func (c *connBase) LocalAddr() net.Addr      { return c.localAddr }

func (c *connBase) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// markClosed flips the closed flag once. The first caller wins and performs
// the actual teardown.
func (c *connBase) markClosed() bool {
	return atomic.CompareAndSwapInt32(&c.closed, 0, 1)
}

func (c *connBase) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

func (c *connBase) addSent(n int) {
	atomic.AddUint64(&c.bytesSent, uint64(n))
	c.touch()
}

func (c *connBase) addReceived(n int) {
	atomic.AddUint64(&c.bytesReceived, uint64(n))
	c.touch()
}

// Send enqueues a message for the write loop.
func (c *connBase) Send(m *Message) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	select {
	case c.sendQueue <- m:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// Receive returns the next incoming message. Messages queued before the
// connection closed are still delivered.
func (c *connBase) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-c.recvQueue:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		select {
		case m := <-c.recvQueue:
			return m, nil
		default:
			return nil, ErrConnectionClosed
		}
	}
}

// enqueueIncoming blocks when the receive queue is full so a stalled
// consumer applies backpressure instead of losing state updates.
func (c *connBase) enqueueIncoming(m *Message) bool {
	select {
	case c.recvQueue <- m:
		return true
	case <-c.done:
		m.Release()
		return false
	}
}

func (c *connBase) Info() ConnectionInfo {
	state := ConnectionStateConnected
	if c.IsClosed() {
		state = ConnectionStateDisconnected
	}
	return ConnectionInfo{
		ID:            c.id,
		RemoteAddr:    c.remoteAddr.String(),
		LocalAddr:     c.localAddr.String(),
		Transport:     c.transport,
		ConnectedAt:   c.connectedAt,
		LastActivity:  time.Unix(0, atomic.LoadInt64(&c.lastActivity)),
		BytesSent:     atomic.LoadUint64(&c.bytesSent),
		BytesReceived: atomic.LoadUint64(&c.bytesReceived),
		State:         state,
	}
}
