// Package client maintains a local mirror of a replicated scene served by a
// scenesync server.
//
// The client owns the network side: it connects, verifies the schema
// checksum, receives replication records and reconnects when the connection
// drops. The application owns the scene side: it calls Update from its main
// loop, which applies the received records to the mirror scene and advances
// scene time. The mirror must only be touched from the goroutine calling
// Update.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/scene"
)

// Config holds configuration for the client
type Config struct {
	// Connection settings
	ServerAddr           string
	Transport            protocol.TransportType
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	// ClientID identifies this client to the server. Empty generates one.
	ClientID protocol.ClientID

	// Message settings
	MaxMessageSize uint32
	QueueSize      int

	// Registry supplies the component schema. It must register the same
	// types as the server or the handshake fails. Nil uses the built-ins.
	Registry *scene.Registry

	// EnableSmoothing interpolates replicated node transforms between
	// server updates instead of snapping.
	EnableSmoothing bool

	// Logging
	LogLevel log.Level
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		ServerAddr:           "localhost:8080",
		Transport:            protocol.TransportWebSocket,
		ConnectTimeout:       10 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
		MaxMessageSize:       1 << 20,
		QueueSize:            1024,
		EnableSmoothing:      true,
		LogLevel:             log.LevelInfo,
	}
}

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeReconnecting EventType = "reconnecting"
	EventTypeError        EventType = "error"
)

// Event represents a client connection event. Events fire from background
// goroutines, not from Update.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Addr      string
	Error     error
}

// EventHandler defines a function type for handling client events
type EventHandler func(event Event)

// NodeHandler observes replicated node lifecycle on the mirror scene.
type NodeHandler func(n *scene.Node)

// ComponentHandler observes replicated component lifecycle on the mirror
// scene.
type ComponentHandler func(c scene.Component)

// FrameHandler observes completed server frames.
type FrameHandler func(frame uint64)

// inbound is one queue entry between the receive goroutine and Update. A
// reset entry precedes each session's records and clears the mirror.
type inbound struct {
	reset bool
	m     *protocol.Message
}

// Client mirrors a server-side scene over one connection.
type Client struct {
	// Connection management
	transport protocol.Transport
	conn      protocol.Conn
	connMu    sync.Mutex

	// Client state
	id    protocol.ClientID
	scene *scene.Scene
	queue chan inbound

	// Event handlers
	eventHandlers    map[EventType][]EventHandler
	nodeCreated      []NodeHandler
	nodeRemoved      []NodeHandler
	componentCreated []ComponentHandler
	componentRemoved []ComponentHandler
	frameHandlers    []FrameHandler
	handlerMutex     sync.RWMutex

	// Lifecycle
	connected int32
	closed    int32
	ctx       context.Context
	cancel    context.CancelFunc
	workers   sync.WaitGroup

	fatalMu  sync.Mutex
	fatalErr error

	serverFrame uint64

	// Configuration and logging
	config Config
	logger log.Log
}

// NewClient creates a client and its empty mirror scene. The mirror uses
// the configured registry, so all component types must be registered before
// the first Connect.
func NewClient(config Config) *Client {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultClientConfig().QueueSize
	}
	id := config.ClientID
	if id == "" {
		id = protocol.GenerateClientID()
	}

	logger := log.New(config.LogLevel).With(
		log.String("component", "client"),
		log.String("client_id", string(id)))

	sceneCfg := scene.DefaultConfig()
	sceneCfg.Registry = config.Registry
	sceneCfg.Logger = logger
	mirror := scene.NewScene(sceneCfg)

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:            id,
		scene:         mirror,
		queue:         make(chan inbound, config.QueueSize),
		eventHandlers: make(map[EventType][]EventHandler),
		ctx:           ctx,
		cancel:        cancel,
		config:        config,
		logger:        logger,
	}
}

// Scene returns the mirror scene. It must only be used from the goroutine
// that calls Update.
func (c *Client) Scene() *scene.Scene { return c.scene }

// ID returns the client ID sent to the server.
func (c *Client) ID() protocol.ClientID { return c.id }

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool { return atomic.LoadInt32(&c.connected) == 1 }

// IsClosed returns true if the client is closed
func (c *Client) IsClosed() bool { return atomic.LoadInt32(&c.closed) == 1 }

// ServerFrame returns the last server frame acknowledged by this client.
func (c *Client) ServerFrame() uint64 { return atomic.LoadUint64(&c.serverFrame) }

// ConnectionInfo returns information about the current connection
func (c *Client) ConnectionInfo() (protocol.ConnectionInfo, error) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return protocol.ConnectionInfo{}, ErrNotConnected
	}
	return conn.Info(), nil
}

// OnEvent registers a handler for connection events.
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

// OnNodeCreated registers a handler called from Update after a replicated
// node appears on the mirror, fully populated.
func (c *Client) OnNodeCreated(handler NodeHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.nodeCreated = append(c.nodeCreated, handler)
}

// OnNodeRemoved registers a handler called from Update just before a
// replicated node leaves the mirror.
func (c *Client) OnNodeRemoved(handler NodeHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.nodeRemoved = append(c.nodeRemoved, handler)
}

// OnComponentCreated registers a handler called from Update after a
// replicated component appears on the mirror.
func (c *Client) OnComponentCreated(handler ComponentHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.componentCreated = append(c.componentCreated, handler)
}

// OnComponentRemoved registers a handler called from Update just before a
// replicated component leaves the mirror.
func (c *Client) OnComponentRemoved(handler ComponentHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.componentRemoved = append(c.componentRemoved, handler)
}

// OnFrame registers a handler called from Update each time a server frame
// marker has been applied.
func (c *Client) OnFrame(handler FrameHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.frameHandlers = append(c.frameHandlers, handler)
}

// Connect dials the server and performs the handshake. It returns once the
// schema checksum is verified; the scene content then arrives through
// Update. A checksum mismatch is terminal and is never retried.
func (c *Client) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if atomic.LoadInt32(&c.connected) == 1 {
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// Disconnect closes the connection without reconnecting. The mirror scene
// keeps its content.
func (c *Client) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return ErrNotConnected
	}
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now()})
	return nil
}

// Close closes the client and releases all resources
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&c.connected) == 1 {
		_ = c.Disconnect()
	}
	c.cancel()
	c.workers.Wait()
	for {
		select {
		case in := <-c.queue:
			if in.m != nil {
				in.m.Release()
			}
			continue
		default:
		}
		break
	}
	if c.transport != nil {
		_ = c.transport.Close()
	}
	c.logger.Info("client closed")
	return nil
}

// ensureTransport builds the configured transport on first use.
func (c *Client) ensureTransport() (protocol.Transport, error) {
	if c.transport != nil {
		return c.transport, nil
	}
	pc := protocol.DefaultConfig()
	if c.config.MaxMessageSize > 0 {
		pc.MaxMessageSize = c.config.MaxMessageSize
	}
	switch c.config.Transport {
	case protocol.TransportWebSocket, "":
		c.transport = protocol.NewWebSocketTransport(pc, c.logger)
	case protocol.TransportQUIC:
		t, err := protocol.NewQUICTransport(pc, c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = t
	default:
		return nil, ErrUnknownTransport
	}
	return c.transport, nil
}

// dial connects and runs the handshake: hello out, schema checksum back.
func (c *Client) dial(ctx context.Context) (protocol.Conn, error) {
	transport, err := c.ensureTransport()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, err := transport.Dial(dialCtx, c.config.ServerAddr)
	if err != nil {
		return nil, err
	}

	hello := protocol.DefaultMessagePool.GetMessage()
	protocol.EncodeHello(hello, protocol.Hello{Version: protocol.ProtocolVersion, ClientID: c.id})
	if err := conn.Send(hello); err != nil {
		hello.Release()
		_ = conn.Close()
		return nil, err
	}

	m, err := conn.Receive(dialCtx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	sum, err := protocol.DecodeSceneChecksum(m)
	m.Release()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if sum.Checksum != c.scene.Registry().Checksum() {
		_ = conn.Close()
		c.logger.Error("schema checksum mismatch",
			log.Uint32("server", sum.Checksum),
			log.Uint32("local", c.scene.Registry().Checksum()))
		return nil, protocol.ErrChecksumMismatch
	}

	c.logger.Info("connected",
		log.String("addr", c.config.ServerAddr),
		log.String("transport", string(conn.Transport())))
	return conn, nil
}

// attach installs a verified connection: the reset marker goes on the
// queue ahead of the session's records, then the receive worker starts.
func (c *Client) attach(conn protocol.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	select {
	case c.queue <- inbound{reset: true}:
	case <-c.ctx.Done():
	}

	atomic.StoreInt32(&c.connected, 1)
	c.workers.Add(1)
	go c.supervise(conn)

	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now(), Addr: c.config.ServerAddr})
}

// supervise pumps one connection until it fails, then drives reconnection.
// A voluntary Disconnect or Close ends the worker instead.
func (c *Client) supervise(conn protocol.Conn) {
	defer c.workers.Done()

	for {
		m, err := conn.Receive(c.ctx)
		if err == nil {
			select {
			case c.queue <- inbound{m: m}:
			case <-c.ctx.Done():
				m.Release()
				return
			}
			continue
		}
		break
	}

	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		// Voluntary disconnect already ran.
		return
	}
	if c.ctx.Err() != nil {
		return
	}

	c.logger.Warn("connection lost, attempting to reconnect")
	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now()})
	c.reconnect()
}

// reconnect retries the dial with a fixed interval. A schema mismatch or
// exhausted attempts are terminal; Update then returns the failure.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		c.emitEvent(Event{Type: EventTypeReconnecting, Timestamp: time.Now()})
		c.logger.Info("reconnection attempt", log.Int("attempt", attempt))

		conn, err := c.dial(c.ctx)
		if err == nil {
			c.attach(conn)
			return
		}
		if err == protocol.ErrChecksumMismatch {
			c.fail(err)
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("reconnection failed", log.Int("attempt", attempt), log.Error(err))

		select {
		case <-time.After(c.config.ReconnectInterval):
		case <-c.ctx.Done():
			return
		}
	}
	c.fail(ErrReconnectFailed)
}

// fail records a terminal error and reports it through the error event.
func (c *Client) fail(err error) {
	c.fatalMu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.fatalMu.Unlock()
	c.logger.Error("client failed", log.Error(err))
	c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), Error: err})
}

func (c *Client) fatalError() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatalErr
}

// emitEvent emits an event to registered handlers
func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}
