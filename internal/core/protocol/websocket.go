package protocol

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scenesync/scenesync/internal/core/log"
)

const (
	// wsEndpoint is the HTTP path clients dial for the replication stream.
	wsEndpoint = "/ws"

	// acceptBacklog bounds upgraded connections waiting for Accept.
	acceptBacklog = 16

	// pingWriteTimeout bounds how long a keepalive ping may take to flush.
	pingWriteTimeout = 10 * time.Second

	// shutdownTimeout bounds the graceful HTTP server shutdown.
	shutdownTimeout = 5 * time.Second
)

var (
	_ Transport = (*WebSocketTransport)(nil)
	_ Listener  = (*wsListener)(nil)
	_ Conn      = (*wsConn)(nil)
)

// WebSocketTransport serves and dials replication connections over
// websockets. The server side runs an HTTP server with an upgrade endpoint
// and a health probe.
type WebSocketTransport struct {
	config Config
	logger log.Log
	closed int32
}

// NewWebSocketTransport creates a websocket transport.
func NewWebSocketTransport(config Config, logger log.Log) *WebSocketTransport {
	if logger == nil {
		logger = log.Provide()
	}
	return &WebSocketTransport{
		config: config,
		logger: logger.With(log.String("transport", "websocket")),
	}
}

func (t *WebSocketTransport) Type() TransportType { return TransportWebSocket }

// Listen starts an HTTP server on addr and returns a listener yielding
// upgraded connections.
func (t *WebSocketTransport) Listen(ctx context.Context, addr string) (Listener, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, ErrTransportClosed
	}

	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, WrapError(err, "failed to listen for websocket connections")
	}

	l := &wsListener{
		config:   t.config,
		tcp:      tcp,
		acceptCh: make(chan *wsConn, acceptBacklog),
		done:     make(chan struct{}),
		logger:   t.logger.With(log.String("listener_addr", tcp.Addr().String())),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:    t.config.BufferSize,
		WriteBufferSize:   t.config.BufferSize,
		EnableCompression: t.config.EnableCompression,
		CheckOrigin:       func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsEndpoint, l.handleUpgrade)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: t.config.HandshakeTimeout,
	}

	go l.serve()

	l.logger.Info("websocket listener started", log.Bool("tls", t.config.TLSEnabled))
	return l, nil
}

// Dial connects to a websocket server and returns the connection once the
// upgrade completes.
func (t *WebSocketTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, ErrTransportClosed
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  t.config.HandshakeTimeout,
		ReadBufferSize:    t.config.BufferSize,
		WriteBufferSize:   t.config.BufferSize,
		EnableCompression: t.config.EnableCompression,
	}
	scheme := "ws"
	if t.config.TLSEnabled {
		scheme = "wss"
		// Deployments run with self-signed certificates during development.
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	u := url.URL{Scheme: scheme, Host: addr, Path: wsEndpoint}

	wsc, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, WrapError(err, "failed to dial websocket")
	}
	if resp != nil {
		_ = resp.Body.Close()
	}

	return newWSConn(wsc, t.config, t.logger), nil
}

// Close stops the transport from opening new listeners or connections.
// Existing listeners and connections are closed by their owners.
func (t *WebSocketTransport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	return nil
}

type wsListener struct {
	config   Config
	tcp      net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	acceptCh chan *wsConn
	done     chan struct{}
	closed   int32
	logger   log.Log
}

func (l *wsListener) serve() {
	var err error
	if l.config.TLSEnabled {
		err = l.server.ServeTLS(l.tcp, l.config.CertFile, l.config.KeyFile)
	} else {
		err = l.server.Serve(l.tcp)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("websocket server stopped", log.Error(err))
	}
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsc, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed",
			log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}

	conn := newWSConn(wsc, l.config, l.logger)
	select {
	case l.acceptCh <- conn:
	case <-l.done:
		_ = conn.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.acceptCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

func (l *wsListener) Addr() net.Addr {
	return l.tcp.Addr()
}

func (l *wsListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	close(l.done)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := l.server.Shutdown(ctx)

	// Upgraded connections nobody accepted would otherwise leak their loops.
	for {
		select {
		case conn := <-l.acceptCh:
			_ = conn.Close()
		default:
			return err
		}
	}
}

type wsConn struct {
	connBase
	conn   *websocket.Conn
	config Config

	// writeMu serializes data frames with control frames written outside
	// the write loop.
	writeMu sync.Mutex
}

func newWSConn(wsc *websocket.Conn, config Config, logger log.Log) *wsConn {
	c := &wsConn{
		connBase: newConnBase(TransportWebSocket, wsc.RemoteAddr(), wsc.LocalAddr(), config, logger),
		conn:     wsc,
		config:   config,
	}
	if config.MaxMessageSize > 0 {
		wsc.SetReadLimit(int64(config.MaxMessageSize) + FrameHeaderSize + 1)
	}

	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *wsConn) readLoop() {
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		if c.config.ReadTimeout > 0 {
			return c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		return nil
	})

	for {
		if c.config.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.IsClosed() {
				c.logger.Warn("websocket read failed", log.Error(err))
			}
			c.teardown()
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.addReceived(len(data))

		m := DefaultMessagePool.GetMessage()
		if err = m.Decode(data); err != nil {
			m.Release()
			c.logger.Warn("closing connection on malformed frame", log.Error(err))
			c.teardown()
			return
		}
		if !c.enqueueIncoming(m) {
			return
		}
	}
}

func (c *wsConn) writeLoop() {
	interval := c.config.KeepAliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var buf []byte
	for {
		select {
		case m := <-c.sendQueue:
			buf = m.Encode(buf[:0])
			m.Release()
			if c.config.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			}
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.BinaryMessage, buf)
			c.writeMu.Unlock()
			if err != nil {
				if !c.IsClosed() {
					c.logger.Warn("websocket write failed", log.Error(err))
				}
				c.teardown()
				return
			}
			c.addSent(len(buf))
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(pingWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.teardown()
				return
			}
		case <-c.done:
			return
		}
	}
}

// teardown closes the connection without the closing handshake. Used on the
// error paths where the peer is already gone.
func (c *wsConn) teardown() {
	if !c.markClosed() {
		return
	}
	close(c.done)
	_ = c.conn.Close()
}

func (c *wsConn) Close() error {
	if !c.markClosed() {
		return nil
	}
	close(c.done)

	c.writeMu.Lock()
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}
