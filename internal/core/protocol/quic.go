package protocol

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/scenesync/scenesync/internal/core/log"
)

// alpnProtocol tags replication streams during the TLS handshake. QUIC
// requires ALPN agreement between both ends.
const alpnProtocol = "scenesync"

var (
	_ Transport = (*QUICTransport)(nil)
	_ Listener  = (*quicListener)(nil)
	_ Conn      = (*quicConn)(nil)
)

// QUICTransport serves and dials replication connections over QUIC. Each
// connection uses a single bidirectional control stream; the dialing side
// opens it and speaks first.
type QUICTransport struct {
	config  Config
	tlsConf *tls.Config
	logger  log.Log
	closed  int32
}

// NewQUICTransport creates a QUIC transport. Without configured certificate
// files a self-signed certificate is generated, which pairs with the
// insecure client verification below for development setups.
func NewQUICTransport(config Config, logger log.Log) (*QUICTransport, error) {
	if logger == nil {
		logger = log.Provide()
	}

	var tlsConf *tls.Config
	if config.TLSEnabled && config.CertFile != "" && config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, WrapError(err, "failed to load TLS certificate")
		}
		tlsConf = &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpnProtocol},
			MinVersion:   tls.VersionTLS13,
		}
	} else {
		var err error
		tlsConf, err = GenerateSelfSignedTLS()
		if err != nil {
			return nil, WrapError(err, "failed to generate self-signed TLS certificate")
		}
	}

	return &QUICTransport{
		config:  config,
		tlsConf: tlsConf,
		logger:  logger.With(log.String("transport", "quic")),
	}, nil
}

func (t *QUICTransport) Type() TransportType { return TransportQUIC }

func (t *QUICTransport) quicConfig() *quic.Config {
	return &quic.Config{
		// One control stream per connection plus headroom.
		MaxIncomingStreams:    4,
		MaxIncomingUniStreams: 4,
		MaxIdleTimeout:        t.config.IdleTimeout,
		KeepAlivePeriod:       t.config.KeepAliveInterval,
		HandshakeIdleTimeout:  t.config.HandshakeTimeout,
	}
}

// Listen starts a QUIC listener on addr.
func (t *QUICTransport) Listen(ctx context.Context, addr string) (Listener, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, ErrTransportClosed
	}

	listener, err := quic.ListenAddr(addr, t.tlsConf, t.quicConfig())
	if err != nil {
		return nil, WrapError(err, "failed to create QUIC listener")
	}

	t.logger.Info("quic listener started", log.String("addr", listener.Addr().String()))

	return &quicListener{
		listener: listener,
		config:   t.config,
		logger:   t.logger.With(log.String("listener_addr", listener.Addr().String())),
	}, nil
}

// Dial connects to a QUIC server and opens the control stream.
func (t *QUICTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return nil, ErrTransportClosed
	}

	clientTLS := &tls.Config{
		// Deployments run with self-signed certificates during development.
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		clientTLS.ServerName = host
	}

	conn, err := quic.DialAddr(ctx, addr, clientTLS, t.quicConfig())
	if err != nil {
		return nil, WrapError(err, "failed to dial QUIC connection")
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")
		return nil, WrapError(err, "failed to open QUIC control stream")
	}

	return newQUICConn(conn, stream, t.config, t.logger), nil
}

// Close stops the transport from opening new listeners or connections.
func (t *QUICTransport) Close() error {
	atomic.StoreInt32(&t.closed, 1)
	return nil
}

type quicListener struct {
	listener *quic.Listener
	config   Config
	closed   int32
	logger   log.Log
}

// Accept waits for a connection and its control stream. QUIC streams only
// materialize on the accepting side once they carry data, so this returns
// after the client's first bytes arrive.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return nil, ErrListenerClosed
	}

	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to accept QUIC connection")
	}

	streamCtx := ctx
	if l.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, l.config.HandshakeTimeout)
		defer cancel()
	}
	stream, err := conn.AcceptStream(streamCtx)
	if err != nil {
		_ = conn.CloseWithError(0, "no control stream")
		return nil, WrapError(ErrHandshakeTimeout, "client opened no control stream")
	}

	return newQUICConn(conn, stream, l.config, l.logger), nil
}

func (l *quicListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *quicListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	l.logger.Info("closing quic listener")
	return l.listener.Close()
}

type quicConn struct {
	connBase
	conn   *quic.Conn
	stream *quic.Stream
	config Config
}

func newQUICConn(conn *quic.Conn, stream *quic.Stream, config Config, logger log.Log) *quicConn {
	c := &quicConn{
		connBase: newConnBase(TransportQUIC, conn.RemoteAddr(), conn.LocalAddr(), config, logger),
		conn:     conn,
		stream:   stream,
		config:   config,
	}

	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *quicConn) readLoop() {
	for {
		m := DefaultMessagePool.GetMessage()
		if err := ReadMessage(c.stream, m, c.config.MaxMessageSize); err != nil {
			m.Release()
			if !c.IsClosed() && !errors.Is(err, io.EOF) {
				c.logger.Warn("quic read failed", log.Error(err))
			}
			c.teardown()
			return
		}
		c.addReceived(m.EncodedSize())
		if !c.enqueueIncoming(m) {
			return
		}
	}
}

func (c *quicConn) writeLoop() {
	var buf []byte
	for {
		select {
		case m := <-c.sendQueue:
			buf = m.Encode(buf[:0])
			m.Release()
			if c.config.WriteTimeout > 0 {
				_ = c.stream.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			}
			if _, err := c.stream.Write(buf); err != nil {
				if !c.IsClosed() {
					c.logger.Warn("quic write failed", log.Error(err))
				}
				c.teardown()
				return
			}
			c.addSent(len(buf))
		case <-c.done:
			return
		}
	}
}

// teardown closes the connection on the error paths.
func (c *quicConn) teardown() {
	if !c.markClosed() {
		return
	}
	close(c.done)
	_ = c.conn.CloseWithError(0, "connection error")
}

func (c *quicConn) Close() error {
	if !c.markClosed() {
		return nil
	}
	close(c.done)
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

// GenerateSelfSignedTLS generates a self-signed TLS certificate for
// development listeners.
func GenerateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"SceneSync"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  privateKey,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
