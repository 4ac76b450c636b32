package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/spatial"
	"github.com/scenesync/scenesync/internal/resource"
	"github.com/scenesync/scenesync/pkg/concurrent"
	"github.com/scenesync/scenesync/pkg/sequence"
)

// Server hosts an authoritative scene and replicates it to connected
// clients over the enabled transports.
//
// All scene access happens on the replication goroutine. While the server
// runs, external code mutates the scene through Do; before Start and after
// Stop the scene may be used directly.
type Server struct {
	config Config
	logger log.Log

	scene     *scene.Scene
	resources *resource.Cache

	transports []protocol.Transport
	listeners  []protocol.Listener

	sessions     sync.Map // protocol.ClientID -> *ClientSession
	sessionCount int32

	joinCh  chan *ClientSession
	leaveCh chan *ClientSession
	opsCh   chan func(*scene.Scene)

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	running int32
	closed  int32

	schemaChecksum uint32
	startedAt      time.Time

	frame         uint64
	messagesOut   uint64
	nodes         int32
	lastTickNanos int64
}

// Stats is a point-in-time server snapshot, safe to read from any
// goroutine.
type Stats struct {
	Running          bool
	Clients          int
	Frame            uint64
	LastTickDuration time.Duration
	MessagesOut      uint64
	BytesOut         uint64
	BytesIn          uint64
	Nodes            int
	Uptime           time.Duration
}

// New builds a server from configuration: the resource cache, the scene and
// the startup scene file. Transports are not opened until Start.
func New(cfg Config, logger log.Log) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Provide()
	}
	logger = logger.With(log.String("component", "server"))

	cache := resource.NewCache(cfg.Resources.cacheConfig(), logger)
	for _, dir := range cfg.Resources.Dirs {
		if err := cache.AddResourceDir(dir, 0); err != nil {
			return nil, err
		}
	}
	if cfg.Resources.AutoReload {
		if err := cache.SetAutoReloadResources(true); err != nil {
			return nil, err
		}
	}

	sceneCfg := cfg.Scene.sceneConfig()
	sceneCfg.Logger = logger
	sceneCfg.Resources = cache
	sc := scene.NewScene(sceneCfg)

	if cfg.Scene.File != "" {
		res, err := cache.Get(resource.TypeScene, cfg.Scene.File)
		if err != nil {
			return nil, err
		}
		if err := res.(*resource.SceneFile).ApplyTo(sc); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:    cfg,
		logger:    logger,
		scene:     sc,
		resources: cache,
		joinCh:    make(chan *ClientSession, 16),
		leaveCh:   make(chan *ClientSession, 64),
		opsCh:     make(chan func(*scene.Scene), 64),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Scene returns the hosted scene. While the server runs it must only be
// touched through Do.
func (s *Server) Scene() *scene.Scene { return s.scene }

// Resources returns the resource cache backing the scene.
func (s *Server) Resources() *resource.Cache { return s.resources }

// Do runs fn on the replication goroutine between ticks, the only safe way
// to mutate the scene while the server runs. It returns once the function
// is accepted, not once it has run.
func (s *Server) Do(fn func(*scene.Scene)) error {
	if atomic.LoadInt32(&s.running) == 0 {
		return ErrServerNotRunning
	}
	select {
	case s.opsCh <- fn:
		return nil
	case <-s.ctx.Done():
		return ErrServerClosed
	}
}

// SetClientInterest sets the position distance-based priority measures
// against for one client. Reports whether the client is connected.
func (s *Server) SetClientInterest(id protocol.ClientID, pos spatial.Vector3) bool {
	v, ok := s.sessions.Load(id)
	if !ok {
		return false
	}
	v.(*ClientSession).SetInterestPosition(pos)
	return true
}

// Addrs returns the bound listener addresses. Useful after Start when the
// configuration asked for a system-chosen port.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Clients lists the connected client ids.
func (s *Server) Clients() []protocol.ClientID {
	var ids []protocol.ClientID
	s.sessions.Range(func(k, _ any) bool {
		ids = append(ids, k.(protocol.ClientID))
		return true
	})
	return ids
}

// Start opens the enabled transports and runs the replication loop. The
// schema checksum is captured here, so all component types must be
// registered before Start.
func (s *Server) Start() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.schemaChecksum = s.scene.Registry().Checksum()
	s.startedAt = time.Now()

	if err := s.openTransports(); err != nil {
		s.closeTransports()
		atomic.StoreInt32(&s.running, 0)
		return err
	}

	s.workers.Add(2)
	go s.replicationLoop()
	go s.healthLoop()
	for _, l := range s.listeners {
		s.workers.Add(1)
		go s.acceptLoop(l)
	}

	s.logger.Info("server started",
		log.Int("tick_rate", s.config.Replication.TickRate),
		log.Uint32("schema_checksum", s.schemaChecksum))
	return nil
}

// Stop closes every client connection, the listeners and the loops. The
// scene survives for inspection after stop; a stopped server cannot be
// restarted.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}
	atomic.StoreInt32(&s.closed, 1)
	s.cancel()

	var sessions []*ClientSession
	s.sessions.Range(func(_, v any) bool {
		sessions = append(sessions, v.(*ClientSession))
		return true
	})
	_ = concurrent.Concurrent(sequence.From(sessions), func(cs *ClientSession) error {
		return cs.Conn.Close()
	})

	s.workers.Wait()

	// The loops are gone; tracker cleanup is single-threaded again.
	for _, cs := range sessions {
		if cs.deactivate() {
			s.scene.CleanupConnection(cs.State)
		}
		s.sessions.Delete(cs.ID)
	}
	atomic.StoreInt32(&s.sessionCount, 0)

	s.closeTransports()
	if err := s.resources.Close(); err != nil {
		s.logger.Warn("resource cache close failed", log.Error(err))
	}

	s.logger.Info("server stopped",
		log.Duration("uptime", time.Since(s.startedAt)),
		log.Uint64("frames", atomic.LoadUint64(&s.frame)))
	return nil
}

// Stats assembles a snapshot from the atomic counters and the live
// connection infos.
func (s *Server) Stats() Stats {
	var bytesOut, bytesIn uint64
	s.sessions.Range(func(_, v any) bool {
		info := v.(*ClientSession).Conn.Info()
		bytesOut += info.BytesSent
		bytesIn += info.BytesReceived
		return true
	})
	st := Stats{
		Running:          atomic.LoadInt32(&s.running) == 1,
		Clients:          int(atomic.LoadInt32(&s.sessionCount)),
		Frame:            atomic.LoadUint64(&s.frame),
		LastTickDuration: time.Duration(atomic.LoadInt64(&s.lastTickNanos)),
		MessagesOut:      atomic.LoadUint64(&s.messagesOut),
		BytesOut:         bytesOut,
		BytesIn:          bytesIn,
		Nodes:            int(atomic.LoadInt32(&s.nodes)),
	}
	if st.Running {
		st.Uptime = time.Since(s.startedAt)
	}
	return st
}

func (s *Server) openTransports() error {
	rc := s.config.Replication
	if tc := s.config.WebSocket; tc.Enabled {
		pc := tc.protocolConfig(rc)
		t := protocol.NewWebSocketTransport(pc, s.logger)
		l, err := t.Listen(s.ctx, pc.Addr())
		if err != nil {
			return err
		}
		s.transports = append(s.transports, t)
		s.listeners = append(s.listeners, l)
		s.logger.Info("listener started",
			log.String("transport", string(t.Type())),
			log.String("addr", l.Addr().String()))
	}
	if tc := s.config.QUIC; tc.Enabled {
		pc := tc.protocolConfig(rc)
		t, err := protocol.NewQUICTransport(pc, s.logger)
		if err != nil {
			return err
		}
		l, err := t.Listen(s.ctx, pc.Addr())
		if err != nil {
			_ = t.Close()
			return err
		}
		s.transports = append(s.transports, t)
		s.listeners = append(s.listeners, l)
		s.logger.Info("listener started",
			log.String("transport", string(t.Type())),
			log.String("addr", l.Addr().String()))
	}
	return nil
}

func (s *Server) closeTransports() {
	for _, l := range s.listeners {
		_ = l.Close()
	}
	for _, t := range s.transports {
		_ = t.Close()
	}
	s.listeners = nil
	s.transports = nil
}

func (s *Server) acceptLoop(l protocol.Listener) {
	defer s.workers.Done()
	for {
		conn, err := l.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, protocol.ErrListenerClosed) {
				return
			}
			s.logger.Warn("accept failed", log.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if int(atomic.LoadInt32(&s.sessionCount)) >= s.config.Replication.MaxClients {
			s.logger.Warn("max clients reached, rejecting connection",
				log.String("remote_addr", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		s.workers.Add(1)
		go s.handshake(conn)
	}
}

// handshake waits for the client hello, verifies the protocol version and
// hands the session to the replication loop, which answers with the schema
// checksum.
func (s *Server) handshake(conn protocol.Conn) {
	defer s.workers.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.config.Replication.HandshakeTimeout)
	defer cancel()

	m, err := conn.Receive(ctx)
	if err != nil {
		s.logger.Warn("handshake failed",
			log.String("remote_addr", conn.RemoteAddr().String()), log.Error(err))
		_ = conn.Close()
		return
	}
	hello, err := protocol.DecodeHello(m)
	m.Release()
	if err != nil {
		s.logger.Warn("handshake failed",
			log.String("remote_addr", conn.RemoteAddr().String()), log.Error(err))
		_ = conn.Close()
		return
	}
	if hello.Version != protocol.ProtocolVersion {
		s.logger.Warn("client version rejected",
			log.Uint32("client_version", hello.Version),
			log.Uint32("server_version", protocol.ProtocolVersion))
		_ = conn.Close()
		return
	}

	id := hello.ClientID
	if id == "" {
		id = protocol.GenerateClientID()
	}

	sess := newClientSession(id, conn, s.logger)
	select {
	case s.joinCh <- sess:
	case <-s.ctx.Done():
		_ = conn.Close()
	}
}

func (s *Server) replicationLoop() {
	defer s.workers.Done()

	interval := time.Second / time.Duration(s.config.Replication.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-s.ctx.Done():
			return
		case sess := <-s.joinCh:
			s.attachSession(sess)
		case sess := <-s.leaveCh:
			s.detachSession(sess, "connection lost")
		case fn := <-s.opsCh:
			fn(s.scene)
		case now := <-ticker.C:
			dt := float32(now.Sub(last).Seconds())
			last = now
			s.tick(dt)
		}
	}
}

// tick advances the simulation, diffs the replication snapshots once and
// replicates the changes to every session.
func (s *Server) tick(dt float32) {
	frame := atomic.AddUint64(&s.frame, 1)
	started := time.Now()

	s.scene.Update(dt)
	s.scene.PrepareNetworkUpdate()

	s.sessions.Range(func(_, v any) bool {
		sess := v.(*ClientSession)
		if err := s.replicateSession(sess, frame); err != nil {
			sess.logger.Warn("replication failed, dropping client", log.Error(err))
			s.detachSession(sess, "send failed")
		}
		return true
	})

	atomic.StoreInt32(&s.nodes, int32(s.scene.NodeCount()))
	atomic.StoreInt64(&s.lastTickNanos, int64(time.Since(started)))
}

// attachSession answers the handshake with the schema checksum and adds the
// session. Runs on the replication goroutine.
func (s *Server) attachSession(sess *ClientSession) {
	if _, exists := s.sessions.Load(sess.ID); exists {
		sess.logger.Warn("rejecting duplicate client id")
		_ = sess.Conn.Close()
		return
	}

	m := protocol.DefaultMessagePool.GetMessage()
	protocol.EncodeSceneChecksum(m, protocol.SceneChecksum{Checksum: s.schemaChecksum})
	if err := sess.Conn.Send(m); err != nil {
		m.Release()
		sess.logger.Warn("checksum send failed", log.Error(err))
		_ = sess.Conn.Close()
		return
	}

	s.sessions.Store(sess.ID, sess)
	atomic.AddInt32(&s.sessionCount, 1)

	s.workers.Add(1)
	go s.clientReceiveLoop(sess)

	sess.logger.Info("client connected",
		log.String("remote_addr", sess.Conn.RemoteAddr().String()),
		log.String("transport", string(sess.Conn.Transport())))
}

// detachSession removes a session's trackers from the scene and closes the
// connection. Runs on the replication goroutine.
func (s *Server) detachSession(sess *ClientSession, reason string) {
	if !sess.deactivate() {
		return
	}
	s.scene.CleanupConnection(sess.State)
	s.sessions.Delete(sess.ID)
	atomic.AddInt32(&s.sessionCount, -1)
	_ = sess.Conn.Close()

	sess.logger.Info("client disconnected",
		log.String("reason", reason),
		log.Duration("connected", time.Since(sess.connectedAt)))
}

// clientReceiveLoop consumes acks and keeps liveness fresh. The scene is
// never touched from here; cleanup goes through the replication goroutine.
func (s *Server) clientReceiveLoop(sess *ClientSession) {
	defer s.workers.Done()
	for {
		m, err := sess.Conn.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, protocol.ErrConnectionClosed) {
				sess.logger.Debug("receive loop ended", log.Error(err))
			}
			s.requestLeave(sess)
			return
		}
		sess.touch()
		switch m.Kind {
		case protocol.KindAck:
			if ack, err := protocol.DecodeAck(m); err == nil {
				atomic.StoreUint64(&sess.lastAckFrame, ack.Frame)
			}
		default:
			sess.logger.Warn("unexpected client message",
				log.String("kind", m.Kind.String()))
		}
		m.Release()
	}
}

// requestLeave hands a dead session to the replication goroutine for
// cleanup.
func (s *Server) requestLeave(sess *ClientSession) {
	select {
	case s.leaveCh <- sess:
	case <-s.ctx.Done():
	}
}

func (s *Server) healthLoop() {
	defer s.workers.Done()

	interval := s.config.Replication.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

// checkHealth closes clients whose acks stopped arriving and logs a
// liveness snapshot. The receive loops turn the closes into leave requests.
func (s *Server) checkHealth() {
	timeout := s.config.Replication.ClientTimeout
	now := time.Now()
	stale := 0
	s.sessions.Range(func(_, v any) bool {
		sess := v.(*ClientSession)
		if timeout > 0 && sess.idleFor(now) > timeout {
			stale++
			sess.logger.Warn("client timed out", log.Duration("idle", sess.idleFor(now)))
			_ = sess.Conn.Close()
		}
		return true
	})

	stats := s.Stats()
	s.logger.Info("health check",
		log.Int("clients", stats.Clients),
		log.Uint64("frame", stats.Frame),
		log.Duration("tick", stats.LastTickDuration),
		log.Uint64("messages_out", stats.MessagesOut),
		log.Uint64("bytes_out", stats.BytesOut),
		log.Int("stale", stale))
}
