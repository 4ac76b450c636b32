package server

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/spatial"
	"github.com/scenesync/scenesync/internal/core/variant"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Replication.TickRate = 100
	cfg.Replication.HandshakeTimeout = 2 * time.Second
	cfg.Replication.HealthCheckInterval = time.Hour
	cfg.WebSocket.Host = "127.0.0.1"
	cfg.WebSocket.Port = 0
	cfg.Resources.Dirs = []string{t.TempDir()}
	return cfg
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv, err := New(cfg, log.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// dialServer connects to the server's websocket listener and performs the
// client half of the handshake with the given protocol version.
func dialServer(t *testing.T, ctx context.Context, srv *Server, id protocol.ClientID, version uint32) protocol.Conn {
	t.Helper()
	require.NotEmpty(t, srv.listeners, "server has no open listeners")

	transport := protocol.NewWebSocketTransport(protocol.DefaultConfig(), nil)
	t.Cleanup(func() { _ = transport.Close() })

	conn, err := transport.Dial(ctx, srv.listeners[0].Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := protocol.DefaultMessagePool.GetMessage()
	protocol.EncodeHello(hello, protocol.Hello{Version: version, ClientID: id})
	require.NoError(t, conn.Send(hello))
	return conn
}

// nextNonAck receives the next replication record, skipping keepalive acks.
func nextNonAck(t *testing.T, ctx context.Context, conn protocol.Conn) *protocol.Message {
	t.Helper()
	for {
		m, err := conn.Receive(ctx)
		require.NoError(t, err)
		if m.Kind == protocol.KindAck {
			m.Release()
			continue
		}
		return m
	}
}

// nextAck receives messages until an ack arrives.
func nextAck(t *testing.T, ctx context.Context, conn protocol.Conn) protocol.Ack {
	t.Helper()
	for {
		m, err := conn.Receive(ctx)
		require.NoError(t, err)
		kind := m.Kind
		if kind != protocol.KindAck {
			m.Release()
			continue
		}
		ack, err := protocol.DecodeAck(m)
		m.Release()
		require.NoError(t, err)
		return ack
	}
}

// captureConn records sent messages instead of writing them to a socket.
type captureConn struct {
	sent   []*protocol.Message
	closed bool
}

func (c *captureConn) ID() protocol.ConnectionID         { return "capture" }
func (c *captureConn) Transport() protocol.TransportType { return protocol.TransportWebSocket }
func (c *captureConn) RemoteAddr() net.Addr              { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (c *captureConn) LocalAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (c *captureConn) Info() protocol.ConnectionInfo     { return protocol.ConnectionInfo{} }
func (c *captureConn) Close() error                      { c.closed = true; return nil }

func (c *captureConn) Send(m *protocol.Message) error {
	c.sent = append(c.sent, m)
	return nil
}

func (c *captureConn) Receive(ctx context.Context) (*protocol.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func kinds(ms []*protocol.Message) []protocol.Kind {
	out := make([]protocol.Kind, len(ms))
	for i, m := range ms {
		out[i] = m.Kind
	}
	return out
}

func TestServer_StartStop(t *testing.T) {
	srv, err := New(testConfig(t), log.Nop())
	require.NoError(t, err)

	assert.ErrorIs(t, srv.Do(func(*scene.Scene) {}), ErrServerNotRunning)
	assert.False(t, srv.Stats().Running)
	assert.ErrorIs(t, srv.Stop(), ErrServerNotRunning)

	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), ErrServerAlreadyRunning)
	assert.True(t, srv.Stats().Running)

	require.NoError(t, srv.Stop())
	assert.ErrorIs(t, srv.Stop(), ErrServerNotRunning)
	assert.ErrorIs(t, srv.Start(), ErrServerClosed, "a stopped server stays stopped")
}

func TestNew_StartupSceneFile(t *testing.T) {
	t.Run("LoadsConfiguredScene", func(t *testing.T) {
		src := scene.NewScene(scene.DefaultConfig())
		level, err := src.Root().CreateChild("Level", scene.Replicated)
		require.NoError(t, err)
		level.SetPosition(spatial.Vector3{X: 10})

		var buf bytes.Buffer
		require.NoError(t, src.SaveJSON(&buf))

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "start.scene"), buf.Bytes(), 0o644))

		cfg := testConfig(t)
		cfg.Resources.Dirs = []string{dir}
		cfg.Scene.File = "start.scene"

		srv, err := New(cfg, log.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = srv.Resources().Close() })

		require.Equal(t, 2, srv.Scene().NodeCount())
		require.Len(t, srv.Scene().Root().Children(), 1)
		loaded := srv.Scene().Root().Children()[0]
		assert.Equal(t, "Level", loaded.Name())
		assert.Equal(t, spatial.Vector3{X: 10}, loaded.Position())
	})

	t.Run("MissingSceneFile", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Scene.File = "absent.scene"
		_, err := New(cfg, log.Nop())
		assert.Error(t, err)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Replication.TickRate = 0
		_, err := New(cfg, log.Nop())
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestServer_ClientLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	srv := startTestServer(t, testConfig(t))
	conn := dialServer(t, ctx, srv, "player-1", protocol.ProtocolVersion)

	// The handshake answer carries the component schema checksum.
	m, err := conn.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, protocol.KindSceneChecksum, m.Kind)
	sum, err := protocol.DecodeSceneChecksum(m)
	m.Release()
	require.NoError(t, err)
	assert.Equal(t, srv.Scene().Registry().Checksum(), sum.Checksum)

	require.Eventually(t, func() bool { return srv.Stats().Clients == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []protocol.ClientID{"player-1"}, srv.Clients())
	assert.True(t, srv.SetClientInterest("player-1", spatial.Vector3{}))
	assert.False(t, srv.SetClientInterest("ghost", spatial.Vector3{}))

	// A node created between ticks replicates as a creation record.
	created := make(chan uint32, 1)
	require.NoError(t, srv.Do(func(sc *scene.Scene) {
		n, err := sc.Root().CreateChild("Player", scene.Replicated)
		if err != nil {
			created <- 0
			return
		}
		n.SetPosition(spatial.Vector3{X: 1, Y: 2, Z: 3})
		created <- n.ID()
	}))
	nodeID := <-created
	require.NotZero(t, nodeID)

	m = nextNonAck(t, ctx, conn)
	require.Equal(t, protocol.KindNodeCreate, m.Kind)
	pr := protocol.NewPayloadReader(bytes.NewReader(m.Payload))
	assert.Equal(t, nodeID, pr.Uint32())
	assert.Equal(t, srv.Scene().Root().ID(), pr.Uint32(), "parent is the scene root")
	require.NoError(t, pr.Err())
	m.Release()

	// A transform change and a new user variable replicate as deltas.
	require.NoError(t, srv.Do(func(sc *scene.Scene) {
		if n := sc.NodeByID(nodeID); n != nil {
			n.SetPosition(spatial.Vector3{X: 4})
			n.SetVar(hash.NewStringHash("score"), variant.Int(10))
		}
	}))

	m = nextNonAck(t, ctx, conn)
	assert.Equal(t, protocol.KindNodeDelta, m.Kind)
	m.Release()
	m = nextNonAck(t, ctx, conn)
	assert.Equal(t, protocol.KindVarDelta, m.Kind)
	m.Release()

	// Removal replicates before anything else the next tick.
	require.NoError(t, srv.Do(func(sc *scene.Scene) {
		if n := sc.NodeByID(nodeID); n != nil {
			n.Remove()
		}
	}))
	m = nextNonAck(t, ctx, conn)
	assert.Equal(t, protocol.KindNodeRemove, m.Kind)
	pr = protocol.NewPayloadReader(bytes.NewReader(m.Payload))
	assert.Equal(t, nodeID, pr.Uint32())
	m.Release()

	// Echoing a frame ack updates the session's liveness record.
	ack := nextAck(t, ctx, conn)
	echo := protocol.DefaultMessagePool.GetMessage()
	protocol.EncodeAck(echo, protocol.Ack{Frame: ack.Frame})
	require.NoError(t, conn.Send(echo))

	v, ok := srv.sessions.Load(protocol.ClientID("player-1"))
	require.True(t, ok)
	sess := v.(*ClientSession)
	require.Eventually(t, func() bool { return sess.LastAckFrame() >= ack.Frame },
		2*time.Second, 10*time.Millisecond)

	// Closing the connection detaches the session.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.Stats().Clients == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServer_RejectsVersionMismatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startTestServer(t, testConfig(t))
	conn := dialServer(t, ctx, srv, "old-client", protocol.ProtocolVersion+1)

	_, err := conn.Receive(ctx)
	assert.Error(t, err, "server closes mismatched clients without a checksum")
	assert.Zero(t, srv.Stats().Clients)
}

func TestServer_RejectsDuplicateClientID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := startTestServer(t, testConfig(t))

	first := dialServer(t, ctx, srv, "dup", protocol.ProtocolVersion)
	m, err := first.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, protocol.KindSceneChecksum, m.Kind)
	m.Release()

	second := dialServer(t, ctx, srv, "dup", protocol.ProtocolVersion)
	_, err = second.Receive(ctx)
	assert.Error(t, err, "second session with the same id is closed")

	require.Eventually(t, func() bool { return srv.Stats().Clients == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestServer_MaxClientsGate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig(t)
	cfg.Replication.MaxClients = 1
	srv := startTestServer(t, cfg)

	first := dialServer(t, ctx, srv, "one", protocol.ProtocolVersion)
	m, err := first.Receive(ctx)
	require.NoError(t, err)
	m.Release()

	// The second connection is closed before its handshake, so the hello
	// send may already fail.
	transport := protocol.NewWebSocketTransport(protocol.DefaultConfig(), nil)
	t.Cleanup(func() { _ = transport.Close() })
	second, err := transport.Dial(ctx, srv.listeners[0].Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	hello := protocol.DefaultMessagePool.GetMessage()
	protocol.EncodeHello(hello, protocol.Hello{Version: protocol.ProtocolVersion, ClientID: "two"})
	if err := second.Send(hello); err != nil {
		hello.Release()
	}

	_, err = second.Receive(ctx)
	assert.Error(t, err, "connection beyond the client cap is closed")
	assert.Equal(t, 1, srv.Stats().Clients)
}

// TestServer_ReplicateSession drives the per-session walk directly against
// a capture connection, checking the wire records tick by tick.
func TestServer_ReplicateSession(t *testing.T) {
	srv, err := New(testConfig(t), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Resources().Close() })

	conn := &captureConn{}
	sess := newClientSession("viewer", conn, log.Nop())

	mirror := scene.NewScene(scene.DefaultConfig())
	var mirrorNode *scene.Node

	n, err := srv.scene.Root().CreateChild("Crate", scene.Replicated)
	require.NoError(t, err)
	n.SetPosition(spatial.Vector3{X: 5})
	n.SetVar(hash.NewStringHash("kind"), variant.Int(7))
	c, err := n.CreateComponent("NetworkPriority", scene.Replicated)
	require.NoError(t, err)
	np := c.(*scene.NetworkPriority)

	t.Run("CreationRecord", func(t *testing.T) {
		srv.scene.PrepareNetworkUpdate()
		require.NoError(t, srv.replicateSession(sess, 1))
		require.Equal(t, []protocol.Kind{protocol.KindNodeCreate, protocol.KindAck}, kinds(conn.sent))

		r := bytes.NewReader(conn.sent[0].Payload)
		pr := protocol.NewPayloadReader(r)
		nodeID := pr.Uint32()
		parentID := pr.Uint32()
		assert.Equal(t, n.ID(), nodeID)
		assert.Equal(t, srv.scene.Root().ID(), parentID)

		mirrorNode, err = mirror.Root().CreateChildWithID("", nodeID, scene.Replicated)
		require.NoError(t, err)
		require.NoError(t, scene.ReadInitialUpdate(r, mirrorNode, nil))
		require.NoError(t, scene.ReadVarsUpdate(r, mirrorNode))

		compCount := pr.Uint32()
		require.NoError(t, pr.Err())
		require.Equal(t, uint32(1), compCount)
		compID := pr.Uint32()
		typeName := pr.String()
		require.NoError(t, pr.Err())
		assert.Equal(t, c.ID(), compID)
		require.Equal(t, "NetworkPriority", typeName)
		mc, err := mirrorNode.CreateComponentWithID(typeName, compID, scene.Replicated)
		require.NoError(t, err)
		require.NoError(t, scene.ReadInitialUpdate(r, mc, nil))
		assert.Zero(t, r.Len(), "creation record fully consumed")

		assert.Equal(t, "Crate", mirrorNode.Name())
		assert.Equal(t, spatial.Vector3{X: 5}, mirrorNode.Position())
		assert.Equal(t, variant.Int(7), mirrorNode.Var(hash.NewStringHash("kind")))
	})

	t.Run("ThrottledDelta", func(t *testing.T) {
		// Half priority defers the dirty node to every second tick.
		np.SetBasePriority(50)
		n.SetPosition(spatial.Vector3{X: 6})
		n.SetVar(hash.NewStringHash("kind"), variant.Int(8))

		srv.scene.PrepareNetworkUpdate()
		conn.sent = nil
		require.NoError(t, srv.replicateSession(sess, 2))
		assert.Empty(t, conn.sent, "update deferred, dirty state kept")

		srv.scene.PrepareNetworkUpdate()
		require.NoError(t, srv.replicateSession(sess, 3))
		require.Equal(t, []protocol.Kind{
			protocol.KindNodeDelta,
			protocol.KindVarDelta,
			protocol.KindComponentDelta,
			protocol.KindAck,
		}, kinds(conn.sent))

		// Position is latest data, so the node delta carries only the
		// latest record.
		r := bytes.NewReader(conn.sent[0].Payload)
		pr := protocol.NewPayloadReader(r)
		assert.Equal(t, n.ID(), pr.Uint32())
		require.Equal(t, protocol.DeltaHasLatest, pr.Uint8())
		require.NoError(t, pr.Err())
		require.NoError(t, scene.ReadDeltaUpdate(r, mirrorNode, nil))
		assert.Equal(t, spatial.Vector3{X: 6}, mirrorNode.Position())

		r = bytes.NewReader(conn.sent[1].Payload)
		pr = protocol.NewPayloadReader(r)
		assert.Equal(t, n.ID(), pr.Uint32())
		require.NoError(t, scene.ReadVarsUpdate(r, mirrorNode))
		assert.Equal(t, variant.Int(8), mirrorNode.Var(hash.NewStringHash("kind")))

		// Base priority is a reliable attribute.
		r = bytes.NewReader(conn.sent[2].Payload)
		pr = protocol.NewPayloadReader(r)
		assert.Equal(t, c.ID(), pr.Uint32())
		require.Equal(t, protocol.DeltaHasReliable, pr.Uint8())
		require.NoError(t, pr.Err())
		mnp, ok := scene.GetComponent[*scene.NetworkPriority](mirrorNode)
		require.True(t, ok)
		require.NoError(t, scene.ReadDeltaUpdate(r, mnp, nil))
		assert.Equal(t, float32(50), mnp.BasePriority())

		ack, err := protocol.DecodeAck(conn.sent[3])
		require.NoError(t, err)
		assert.Equal(t, uint64(3), ack.Frame)
	})

	t.Run("ComponentRemove", func(t *testing.T) {
		compID := c.ID()
		c.Remove()

		srv.scene.PrepareNetworkUpdate()
		conn.sent = nil
		require.NoError(t, srv.replicateSession(sess, 4))
		require.Equal(t, []protocol.Kind{protocol.KindComponentRemove, protocol.KindAck}, kinds(conn.sent))

		pr := protocol.NewPayloadReader(bytes.NewReader(conn.sent[0].Payload))
		assert.Equal(t, compID, pr.Uint32())
	})

	t.Run("NodeRemove", func(t *testing.T) {
		nodeID := n.ID()
		n.Remove()

		srv.scene.PrepareNetworkUpdate()
		conn.sent = nil
		require.NoError(t, srv.replicateSession(sess, 5))
		require.Equal(t, []protocol.Kind{protocol.KindNodeRemove, protocol.KindAck}, kinds(conn.sent))

		pr := protocol.NewPayloadReader(bytes.NewReader(conn.sent[0].Payload))
		assert.Equal(t, nodeID, pr.Uint32())
	})

	t.Run("ReparentRecreates", func(t *testing.T) {
		a, err := srv.scene.Root().CreateChild("A", scene.Replicated)
		require.NoError(t, err)
		b, err := srv.scene.Root().CreateChild("B", scene.Replicated)
		require.NoError(t, err)

		srv.scene.PrepareNetworkUpdate()
		conn.sent = nil
		require.NoError(t, srv.replicateSession(sess, 6))
		require.Equal(t, []protocol.Kind{
			protocol.KindNodeCreate,
			protocol.KindNodeCreate,
			protocol.KindAck,
		}, kinds(conn.sent))

		// Moving B under A keeps its ID; the connection sees a remove and
		// a fresh creation record under the new parent.
		require.NoError(t, a.AddChild(b))

		srv.scene.PrepareNetworkUpdate()
		conn.sent = nil
		require.NoError(t, srv.replicateSession(sess, 7))
		require.Equal(t, []protocol.Kind{
			protocol.KindNodeRemove,
			protocol.KindNodeCreate,
			protocol.KindAck,
		}, kinds(conn.sent))

		pr := protocol.NewPayloadReader(bytes.NewReader(conn.sent[0].Payload))
		assert.Equal(t, b.ID(), pr.Uint32())

		pr = protocol.NewPayloadReader(bytes.NewReader(conn.sent[1].Payload))
		assert.Equal(t, b.ID(), pr.Uint32())
		assert.Equal(t, a.ID(), pr.Uint32(), "creation record names the new parent")
	})
}

func TestServer_OwnerBypassesThrottle(t *testing.T) {
	srv, err := New(testConfig(t), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Resources().Close() })

	conn := &captureConn{}
	sess := newClientSession("owner", conn, log.Nop())

	n, err := srv.scene.Root().CreateChild("Avatar", scene.Replicated)
	require.NoError(t, err)
	n.SetOwner("owner")
	c, err := n.CreateComponent("NetworkPriority", scene.Replicated)
	require.NoError(t, err)
	c.(*scene.NetworkPriority).SetBasePriority(1)

	srv.scene.PrepareNetworkUpdate()
	require.NoError(t, srv.replicateSession(sess, 1))
	require.Equal(t, []protocol.Kind{protocol.KindNodeCreate, protocol.KindAck}, kinds(conn.sent))

	// At priority 1 a spectator would wait ~100 ticks; the owner gets the
	// update immediately.
	n.SetPosition(spatial.Vector3{X: 1})
	srv.scene.PrepareNetworkUpdate()
	conn.sent = nil
	require.NoError(t, srv.replicateSession(sess, 2))
	assert.Equal(t, []protocol.Kind{protocol.KindNodeDelta, protocol.KindAck}, kinds(conn.sent))
}

func TestServer_InterestDistance(t *testing.T) {
	srv, err := New(testConfig(t), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Resources().Close() })

	conn := &captureConn{}
	sess := newClientSession("scout", conn, log.Nop())
	sess.SetInterestPosition(spatial.Vector3{})

	n, err := srv.scene.Root().CreateChild("Distant", scene.Replicated)
	require.NoError(t, err)
	n.SetPosition(spatial.Vector3{X: 50})
	c, err := n.CreateComponent("NetworkPriority", scene.Replicated)
	require.NoError(t, err)
	c.(*scene.NetworkPriority).SetDistanceFactor(2)

	srv.scene.PrepareNetworkUpdate()
	require.NoError(t, srv.replicateSession(sess, 1))
	require.Equal(t, []protocol.Kind{protocol.KindNodeCreate, protocol.KindAck}, kinds(conn.sent))

	// Priority 100 - 2*50 bottoms out at zero; the node never updates for
	// this client while it stays out of range.
	n.SetVar(hash.NewStringHash("loot"), variant.Int(1))
	srv.scene.PrepareNetworkUpdate()
	conn.sent = nil
	for frame := uint64(2); frame < 6; frame++ {
		require.NoError(t, srv.replicateSession(sess, frame))
	}
	assert.Empty(t, conn.sent)

	// Dropping the interest position removes the distance penalty.
	sess.ClearInterestPosition()
	require.NoError(t, srv.replicateSession(sess, 6))
	assert.Equal(t, []protocol.Kind{protocol.KindVarDelta, protocol.KindAck}, kinds(conn.sent))
}
