package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/replication"
	"github.com/scenesync/scenesync/internal/core/spatial"
	"github.com/scenesync/scenesync/pkg/sequence"
)

// ClientSession is one connected client: its transport connection, the
// per-connection replication state and liveness bookkeeping.
//
// State, queue and sentThisTick belong to the replication goroutine. The
// atomic fields are shared with the receive loop and the health monitor.
type ClientSession struct {
	ID   protocol.ClientID
	Conn protocol.Conn

	// State tracks what this client knows about the scene.
	State *replication.SceneState

	// queue stages delta records during a tick so they go out highest
	// priority first. Creation and removal records bypass it.
	queue        *sequence.PriorityQueue[*protocol.Message]
	sentThisTick int

	logger log.Log

	mu          sync.Mutex
	interest    spatial.Vector3
	hasInterest bool

	connectedAt  time.Time
	lastAckFrame uint64
	lastSeen     int64 // unix nanoseconds
	active       int32
}

func newClientSession(id protocol.ClientID, conn protocol.Conn, logger log.Log) *ClientSession {
	now := time.Now()
	return &ClientSession{
		ID:          id,
		Conn:        conn,
		State:       replication.NewSceneState(),
		queue:       sequence.NewPriorityQueue[*protocol.Message](),
		logger:      logger.With(log.String("client_id", string(id))),
		connectedAt: now,
		lastSeen:    now.UnixNano(),
		active:      1,
	}
}

// SetInterestPosition sets the world position distance-based network
// priority measures against for this client. Safe from any goroutine.
func (cs *ClientSession) SetInterestPosition(pos spatial.Vector3) {
	cs.mu.Lock()
	cs.interest = pos
	cs.hasInterest = true
	cs.mu.Unlock()
}

// ClearInterestPosition restores full priority regardless of distance.
func (cs *ClientSession) ClearInterestPosition() {
	cs.mu.Lock()
	cs.hasInterest = false
	cs.mu.Unlock()
}

func (cs *ClientSession) interestPosition() (spatial.Vector3, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.interest, cs.hasInterest
}

// LastAckFrame returns the last replication frame the client confirmed.
func (cs *ClientSession) LastAckFrame() uint64 {
	return atomic.LoadUint64(&cs.lastAckFrame)
}

func (cs *ClientSession) touch() {
	atomic.StoreInt64(&cs.lastSeen, time.Now().UnixNano())
}

func (cs *ClientSession) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, atomic.LoadInt64(&cs.lastSeen)))
}

// deactivate flips the session inactive; the first caller runs the
// teardown.
func (cs *ClientSession) deactivate() bool {
	return atomic.CompareAndSwapInt32(&cs.active, 1, 0)
}
