package server

import (
	"bytes"
	"sync/atomic"

	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/replication"
	"github.com/scenesync/scenesync/internal/core/scene"
)

// defaultStagePriority orders records of nodes without a NetworkPriority
// component, matching the component's base priority default.
const defaultStagePriority = 100

// replicateSession sends one tick of scene changes to one client: removal
// records first, then a parent-first hierarchy walk that sends creation
// records inline and stages delta records on the priority queue.
//
// A send failure is fatal for the session; its dirty bookkeeping is cleared
// as records go out, so a lost record cannot be retransmitted.
func (s *Server) replicateSession(sess *ClientSession, frame uint64) error {
	sess.sentThisTick = 0

	buf := protocol.DefaultMessagePool.GetBuffer()
	defer protocol.DefaultMessagePool.PutBuffer(buf)

	if err := s.sendRemovals(sess, buf); err != nil {
		return err
	}

	for _, child := range s.scene.Root().Children() {
		if !scene.IsReplicatedID(child.ID()) {
			continue
		}
		if err := s.replicateNode(sess, child, buf); err != nil {
			s.drainStaged(sess, false)
			return err
		}
	}

	if err := s.drainStaged(sess, true); err != nil {
		return err
	}

	// The end-of-frame ack marks the batch and doubles as the server side
	// keepalive; idle connections get one per second.
	if sess.sentThisTick > 0 || frame%uint64(s.config.Replication.TickRate) == 0 {
		m := protocol.DefaultMessagePool.GetMessage()
		protocol.EncodeAck(m, protocol.Ack{Frame: frame})
		if err := sess.Conn.Send(m); err != nil {
			m.Release()
			return err
		}
		atomic.AddUint64(&s.messagesOut, 1)
	}
	return nil
}

// sendRemovals diffs the session's tracked objects against the scene
// registries and announces everything that no longer exists.
func (s *Server) sendRemovals(sess *ClientSession, buf *bytes.Buffer) error {
	for nodeID, ns := range sess.State.NodeStates {
		if s.scene.NodeByID(nodeID) == nil {
			buf.Reset()
			protocol.NewPayloadWriter(buf).Uint32(nodeID)
			if err := s.send(sess, protocol.KindNodeRemove, buf.Bytes()); err != nil {
				return err
			}
			sess.State.RemoveNode(nodeID)
			continue
		}
		for compID := range ns.ComponentStates {
			if s.scene.ComponentByID(compID) == nil {
				buf.Reset()
				protocol.NewPayloadWriter(buf).Uint32(compID)
				if err := s.send(sess, protocol.KindComponentRemove, buf.Bytes()); err != nil {
					return err
				}
				ns.RemoveComponent(compID)
			}
		}
	}
	return nil
}

// replicateNode brings one node up to date for the session and recurses
// into its replicated children, so parents always precede children on the
// wire.
func (s *Server) replicateNode(sess *ClientSession, n *scene.Node, buf *bytes.Buffer) error {
	ns := scene.TrackNode(sess.State, n)

	parentID := uint32(0)
	if p := n.Parent(); p != nil {
		parentID = p.ID()
	}

	// A reparented node keeps its ID but the client copy sits under the
	// old parent; recreate it on this connection.
	if ns.InitialSent && ns.ParentID != parentID {
		buf.Reset()
		protocol.NewPayloadWriter(buf).Uint32(n.ID())
		if err := s.send(sess, protocol.KindNodeRemove, buf.Bytes()); err != nil {
			return err
		}
		scene.UntrackNode(sess.State, n)
		ns = scene.TrackNode(sess.State, n)
	}

	if !ns.InitialSent {
		if err := s.sendNodeCreate(sess, n, ns, parentID, buf); err != nil {
			return err
		}
	} else if err := s.stageNodeUpdates(sess, n, ns, buf); err != nil {
		return err
	}

	for _, child := range n.Children() {
		if !scene.IsReplicatedID(child.ID()) {
			continue
		}
		if err := s.replicateNode(sess, child, buf); err != nil {
			return err
		}
	}
	return nil
}

// sendNodeCreate sends a node's creation record: identity, parent, the full
// network attribute state, user variables and every replicated component.
func (s *Server) sendNodeCreate(sess *ClientSession, n *scene.Node, ns *replication.NodeState, parentID uint32, buf *bytes.Buffer) error {
	comps := replicatedComponents(n)

	buf.Reset()
	pw := protocol.NewPayloadWriter(buf)
	pw.Uint32(n.ID())
	pw.Uint32(parentID)
	if err := scene.WriteInitialUpdate(buf, n); err != nil {
		return err
	}
	vars := n.Vars()
	keys := make(map[hash.StringHash]struct{}, len(vars))
	for k := range vars {
		keys[k] = struct{}{}
	}
	if err := scene.WriteVarsUpdate(buf, n, keys); err != nil {
		return err
	}
	pw.Uint32(uint32(len(comps)))
	for _, c := range comps {
		pw.Uint32(c.ID())
		pw.String(c.TypeName())
		if err := scene.WriteInitialUpdate(buf, c); err != nil {
			return err
		}
	}
	if err := pw.Err(); err != nil {
		return err
	}
	if err := s.send(sess, protocol.KindNodeCreate, buf.Bytes()); err != nil {
		return err
	}

	ns.InitialSent = true
	ns.ParentID = parentID
	for _, c := range comps {
		cs := scene.TrackComponent(ns, c)
		cs.InitialSent = true
		cs.DirtyAttributes.ClearAll()
	}
	ns.ClearDirty()
	return nil
}

// sendComponentCreate announces a component added to an already replicated
// node.
func (s *Server) sendComponentCreate(sess *ClientSession, ns *replication.NodeState, n *scene.Node, c scene.Component, buf *bytes.Buffer) error {
	buf.Reset()
	pw := protocol.NewPayloadWriter(buf)
	pw.Uint32(n.ID())
	pw.Uint32(c.ID())
	pw.String(c.TypeName())
	if err := scene.WriteInitialUpdate(buf, c); err != nil {
		return err
	}
	if err := pw.Err(); err != nil {
		return err
	}
	if err := s.send(sess, protocol.KindComponentCreate, buf.Bytes()); err != nil {
		return err
	}

	cs := scene.TrackComponent(ns, c)
	cs.InitialSent = true
	cs.DirtyAttributes.ClearAll()
	return nil
}

// stageNodeUpdates stages a dirty node's delta records on the session
// queue. Network priority may defer the node to a later tick; the dirty
// state survives until an update actually goes out.
func (s *Server) stageNodeUpdates(sess *ClientSession, n *scene.Node, ns *replication.NodeState, buf *bytes.Buffer) error {
	newComps := newComponents(n, ns)
	if !ns.Dirty() && len(newComps) == 0 {
		return nil
	}

	priority, due := s.updateDue(sess, n, ns)
	if !due {
		return nil
	}

	if ns.DirtyAttributes.Any() {
		delta, latest := scene.SplitDirtyBits(n.Attributes(), &ns.DirtyAttributes)
		if err := s.stageDelta(sess, protocol.KindNodeDelta, n.ID(), n, &delta, &latest, priority, buf); err != nil {
			return err
		}
	}
	if len(ns.DirtyVars) > 0 {
		buf.Reset()
		pw := protocol.NewPayloadWriter(buf)
		pw.Uint32(n.ID())
		if err := scene.WriteVarsUpdate(buf, n, ns.DirtyVars); err != nil {
			return err
		}
		if err := pw.Err(); err != nil {
			return err
		}
		s.stage(sess, protocol.KindVarDelta, buf.Bytes(), priority)
	}

	for _, c := range newComps {
		if err := s.sendComponentCreate(sess, ns, n, c, buf); err != nil {
			return err
		}
	}
	for _, c := range n.Components() {
		cs, ok := ns.ComponentStates[c.ID()]
		if !ok || !cs.InitialSent || !cs.DirtyAttributes.Any() {
			continue
		}
		delta, latest := scene.SplitDirtyBits(c.Attributes(), &cs.DirtyAttributes)
		if err := s.stageDelta(sess, protocol.KindComponentDelta, c.ID(), c, &delta, &latest, priority, buf); err != nil {
			return err
		}
	}

	ns.ClearDirty()
	return nil
}

// stageDelta composes a delta record carrying a reliable part and a
// latest-data part, either possibly empty, and stages it by priority.
func (s *Server) stageDelta(sess *ClientSession, kind protocol.Kind, id uint32, obj scene.Serializable, delta, latest *replication.DirtyBits, priority int, buf *bytes.Buffer) error {
	var flags uint8
	if delta.Any() {
		flags |= protocol.DeltaHasReliable
	}
	if latest.Any() {
		flags |= protocol.DeltaHasLatest
	}
	if flags == 0 {
		return nil
	}

	buf.Reset()
	pw := protocol.NewPayloadWriter(buf)
	pw.Uint32(id)
	pw.Uint8(flags)
	if delta.Any() {
		if err := scene.WriteDeltaUpdate(buf, obj, delta); err != nil {
			return err
		}
	}
	if latest.Any() {
		if err := scene.WriteDeltaUpdate(buf, obj, latest); err != nil {
			return err
		}
	}
	if err := pw.Err(); err != nil {
		return err
	}
	s.stage(sess, kind, buf.Bytes(), priority)
	return nil
}

// updateDue applies the node's NetworkPriority for this client, advancing
// the session's accumulator, and returns the staging priority when an
// update is due this tick.
func (s *Server) updateDue(sess *ClientSession, n *scene.Node, ns *replication.NodeState) (int, bool) {
	np, ok := scene.GetComponent[*scene.NetworkPriority](n)
	if !ok {
		return defaultStagePriority, true
	}
	if np.AlwaysUpdateOwner() && n.Owner() != "" && n.Owner() == string(sess.ID) {
		return int(np.BasePriority()), true
	}

	var distance float32
	if pos, has := sess.interestPosition(); has {
		distance = n.WorldPosition().Sub(pos).Length()
	}
	if !np.CheckUpdate(distance, &ns.PriorityAcc) {
		return 0, false
	}

	current := np.BasePriority() - np.DistanceFactor()*distance
	if current < np.MinPriority() {
		current = np.MinPriority()
	}
	return int(current), true
}

// send frames a payload into a pooled message and queues it on the
// connection.
func (s *Server) send(sess *ClientSession, kind protocol.Kind, payload []byte) error {
	m := protocol.NewPooledMessage(kind, payload)
	if err := sess.Conn.Send(m); err != nil {
		m.Release()
		return err
	}
	sess.sentThisTick++
	atomic.AddUint64(&s.messagesOut, 1)
	return nil
}

// stage parks a composed record on the session queue for the priority
// ordered flush at the end of the walk.
func (s *Server) stage(sess *ClientSession, kind protocol.Kind, payload []byte, priority int) {
	sess.queue.Enqueue(protocol.NewPooledMessage(kind, payload), priority)
}

// drainStaged flushes the session's staged records in priority order. With
// deliver false the records are only released, such as after a send error
// mid-walk.
func (s *Server) drainStaged(sess *ClientSession, deliver bool) error {
	var firstErr error
	for {
		m, ok := sess.queue.Dequeue()
		if !ok {
			return firstErr
		}
		if !deliver || firstErr != nil {
			m.Release()
			continue
		}
		if err := sess.Conn.Send(m); err != nil {
			m.Release()
			firstErr = err
			continue
		}
		sess.sentThisTick++
		atomic.AddUint64(&s.messagesOut, 1)
	}
}

// replicatedComponents filters a node's components to the replicated ID
// range.
func replicatedComponents(n *scene.Node) []scene.Component {
	var comps []scene.Component
	for _, c := range n.Components() {
		if scene.IsReplicatedID(c.ID()) {
			comps = append(comps, c)
		}
	}
	return comps
}

// newComponents lists replicated components the connection has not seen
// yet.
func newComponents(n *scene.Node, ns *replication.NodeState) []scene.Component {
	var comps []scene.Component
	for _, c := range n.Components() {
		if !scene.IsReplicatedID(c.ID()) {
			continue
		}
		if _, ok := ns.ComponentStates[c.ID()]; !ok {
			comps = append(comps, c)
		}
	}
	return comps
}
