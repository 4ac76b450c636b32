package client

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// Update applies all queued replication records to the mirror scene and
// advances scene time, which drives transform smoothing. Call it once per
// application frame, always from the same goroutine.
//
// The frame ack echo that keeps the server-side health check happy is sent
// from here, so a client that stops updating is eventually dropped as dead.
func (c *Client) Update(timeStep float32) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if err := c.fatalError(); err != nil {
		return err
	}

drain:
	for {
		select {
		case in := <-c.queue:
			if in.reset {
				c.resetScene()
				continue
			}
			if err := c.apply(in.m); err != nil {
				c.logger.Warn("dropping replication record",
					log.String("kind", in.m.Kind.String()), log.Error(err))
			}
			in.m.Release()
		default:
			break drain
		}
	}

	c.scene.Update(timeStep)
	return nil
}

// resetScene removes every replicated subtree from the mirror. Runs at the
// start of each session, so the initial creation records rebuild the scene
// from scratch. Locally created nodes stay.
func (c *Client) resetScene() {
	var replicated []*scene.Node
	for _, child := range c.scene.Root().Children() {
		if scene.IsReplicatedID(child.ID()) {
			replicated = append(replicated, child)
		}
	}
	for _, n := range replicated {
		c.fireNodeRemoved(n)
		n.Remove()
	}
	if len(replicated) > 0 {
		c.logger.Debug("mirror reset", log.Int("subtrees", len(replicated)))
	}
}

func (c *Client) apply(m *protocol.Message) error {
	switch m.Kind {
	case protocol.KindNodeCreate:
		return c.applyNodeCreate(m)
	case protocol.KindNodeDelta:
		return c.applyNodeDelta(m)
	case protocol.KindNodeRemove:
		return c.applyNodeRemove(m)
	case protocol.KindComponentCreate:
		return c.applyComponentCreate(m)
	case protocol.KindComponentDelta:
		return c.applyComponentDelta(m)
	case protocol.KindComponentRemove:
		return c.applyComponentRemove(m)
	case protocol.KindVarDelta:
		return c.applyVarDelta(m)
	case protocol.KindAck:
		return c.applyAck(m)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnexpectedMessage, m.Kind)
	}
}

// applyNodeCreate builds a node from its creation record: identity, parent,
// full attribute state, user variables and components. Applying the same
// record twice refreshes the existing node.
func (c *Client) applyNodeCreate(m *protocol.Message) error {
	r := bytes.NewReader(m.Payload)
	pr := protocol.NewPayloadReader(r)
	nodeID := pr.Uint32()
	parentID := pr.Uint32()
	if err := pr.Err(); err != nil {
		return err
	}
	if !scene.IsReplicatedID(nodeID) {
		return fmt.Errorf("node %d outside the replicated range", nodeID)
	}

	// Parents always precede children on the wire; a missing parent means
	// it was removed again within the same session and the subtree will be
	// removed too, so attach under the root and let that happen.
	parent := c.scene.Root()
	if p := c.scene.NodeByID(parentID); p != nil {
		parent = p
	}

	n := c.scene.NodeByID(nodeID)
	created := n == nil
	if created {
		var err error
		n, err = parent.CreateChildWithID("", nodeID, scene.Replicated)
		if err != nil {
			return err
		}
	}
	if err := scene.ReadInitialUpdate(r, n, nil); err != nil {
		return err
	}
	if err := scene.ReadVarsUpdate(r, n); err != nil {
		return err
	}

	count := pr.Uint32()
	if err := pr.Err(); err != nil {
		return err
	}
	var newComps []scene.Component
	for i := uint32(0); i < count; i++ {
		compID := pr.Uint32()
		typeName := pr.String()
		if err := pr.Err(); err != nil {
			return err
		}
		comp := c.scene.ComponentByID(compID)
		if comp == nil {
			var err error
			comp, err = n.CreateComponentWithID(typeName, compID, scene.Replicated)
			if err != nil {
				return err
			}
			newComps = append(newComps, comp)
		}
		if err := scene.ReadInitialUpdate(r, comp, nil); err != nil {
			return err
		}
		comp.ApplyAttributes()
	}

	if created && c.config.EnableSmoothing {
		c.attachSmoothing(n)
	}
	for _, comp := range newComps {
		c.fireComponentCreated(comp)
	}
	if created {
		c.fireNodeCreated(n)
	}
	return nil
}

// applyNodeDelta applies a node's changed attributes. Records for nodes the
// mirror no longer has are stale and dropped.
func (c *Client) applyNodeDelta(m *protocol.Message) error {
	r := bytes.NewReader(m.Payload)
	pr := protocol.NewPayloadReader(r)
	nodeID := pr.Uint32()
	flags := pr.Uint8()
	if err := pr.Err(); err != nil {
		return err
	}
	n := c.scene.NodeByID(nodeID)
	if n == nil {
		return nil
	}
	if flags&protocol.DeltaHasReliable != 0 {
		if err := scene.ReadDeltaUpdate(r, n, c.interceptTransform); err != nil {
			return err
		}
	}
	if flags&protocol.DeltaHasLatest != 0 {
		if err := scene.ReadDeltaUpdate(r, n, c.interceptTransform); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) applyNodeRemove(m *protocol.Message) error {
	pr := protocol.NewPayloadReader(bytes.NewReader(m.Payload))
	nodeID := pr.Uint32()
	if err := pr.Err(); err != nil {
		return err
	}
	n := c.scene.NodeByID(nodeID)
	if n == nil || !scene.IsReplicatedID(nodeID) {
		return nil
	}
	c.fireNodeRemoved(n)
	n.Remove()
	return nil
}

func (c *Client) applyComponentCreate(m *protocol.Message) error {
	r := bytes.NewReader(m.Payload)
	pr := protocol.NewPayloadReader(r)
	nodeID := pr.Uint32()
	compID := pr.Uint32()
	typeName := pr.String()
	if err := pr.Err(); err != nil {
		return err
	}
	n := c.scene.NodeByID(nodeID)
	if n == nil {
		return nil
	}
	comp := c.scene.ComponentByID(compID)
	created := comp == nil
	if created {
		var err error
		comp, err = n.CreateComponentWithID(typeName, compID, scene.Replicated)
		if err != nil {
			return err
		}
	}
	if err := scene.ReadInitialUpdate(r, comp, nil); err != nil {
		return err
	}
	comp.ApplyAttributes()
	if created {
		c.fireComponentCreated(comp)
	}
	return nil
}

func (c *Client) applyComponentDelta(m *protocol.Message) error {
	r := bytes.NewReader(m.Payload)
	pr := protocol.NewPayloadReader(r)
	compID := pr.Uint32()
	flags := pr.Uint8()
	if err := pr.Err(); err != nil {
		return err
	}
	comp := c.scene.ComponentByID(compID)
	if comp == nil {
		return nil
	}
	if flags&protocol.DeltaHasReliable != 0 {
		if err := scene.ReadDeltaUpdate(r, comp, nil); err != nil {
			return err
		}
	}
	if flags&protocol.DeltaHasLatest != 0 {
		if err := scene.ReadDeltaUpdate(r, comp, nil); err != nil {
			return err
		}
	}
	comp.ApplyAttributes()
	return nil
}

func (c *Client) applyComponentRemove(m *protocol.Message) error {
	pr := protocol.NewPayloadReader(bytes.NewReader(m.Payload))
	compID := pr.Uint32()
	if err := pr.Err(); err != nil {
		return err
	}
	comp := c.scene.ComponentByID(compID)
	if comp == nil {
		return nil
	}
	c.fireComponentRemoved(comp)
	comp.Remove()
	return nil
}

func (c *Client) applyVarDelta(m *protocol.Message) error {
	r := bytes.NewReader(m.Payload)
	pr := protocol.NewPayloadReader(r)
	nodeID := pr.Uint32()
	if err := pr.Err(); err != nil {
		return err
	}
	n := c.scene.NodeByID(nodeID)
	if n == nil {
		return nil
	}
	return scene.ReadVarsUpdate(r, n)
}

// applyAck records the completed server frame and echoes the ack so the
// server can measure this client's liveness end to end, application loop
// included.
func (c *Client) applyAck(m *protocol.Message) error {
	ack, err := protocol.DecodeAck(m)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&c.serverFrame, ack.Frame)

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		echo := protocol.DefaultMessagePool.GetMessage()
		protocol.EncodeAck(echo, protocol.Ack{Frame: ack.Frame})
		if err := conn.Send(echo); err != nil {
			echo.Release()
		}
	}

	c.fireFrame(ack.Frame)
	return nil
}

// attachSmoothing adds a local SmoothedTransform to a freshly created
// replicated node and diverts incoming transform updates into its targets.
// The component seeds its targets from the applied initial state, so the
// node starts in place.
func (c *Client) attachSmoothing(n *scene.Node) {
	if _, ok := scene.GetComponent[*scene.SmoothedTransform](n); ok {
		return
	}
	if _, err := n.CreateComponent("SmoothedTransform", scene.Local); err != nil {
		c.logger.Warn("smoothing unavailable", log.Uint32("node_id", n.ID()), log.Error(err))
		return
	}
	n.SetInterceptNetworkUpdate(n.Attributes(), "Position", true)
	n.SetInterceptNetworkUpdate(n.Attributes(), "Rotation", true)
}

// interceptTransform feeds intercepted transform attributes into the node's
// SmoothedTransform instead of the attribute table.
func (c *Client) interceptTransform(obj scene.Serializable, info *attr.Info, value variant.Variant) {
	n, ok := obj.(*scene.Node)
	if !ok {
		info.Set(obj, value)
		return
	}
	st, ok := scene.GetComponent[*scene.SmoothedTransform](n)
	if !ok {
		info.Set(obj, value)
		return
	}
	switch info.Name {
	case "Position":
		st.SetTargetPosition(value.Vector3())
	case "Rotation":
		st.SetTargetRotation(value.Quaternion())
	default:
		info.Set(obj, value)
	}
}

// Handler snapshots. Handlers run inline on the Update goroutine, so they
// may freely touch the mirror scene.

func (c *Client) fireNodeCreated(n *scene.Node) {
	c.handlerMutex.RLock()
	handlers := c.nodeCreated
	c.handlerMutex.RUnlock()
	for _, h := range handlers {
		h(n)
	}
}

func (c *Client) fireNodeRemoved(n *scene.Node) {
	c.handlerMutex.RLock()
	handlers := c.nodeRemoved
	c.handlerMutex.RUnlock()
	for _, h := range handlers {
		h(n)
	}
}

func (c *Client) fireComponentCreated(comp scene.Component) {
	c.handlerMutex.RLock()
	handlers := c.componentCreated
	c.handlerMutex.RUnlock()
	for _, h := range handlers {
		h(comp)
	}
}

func (c *Client) fireComponentRemoved(comp scene.Component) {
	c.handlerMutex.RLock()
	handlers := c.componentRemoved
	c.handlerMutex.RUnlock()
	for _, h := range handlers {
		h(comp)
	}
}

func (c *Client) fireFrame(frame uint64) {
	c.handlerMutex.RLock()
	handlers := c.frameHandlers
	c.handlerMutex.RUnlock()
	for _, h := range handlers {
		h(frame)
	}
}
