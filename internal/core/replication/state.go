package replication

import (
	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// NetworkState is the network-side snapshot of one serializable, shared by
// all connections. Current holds the attribute values captured on the last
// prepare pass; a change against it marks the attribute dirty on every
// tracker. PreviousVars plays the same role for user variables.
type NetworkState struct {
	Current      []variant.Variant
	PreviousVars variant.Map
	Trackers     []Tracker
	Intercepted  DirtyBits
}

// NewNetworkState sizes the snapshot for n network attributes.
func NewNetworkState(n int) *NetworkState {
	return &NetworkState{
		Current:      make([]variant.Variant, n),
		PreviousVars: make(variant.Map),
	}
}

// AddTracker registers a per-connection state for dirty marking.
func (s *NetworkState) AddTracker(t Tracker) {
	s.Trackers = append(s.Trackers, t)
}

// RemoveTracker unregisters a per-connection state.
func (s *NetworkState) RemoveTracker(t Tracker) {
	for i, cur := range s.Trackers {
		if cur == t {
			s.Trackers = append(s.Trackers[:i], s.Trackers[i+1:]...)
			return
		}
	}
}

// Tracker is a per-connection replication state that can be marked dirty
// for a single serializable.
type Tracker interface {
	// MarkAttributeDirty flags the network attribute at index i.
	MarkAttributeDirty(i int)
}

// SceneState tracks everything one connection knows about a scene.
// Node and component references are by ID; the scene's registries stay
// the single source of truth for liveness.
type SceneState struct {
	NodeStates map[uint32]*NodeState
	DirtyNodes map[uint32]struct{}
}

// NewSceneState creates an empty per-connection scene state.
func NewSceneState() *SceneState {
	return &SceneState{
		NodeStates: make(map[uint32]*NodeState),
		DirtyNodes: make(map[uint32]struct{}),
	}
}

// EnsureNode returns the tracking state for a node, creating it on first
// use. New nodes start marked dirty so the next update sends their
// initial state.
func (s *SceneState) EnsureNode(nodeID uint32) *NodeState {
	if ns, ok := s.NodeStates[nodeID]; ok {
		return ns
	}
	ns := &NodeState{
		Scene:           s,
		NodeID:          nodeID,
		DirtyVars:       make(map[hash.StringHash]struct{}),
		ComponentStates: make(map[uint32]*ComponentState),
	}
	s.NodeStates[nodeID] = ns
	s.DirtyNodes[nodeID] = struct{}{}
	return ns
}

// RemoveNode forgets a node and its component states.
func (s *SceneState) RemoveNode(nodeID uint32) {
	delete(s.NodeStates, nodeID)
	delete(s.DirtyNodes, nodeID)
}

// Clear drops all per-connection state.
func (s *SceneState) Clear() {
	s.NodeStates = make(map[uint32]*NodeState)
	s.DirtyNodes = make(map[uint32]struct{})
}

// NodeState tracks one replicated node for one connection.
type NodeState struct {
	Scene           *SceneState
	NodeID          uint32
	DirtyAttributes DirtyBits
	DirtyVars       map[hash.StringHash]struct{}
	ComponentStates map[uint32]*ComponentState

	// InitialSent is false until the connection has received the node's
	// creation record; the first update must carry the full state.
	InitialSent bool

	// ParentID records the parent the connection last saw, captured when
	// the creation record goes out. A mismatch later means the node was
	// reparented and must be recreated on that connection.
	ParentID uint32

	// PriorityAcc accumulates network priority between updates. The node
	// replicates when the accumulator reaches one.
	PriorityAcc float32
}

// MarkAttributeDirty implements Tracker.
func (n *NodeState) MarkAttributeDirty(i int) {
	n.DirtyAttributes.Set(i)
	n.markDirty()
}

// MarkVarDirty flags a user variable for delta replication.
func (n *NodeState) MarkVarDirty(key hash.StringHash) {
	n.DirtyVars[key] = struct{}{}
	n.markDirty()
}

func (n *NodeState) markDirty() {
	n.Scene.DirtyNodes[n.NodeID] = struct{}{}
}

// EnsureComponent returns the tracking state for a component of this node,
// creating it on first use.
func (n *NodeState) EnsureComponent(componentID uint32) *ComponentState {
	if cs, ok := n.ComponentStates[componentID]; ok {
		return cs
	}
	cs := &ComponentState{Node: n, ComponentID: componentID}
	n.ComponentStates[componentID] = cs
	n.markDirty()
	return cs
}

// RemoveComponent forgets a component state.
func (n *NodeState) RemoveComponent(componentID uint32) {
	delete(n.ComponentStates, componentID)
}

// Dirty reports whether anything on the node or its components needs
// sending.
func (n *NodeState) Dirty() bool {
	if !n.InitialSent || n.DirtyAttributes.Any() || len(n.DirtyVars) > 0 {
		return true
	}
	for _, cs := range n.ComponentStates {
		if !cs.InitialSent || cs.DirtyAttributes.Any() {
			return true
		}
	}
	return false
}

// ClearDirty resets per-update dirty flags after a successful send.
func (n *NodeState) ClearDirty() {
	n.DirtyAttributes.ClearAll()
	for k := range n.DirtyVars {
		delete(n.DirtyVars, k)
	}
	for _, cs := range n.ComponentStates {
		cs.DirtyAttributes.ClearAll()
	}
	delete(n.Scene.DirtyNodes, n.NodeID)
}

// ComponentState tracks one replicated component for one connection.
type ComponentState struct {
	Node            *NodeState
	ComponentID     uint32
	DirtyAttributes DirtyBits
	InitialSent     bool
}

// MarkAttributeDirty implements Tracker.
func (c *ComponentState) MarkAttributeDirty(i int) {
	c.DirtyAttributes.Set(i)
	c.Node.markDirty()
}
