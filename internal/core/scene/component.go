package scene

import (
	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/hash"
)

// Component is a unit of behavior or data owned by a node. Concrete types
// embed ComponentBase and override the On* hooks they care about.
//
// Lifecycle: a component starts unattached, becomes node-attached when added
// to a node, and scene-attached when that node is part of a scene. OnNodeSet
// fires before OnSceneSet on the way in; detaching fires the hooks in
// reverse order with nil arguments.
type Component interface {
	Serializable

	// Base exposes the embedded common state.
	Base() *ComponentBase

	TypeName() string
	TypeHash() hash.StringHash
	ID() uint32
	Node() *Node
	Scene() *Scene
	Enabled() bool
	SetEnabled(enable bool)
	EnabledEffective() bool
	Remove()
	MarkNetworkUpdate()

	// OnNodeSet is called with the owning node after attach, and nil after
	// detach.
	OnNodeSet(node *Node)
	// OnSceneSet is called with the scene after the owning node joins one,
	// and nil when it leaves.
	OnSceneSet(scene *Scene)
	// OnSetEnabled is called when the component or its node changes
	// effective enabled state.
	OnSetEnabled()
	// OnMarkedDirty is called for listener components when the node's world
	// transform is invalidated. During a threaded update window the
	// component must defer its reaction through Scene.DelayedMarkedDirty.
	OnMarkedDirty(node *Node)
	// OnNodeSetEnabled is called for listener components when the node's
	// enabled state changes.
	OnNodeSetEnabled(node *Node)
}

// ComponentBase supplies identity, ownership and enabled state. It
// implements every Component method except the constructor-wired type
// metadata; hooks default to no-ops.
type ComponentBase struct {
	SerializableBase

	this     Component
	typeInfo *TypeInfo
	id       uint32
	node     *Node
	enabled  bool

	networkUpdate bool
}

// InitComponent wires a freshly constructed component to its type metadata.
// Every component constructor must call it before returning.
func InitComponent(c Component, ti *TypeInfo) {
	b := c.Base()
	b.this = c
	b.typeInfo = ti
	b.enabled = true
}

// Base implements Component.
func (b *ComponentBase) Base() *ComponentBase { return b }

// Attributes returns the attribute table of the component type.
func (b *ComponentBase) Attributes() *attr.Table {
	if b.typeInfo == nil {
		return nil
	}
	return b.typeInfo.Table
}

func (b *ComponentBase) TypeName() string {
	if b.typeInfo == nil {
		return ""
	}
	return b.typeInfo.Name
}

func (b *ComponentBase) TypeHash() hash.StringHash {
	if b.typeInfo == nil {
		return 0
	}
	return b.typeInfo.Hash
}

// ID returns the component ID, 0 while unattached to a scene.
func (b *ComponentBase) ID() uint32 { return b.id }

// Node returns the owning node, nil while unattached.
func (b *ComponentBase) Node() *Node { return b.node }

// Scene returns the scene of the owning node, nil while not scene-attached.
func (b *ComponentBase) Scene() *Scene {
	if b.node == nil {
		return nil
	}
	return b.node.Scene()
}

// Enabled reports the component's own enabled flag.
func (b *ComponentBase) Enabled() bool { return b.enabled }

// SetEnabled switches the component's own enabled flag and fires
// OnSetEnabled on a change.
func (b *ComponentBase) SetEnabled(enable bool) {
	if enable == b.enabled {
		return
	}
	b.enabled = enable
	if b.this != nil {
		b.this.OnSetEnabled()
	}
	b.MarkNetworkUpdate()
	if s := b.Scene(); s != nil {
		s.publishComponentEvent(EventComponentEnabledChanged, b.this)
	}
}

// EnabledEffective reports whether both the component and its node are
// enabled.
func (b *ComponentBase) EnabledEffective() bool {
	return b.enabled && b.node != nil && b.node.Enabled()
}

// Remove detaches the component from its node. A no-op while unattached.
func (b *ComponentBase) Remove() {
	if b.node != nil && b.this != nil {
		b.node.RemoveComponent(b.this)
	}
}

// MarkNetworkUpdate queues the component for the next replication pass.
// Local-range components are never queued.
func (b *ComponentBase) MarkNetworkUpdate() {
	if b.networkUpdate || b.id == 0 || !IsReplicatedID(b.id) {
		return
	}
	if s := b.Scene(); s != nil {
		s.markComponentForNetworkUpdate(b.this)
		b.networkUpdate = true
	}
}

func (b *ComponentBase) clearNetworkUpdate() { b.networkUpdate = false }

// Default hook implementations.

func (b *ComponentBase) OnNodeSet(node *Node)        {}
func (b *ComponentBase) OnSceneSet(scene *Scene)     {}
func (b *ComponentBase) OnSetEnabled()               {}
func (b *ComponentBase) OnMarkedDirty(node *Node)    {}
func (b *ComponentBase) OnNodeSetEnabled(node *Node) {}

// setNode attaches or detaches the owning node and fires OnNodeSet.
func (b *ComponentBase) setNode(node *Node) {
	b.node = node
	if b.this != nil {
		b.this.OnNodeSet(node)
	}
}

func (b *ComponentBase) setID(id uint32) { b.id = id }

// GetComponent returns the first component of the node with the concrete
// type T, searching in attachment order.
func GetComponent[T Component](n *Node) (T, bool) {
	var zero T
	if n == nil {
		return zero, false
	}
	for _, c := range n.components {
		if t, ok := c.(T); ok {
			return t, true
		}
	}
	return zero, false
}
