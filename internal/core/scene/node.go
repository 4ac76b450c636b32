package scene

import (
	"github.com/jinzhu/copier"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/spatial"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// Node is one element of the scene hierarchy. It owns an ordered list of
// child nodes and components, a local transform, tags and user variables.
//
// A node constructed with NewNode is detached: it has no scene and ID 0.
// Mutations on a detached node work on the node itself but perform no scene
// bookkeeping; IDs are assigned when the node joins a scene.
//
// The world transform is computed lazily. Mutating the local transform marks
// this node and all descendants dirty; querying a world transform recomputes
// the chain parent-first and clears the flags.
type Node struct {
	SerializableBase

	id       uint32
	name     string
	nameHash hash.StringHash
	tags     []string

	parent     *Node
	scene      *Scene
	children   []*Node
	components []Component
	listeners  []Component

	// enabled is the effective flag; enabledPrev remembers the node's own
	// state across SetDeepEnabled / ResetDeepEnabled.
	enabled     bool
	enabledPrev bool

	position spatial.Vector3
	rotation spatial.Quaternion
	scale    spatial.Vector3

	worldTransform spatial.Matrix3x4
	worldRotation  spatial.Quaternion
	dirty          bool

	vars variant.Map

	// owner is the connection that owns this node for interest management,
	// empty for server-owned nodes.
	owner         string
	networkUpdate bool
}

// NewNode creates a detached node.
func NewNode(name string) *Node {
	n := &Node{
		enabled:        true,
		enabledPrev:    true,
		rotation:       spatial.QuaternionIdentity,
		scale:          spatial.Vector3One,
		worldTransform: spatial.Matrix3x4Identity,
		worldRotation:  spatial.QuaternionIdentity,
	}
	n.setName(name)
	return n
}

// Attributes implements Serializable.
func (n *Node) Attributes() *attr.Table { return nodeAttributes }

// ID returns the node ID, 0 while detached.
func (n *Node) ID() uint32 { return n.id }

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// NameHash returns the hash of the node name.
func (n *Node) NameHash() hash.StringHash { return n.nameHash }

// SetName renames the node.
func (n *Node) SetName(name string) {
	if name == n.name {
		return
	}
	n.setName(name)
	n.MarkNetworkUpdate()
	if n.scene != nil {
		n.scene.publishNodeEvent(EventNodeNameChanged, n)
	}
}

func (n *Node) setName(name string) {
	n.name = name
	n.nameHash = hash.NewStringHash(name)
}

// Parent returns the parent node, nil for detached nodes and the root.
func (n *Node) Parent() *Node { return n.parent }

// Scene returns the owning scene, nil while detached.
func (n *Node) Scene() *Scene { return n.scene }

// Owner returns the owning connection for interest management.
func (n *Node) Owner() string { return n.owner }

// SetOwner assigns the owning connection.
func (n *Node) SetOwner(connection string) { n.owner = connection }

// Tags

// Tags returns the node's tags. Callers must not modify the slice.
func (n *Node) Tags() []string { return n.tags }

// HasTag reports whether the node carries the tag.
func (n *Node) HasTag(tag string) bool {
	for _, t := range n.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag unless already present.
func (n *Node) AddTag(tag string) {
	if tag == "" || n.HasTag(tag) {
		return
	}
	n.tags = append(n.tags, tag)
	if n.scene != nil {
		n.scene.nodeTagAdded(n, tag)
	}
	n.MarkNetworkUpdate()
}

// AddTags adds several tags.
func (n *Node) AddTags(tags ...string) {
	for _, tag := range tags {
		n.AddTag(tag)
	}
}

// RemoveTag removes a tag. Returns false when the node did not carry it.
func (n *Node) RemoveTag(tag string) bool {
	for i, t := range n.tags {
		if t == tag {
			n.tags = append(n.tags[:i], n.tags[i+1:]...)
			if n.scene != nil {
				n.scene.nodeTagRemoved(n, tag)
			}
			n.MarkNetworkUpdate()
			return true
		}
	}
	return false
}

// RemoveAllTags clears the tags.
func (n *Node) RemoveAllTags() {
	for len(n.tags) > 0 {
		n.RemoveTag(n.tags[len(n.tags)-1])
	}
}

// SetTags replaces the tag set.
func (n *Node) SetTags(tags ...string) {
	n.RemoveAllTags()
	n.AddTags(tags...)
}

// Enabled state

// Enabled reports the effective enabled flag.
func (n *Node) Enabled() bool { return n.enabled }

// EnabledSelf reports the node's own flag, which survives a parent's
// SetDeepEnabled.
func (n *Node) EnabledSelf() bool { return n.enabledPrev }

// SetEnabled switches this node only.
func (n *Node) SetEnabled(enable bool) {
	n.setEnabledInternal(enable, false, true)
}

// SetDeepEnabled switches the whole subtree without touching the nodes' own
// stored state, so ResetDeepEnabled can restore it.
func (n *Node) SetDeepEnabled(enable bool) {
	n.setEnabledInternal(enable, true, false)
}

// ResetDeepEnabled restores the subtree to each node's own stored state.
func (n *Node) ResetDeepEnabled() {
	n.setEnabledInternal(n.enabledPrev, false, false)
	for _, child := range n.children {
		child.ResetDeepEnabled()
	}
}

// SetEnabledRecursive switches the whole subtree and stores the state on
// each node.
func (n *Node) SetEnabledRecursive(enable bool) {
	n.setEnabledInternal(enable, true, true)
}

func (n *Node) setEnabledInternal(enable, recursive, storeSelf bool) {
	if n.scene != nil && n.scene.root == n {
		n.scene.logger.Warn("cannot disable the scene root; use SetUpdateEnabled")
		return
	}
	if storeSelf {
		n.enabledPrev = enable
	}
	if enable != n.enabled {
		n.enabled = enable
		n.MarkNetworkUpdate()
		for _, c := range n.listeners {
			c.OnNodeSetEnabled(n)
		}
		if n.scene != nil {
			n.scene.publishNodeEvent(EventNodeEnabledChanged, n)
		}
		for _, c := range n.components {
			c.OnSetEnabled()
			if n.scene != nil {
				n.scene.publishComponentEvent(EventComponentEnabledChanged, c)
			}
		}
	}
	if recursive {
		for _, child := range n.children {
			child.setEnabledInternal(enable, true, storeSelf)
		}
	}
}

// setEnabledSilent is the attribute setter: no events, no propagation.
func (n *Node) setEnabledSilent(enable bool) {
	n.enabled = enable
	n.enabledPrev = enable
}

// Transform

// Position returns the local position.
func (n *Node) Position() spatial.Vector3 { return n.position }

// Rotation returns the local rotation.
func (n *Node) Rotation() spatial.Quaternion { return n.rotation }

// Scale returns the local scale.
func (n *Node) Scale() spatial.Vector3 { return n.scale }

// Transform returns the local transform matrix.
func (n *Node) Transform() spatial.Matrix3x4 {
	return spatial.NewMatrix3x4(n.position, n.rotation, n.scale)
}

// SetPosition sets the local position.
func (n *Node) SetPosition(position spatial.Vector3) {
	n.position = position
	n.markDirty()
	n.MarkNetworkUpdate()
}

// SetRotation sets the local rotation.
func (n *Node) SetRotation(rotation spatial.Quaternion) {
	n.rotation = rotation
	n.markDirty()
	n.MarkNetworkUpdate()
}

// SetScale sets the local scale.
func (n *Node) SetScale(scale spatial.Vector3) {
	n.scale = scale
	n.markDirty()
	n.MarkNetworkUpdate()
}

// SetUniformScale sets the same scale on all axes.
func (n *Node) SetUniformScale(scale float32) {
	n.SetScale(spatial.NewVector3(scale, scale, scale))
}

// SetTransform sets position, rotation and scale in one dirty pass.
func (n *Node) SetTransform(position spatial.Vector3, rotation spatial.Quaternion, scale spatial.Vector3) {
	n.position = position
	n.rotation = rotation
	n.scale = scale
	n.markDirty()
	n.MarkNetworkUpdate()
}

// WorldPosition returns the world-space position.
func (n *Node) WorldPosition() spatial.Vector3 {
	return n.WorldTransform().Translation()
}

// WorldRotation returns the world-space rotation.
func (n *Node) WorldRotation() spatial.Quaternion {
	if n.dirty {
		n.updateWorldTransform()
	}
	return n.worldRotation
}

// WorldScale returns the world-space scale.
func (n *Node) WorldScale() spatial.Vector3 {
	return n.WorldTransform().Scale()
}

// WorldTransform returns the world transform, recomputing it and any dirty
// ancestors first.
func (n *Node) WorldTransform() spatial.Matrix3x4 {
	if n.dirty {
		n.updateWorldTransform()
	}
	return n.worldTransform
}

// SetWorldPosition sets the position in world space.
func (n *Node) SetWorldPosition(position spatial.Vector3) {
	if n.parent == nil {
		n.SetPosition(position)
		return
	}
	n.SetPosition(n.parent.WorldTransform().Inverse().TransformPoint(position))
}

// SetWorldRotation sets the rotation in world space.
func (n *Node) SetWorldRotation(rotation spatial.Quaternion) {
	if n.parent == nil {
		n.SetRotation(rotation)
		return
	}
	n.SetRotation(n.parent.WorldRotation().Inverse().Mul(rotation))
}

// SetWorldScale sets the scale in world space.
func (n *Node) SetWorldScale(scale spatial.Vector3) {
	if n.parent == nil {
		n.SetScale(scale)
		return
	}
	n.SetScale(scale.Div(n.parent.WorldScale()))
}

// Translate moves the node by delta in the given space. Local-space motion
// disregards local scale so movement speed stays scale-independent.
func (n *Node) Translate(delta spatial.Vector3, space TransformSpace) {
	switch space {
	case SpaceLocal:
		n.position = n.position.Add(n.rotation.Rotate(delta))
	case SpaceParent:
		n.position = n.position.Add(delta)
	case SpaceWorld:
		if n.parent == nil {
			n.position = n.position.Add(delta)
		} else {
			n.position = n.position.Add(n.parent.WorldTransform().Inverse().TransformDirection(delta))
		}
	}
	n.markDirty()
	n.MarkNetworkUpdate()
}

// Rotate rotates the node by delta in the given space.
func (n *Node) Rotate(delta spatial.Quaternion, space TransformSpace) {
	switch space {
	case SpaceLocal:
		n.rotation = n.rotation.Mul(delta).Normalized()
	case SpaceParent:
		n.rotation = delta.Mul(n.rotation).Normalized()
	case SpaceWorld:
		if n.parent == nil {
			n.rotation = delta.Mul(n.rotation).Normalized()
		} else {
			world := n.WorldRotation()
			n.rotation = n.rotation.Mul(world.Inverse()).Mul(delta).Mul(world).Normalized()
		}
	}
	n.markDirty()
	n.MarkNetworkUpdate()
}

// Yaw rotates around the Y axis.
func (n *Node) Yaw(angle float32, space TransformSpace) {
	n.Rotate(spatial.QuaternionFromAxisAngle(spatial.Vector3Up, angle), space)
}

// Pitch rotates around the X axis.
func (n *Node) Pitch(angle float32, space TransformSpace) {
	n.Rotate(spatial.QuaternionFromAxisAngle(spatial.Vector3Right, angle), space)
}

// Roll rotates around the Z axis.
func (n *Node) Roll(angle float32, space TransformSpace) {
	n.Rotate(spatial.QuaternionFromAxisAngle(spatial.Vector3Forward, angle), space)
}

// LookAt orients the node's forward axis toward a target point. Returns
// false when the target coincides with the node or yields a degenerate
// rotation.
func (n *Node) LookAt(target, up spatial.Vector3, space TransformSpace) bool {
	var worldTarget spatial.Vector3
	switch space {
	case SpaceLocal:
		worldTarget = n.WorldTransform().TransformPoint(target)
	case SpaceParent:
		if n.parent == nil {
			worldTarget = target
		} else {
			worldTarget = n.parent.WorldTransform().TransformPoint(target)
		}
	case SpaceWorld:
		worldTarget = target
	}

	lookDir := worldTarget.Sub(n.WorldPosition())
	if lookDir.Equals(spatial.Vector3Zero) {
		return false
	}
	rotation, ok := spatial.LookRotation(lookDir, up)
	if !ok {
		return false
	}
	n.SetWorldRotation(rotation)
	return true
}

// ScaleBy multiplies the local scale componentwise.
func (n *Node) ScaleBy(scale spatial.Vector3) {
	n.SetScale(n.scale.Mul(scale))
}

// LocalToWorld transforms a point from this node's space to world space.
func (n *Node) LocalToWorld(point spatial.Vector3) spatial.Vector3 {
	return n.WorldTransform().TransformPoint(point)
}

// WorldToLocal transforms a point from world space to this node's space.
func (n *Node) WorldToLocal(point spatial.Vector3) spatial.Vector3 {
	return n.WorldTransform().Inverse().TransformPoint(point)
}

// Dirty reports whether the world transform needs recomputation.
func (n *Node) Dirty() bool { return n.dirty }

// markDirty invalidates the world transform of this node and every
// descendant, notifying listener components along the way. Subtrees that
// are already dirty are skipped.
func (n *Node) markDirty() {
	cur := n
	for {
		if cur.dirty {
			return
		}
		cur.dirty = true
		for _, c := range cur.listeners {
			c.OnMarkedDirty(cur)
		}
		switch len(cur.children) {
		case 0:
			return
		case 1:
			cur = cur.children[0]
		default:
			for _, child := range cur.children[1:] {
				child.markDirty()
			}
			cur = cur.children[0]
		}
	}
}

func (n *Node) updateWorldTransform() {
	transform := n.Transform()
	if n.parent == nil {
		n.worldTransform = transform
		n.worldRotation = n.rotation
	} else {
		n.worldTransform = n.parent.WorldTransform().Mul(transform)
		n.worldRotation = n.parent.WorldRotation().Mul(n.rotation)
	}
	n.dirty = false
}

// Hierarchy

// NumChildren returns the number of direct children.
func (n *Node) NumChildren() int { return len(n.children) }

// Children returns the direct children. Callers must not modify the slice.
func (n *Node) Children() []*Node { return n.children }

// Child returns the child at index, nil when out of range.
func (n *Node) Child(index int) *Node {
	if index < 0 || index >= len(n.children) {
		return nil
	}
	return n.children[index]
}

// ChildByName finds a child by name, optionally searching the whole
// subtree depth-first.
func (n *Node) ChildByName(name string, recursive bool) *Node {
	h := hash.NewStringHash(name)
	return n.childByHash(h, recursive)
}

func (n *Node) childByHash(h hash.StringHash, recursive bool) *Node {
	for _, child := range n.children {
		if child.nameHash == h {
			return child
		}
	}
	if recursive {
		for _, child := range n.children {
			if found := child.childByHash(h, true); found != nil {
				return found
			}
		}
	}
	return nil
}

// ChildrenWithTag collects children carrying the tag, optionally from the
// whole subtree.
func (n *Node) ChildrenWithTag(tag string, recursive bool) []*Node {
	var out []*Node
	n.collectChildrenWithTag(tag, recursive, &out)
	return out
}

func (n *Node) collectChildrenWithTag(tag string, recursive bool, out *[]*Node) {
	for _, child := range n.children {
		if child.HasTag(tag) {
			*out = append(*out, child)
		}
		if recursive {
			child.collectChildrenWithTag(tag, true, out)
		}
	}
}

// CreateChild creates, names and attaches a child node, allocating its ID
// from the scene when attached.
func (n *Node) CreateChild(name string, mode CreateMode) (*Node, error) {
	return n.createChild(name, mode, 0, false)
}

// CreateChildWithID creates a child under a requested ID, falling back to a
// fresh allocation when the ID is zero or already taken. Replication clients
// use this to mirror server-assigned IDs.
func (n *Node) CreateChildWithID(name string, id uint32, mode CreateMode) (*Node, error) {
	return n.createChild(name, mode, id, false)
}

// CreateTemporaryChild creates a child excluded from saving.
func (n *Node) CreateTemporaryChild(name string, mode CreateMode) (*Node, error) {
	return n.createChild(name, mode, 0, true)
}

func (n *Node) createChild(name string, mode CreateMode, id uint32, temporary bool) (*Node, error) {
	child := NewNode(name)
	child.SetTemporary(temporary)
	if n.scene != nil {
		if id == 0 || n.scene.NodeByID(id) != nil {
			var err error
			id, err = n.scene.NextNodeID(mode)
			if err != nil {
				return nil, err
			}
		}
		child.id = id
	}
	if err := n.AddChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

// AddChild attaches a node as the last child. Attaching nil, self, an
// ancestor or an existing child is a silent no-op; cycles are logged.
// Reparenting within the same scene keeps IDs, attaching from outside
// registers the whole subtree and assigns IDs.
func (n *Node) AddChild(child *Node) error {
	if child == nil || child == n || child.parent == n {
		return nil
	}
	if n.isDescendantOf(child) {
		if n.scene != nil {
			n.scene.logger.Warn("rejected cyclic child assignment",
				log.Uint32("node", n.id), log.Uint32("child", child.id))
		}
		return nil
	}

	oldParent := child.parent
	if oldParent != nil {
		if oldParent.scene != n.scene {
			oldParent.RemoveChild(child)
		} else {
			oldParent.detachChild(child)
		}
	}

	n.children = append(n.children, child)
	child.parent = n

	if n.scene != nil && child.scene != n.scene {
		if err := n.scene.nodeAdded(child); err != nil {
			// Roll the attachment back so failed subtrees do not linger
			// half-registered.
			n.detachChild(child)
			child.parent = nil
			return err
		}
	}

	child.markDirty()
	child.MarkNetworkUpdate()
	return nil
}

// detachChild removes the child from the child list only.
func (n *Node) detachChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// RemoveChild detaches a child and unregisters its subtree from the scene.
// The child keeps its own children and components but loses scene IDs.
func (n *Node) RemoveChild(child *Node) {
	if child == nil || child.parent != n {
		return
	}
	if n.scene != nil {
		n.scene.publishNodeEvent(EventNodeRemoved, child)
		n.scene.nodeRemoved(child)
	}
	n.detachChild(child)
	child.parent = nil
	child.markDirty()
}

// RemoveAllChildren detaches every child.
func (n *Node) RemoveAllChildren() {
	n.removeChildrenFiltered(true, true, false)
}

// removeChildrenFiltered removes children whose ID range matches the given
// flags, optionally recursing first so matching grandchildren of kept
// children are removed too.
func (n *Node) removeChildrenFiltered(replicated, local, recursive bool) {
	for i := len(n.children) - 1; i >= 0; i-- {
		child := n.children[i]
		if recursive {
			child.removeChildrenFiltered(replicated, local, true)
		}
		remove := child.id == 0 ||
			(IsReplicatedID(child.id) && replicated) ||
			(!IsReplicatedID(child.id) && local)
		if remove {
			n.RemoveChild(child)
		}
	}
}

// Remove detaches this node from its parent. A no-op for parentless nodes.
func (n *Node) Remove() {
	if n.parent != nil {
		n.parent.RemoveChild(n)
	}
}

// ReorderChild moves an existing child to the given index.
func (n *Node) ReorderChild(child *Node, index int) {
	if child == nil || child.parent != n || index < 0 || index >= len(n.children) {
		return
	}
	n.detachChild(child)
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
}

func (n *Node) isDescendantOf(other *Node) bool {
	for cur := n.parent; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Components

// NumComponents returns the number of components.
func (n *Node) NumComponents() int { return len(n.components) }

// Components returns the components in attachment order. Callers must not
// modify the slice.
func (n *Node) Components() []Component { return n.components }

// CreateComponent creates a component by registered type name and attaches
// it. The node must be scene-attached so the type can be resolved.
func (n *Node) CreateComponent(typeName string, mode CreateMode) (Component, error) {
	if n.scene == nil {
		return nil, ErrDetached
	}
	c, ok := n.scene.registry.Create(typeName)
	if !ok {
		n.scene.logger.Warn("unknown component type", log.String("type", typeName))
		return nil, ErrUnknownComponentType
	}
	if err := n.addComponent(c, mode, 0); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateComponentWithID creates a component under a requested ID, falling
// back to a fresh allocation when the ID is zero or already taken.
func (n *Node) CreateComponentWithID(typeName string, id uint32, mode CreateMode) (Component, error) {
	if n.scene == nil {
		return nil, ErrDetached
	}
	c, ok := n.scene.registry.Create(typeName)
	if !ok {
		n.scene.logger.Warn("unknown component type", log.String("type", typeName))
		return nil, ErrUnknownComponentType
	}
	if err := n.addComponent(c, mode, id); err != nil {
		return nil, err
	}
	return c, nil
}

// AddComponent attaches a constructed component. On a detached node the
// component becomes node-attached; scene registration happens when the
// node joins a scene, with a replicated-range ID.
func (n *Node) AddComponent(c Component, mode CreateMode) error {
	return n.addComponent(c, mode, 0)
}

func (n *Node) addComponent(c Component, mode CreateMode, id uint32) error {
	if c == nil || c.Base().this == nil {
		return nil
	}
	if old := c.Node(); old != nil {
		if old == n {
			return nil
		}
		old.RemoveComponent(c)
	}

	n.components = append(n.components, c)
	c.Base().setNode(n)

	if n.scene != nil {
		if id == 0 || n.scene.ComponentByID(id) != nil {
			var err error
			id, err = n.scene.NextComponentID(mode)
			if err != nil {
				n.components = n.components[:len(n.components)-1]
				c.Base().setNode(nil)
				return err
			}
		}
		c.Base().setID(id)
		n.scene.componentAdded(c)
	}
	n.MarkNetworkUpdate()
	return nil
}

// FindComponent returns the first component with the given type name.
func (n *Node) FindComponent(typeName string) Component {
	h := hash.NewStringHash(typeName)
	for _, c := range n.components {
		if c.TypeHash() == h {
			return c
		}
	}
	return nil
}

// FindComponentRecursive searches this node, then the subtree depth-first.
func (n *Node) FindComponentRecursive(typeName string) Component {
	if c := n.FindComponent(typeName); c != nil {
		return c
	}
	for _, child := range n.children {
		if c := child.FindComponentRecursive(typeName); c != nil {
			return c
		}
	}
	return nil
}

// ParentComponent searches the parent chain upward for a component.
func (n *Node) ParentComponent(typeName string) Component {
	for cur := n.parent; cur != nil; cur = cur.parent {
		if c := cur.FindComponent(typeName); c != nil {
			return c
		}
	}
	return nil
}

// RemoveComponent detaches a component, firing OnSceneSet(nil) then
// OnNodeSet(nil).
func (n *Node) RemoveComponent(c Component) {
	for i, cur := range n.components {
		if cur == c {
			n.removeComponentAt(i)
			return
		}
	}
}

// RemoveComponentByType removes the first component with the type name.
func (n *Node) RemoveComponentByType(typeName string) bool {
	h := hash.NewStringHash(typeName)
	for i, cur := range n.components {
		if cur.TypeHash() == h {
			n.removeComponentAt(i)
			return true
		}
	}
	return false
}

func (n *Node) removeComponentAt(i int) {
	c := n.components[i]
	if n.scene != nil {
		n.scene.publishComponentEvent(EventComponentRemoved, c)
	}
	n.RemoveListener(c)
	if n.scene != nil {
		n.scene.componentRemoved(c)
	}
	c.Base().setNode(nil)
	n.components = append(n.components[:i], n.components[i+1:]...)
	n.MarkNetworkUpdate()
}

// RemoveAllComponents detaches every component.
func (n *Node) RemoveAllComponents() {
	n.removeComponentsFiltered(true, true)
}

func (n *Node) removeComponentsFiltered(replicated, local bool) {
	for i := len(n.components) - 1; i >= 0; i-- {
		id := n.components[i].ID()
		remove := id == 0 ||
			(IsReplicatedID(id) && replicated) ||
			(!IsReplicatedID(id) && local)
		if remove {
			n.removeComponentAt(i)
		}
	}
}

// Listeners

// AddListener subscribes a component of this node to transform and enabled
// state notifications.
func (n *Node) AddListener(c Component) {
	if c == nil {
		return
	}
	for _, cur := range n.listeners {
		if cur == c {
			return
		}
	}
	n.listeners = append(n.listeners, c)
}

// RemoveListener unsubscribes a component.
func (n *Node) RemoveListener(c Component) {
	for i, cur := range n.listeners {
		if cur == c {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

// User variables

// Vars returns the user variables. Callers must not modify the map; use
// SetVar.
func (n *Node) Vars() variant.Map { return n.vars }

// Var reads a user variable, None when absent.
func (n *Node) Var(key hash.StringHash) variant.Variant {
	return n.vars[key]
}

// SetVar writes a user variable and queues it for replication.
func (n *Node) SetVar(key hash.StringHash, value variant.Variant) {
	if n.vars == nil {
		n.vars = make(variant.Map)
	}
	n.vars[key] = value
	n.MarkNetworkUpdate()
}

// SetVarByName writes a user variable and registers its name with the
// scene so serialized scenes keep it readable.
func (n *Node) SetVarByName(name string, value variant.Variant) {
	key := hash.NewStringHash(name)
	if n.scene != nil {
		n.scene.RegisterVar(name)
	}
	n.SetVar(key, value)
}

// Network

// MarkNetworkUpdate queues this node for the next replication pass.
// Local-range and detached nodes are never queued.
func (n *Node) MarkNetworkUpdate() {
	if n.networkUpdate || n.scene == nil || n.id == 0 || !IsReplicatedID(n.id) {
		return
	}
	n.scene.markNodeForNetworkUpdate(n)
	n.networkUpdate = true
}

func (n *Node) clearNetworkUpdate() { n.networkUpdate = false }

// Clone deep-copies this node's subtree under the same parent, allocating
// fresh IDs. Temporary children and components are skipped. The scene root
// and detached nodes cannot be cloned.
func (n *Node) Clone(mode CreateMode) (*Node, error) {
	if n.parent == nil {
		if n.scene != nil {
			n.scene.logger.Warn("cannot clone the scene root")
		}
		return nil, ErrDetached
	}
	resolver := NewResolver()
	clone, err := n.cloneRecursive(n.parent, resolver, mode)
	if err != nil {
		return nil, err
	}
	resolver.Resolve()
	applyAttributesRecursive(clone)
	return clone, nil
}

func (n *Node) cloneRecursive(parent *Node, resolver *Resolver, mode CreateMode) (*Node, error) {
	childMode := Local
	if mode == Replicated && IsReplicatedID(n.id) {
		childMode = Replicated
	}
	clone, err := parent.createChild(n.name, childMode, 0, false)
	if err != nil {
		return nil, err
	}
	resolver.AddNode(n.id, clone)

	copyFileAttributes(n, clone)

	for _, c := range n.components {
		if c.AsSerializable().Temporary() {
			continue
		}
		compMode := Local
		if mode == Replicated && IsReplicatedID(c.ID()) {
			compMode = Replicated
		}
		cloneComp, err := cloneComponent(c, clone, compMode)
		if err != nil {
			return nil, err
		}
		resolver.AddComponent(c.ID(), cloneComp)
	}

	for _, child := range n.children {
		if child.Temporary() {
			continue
		}
		if _, err := child.cloneRecursive(clone, resolver, mode); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

// cloneComponent creates a component of the same type on target. Exported
// fields are deep-copied first, so runtime state outside the attribute table
// survives cloning; fields tagged `copier:"-"` and unexported fields are
// skipped. File attributes are copied last and win over the field copy.
func cloneComponent(c Component, target *Node, mode CreateMode) (Component, error) {
	clone, err := target.CreateComponent(c.TypeName(), mode)
	if err != nil {
		return nil, err
	}
	if err := copier.CopyWithOption(clone, c, copier.Option{CaseSensitive: true, DeepCopy: true}); err != nil {
		return nil, err
	}
	copyFileAttributes(c, clone)
	return clone, nil
}

// copyFileAttributes copies every file-mode attribute value from src to dst.
// Values are cloned so container attributes do not alias.
func copyFileAttributes(src, dst Serializable) {
	table := src.Attributes()
	for i := 0; i < table.Len(); i++ {
		info := table.At(i)
		if info.Mode&attr.ModeFile == 0 {
			continue
		}
		info.Set(dst, info.Get(src).Clone())
	}
}

// applyAttributesRecursive runs ApplyAttributes on a subtree's components.
func applyAttributesRecursive(n *Node) {
	for _, c := range n.components {
		c.ApplyAttributes()
	}
	for _, child := range n.children {
		applyAttributesRecursive(child)
	}
}

// setScene assigns the scene pointer without side effects; registration is
// the scene's responsibility.
func (n *Node) setScene(s *Scene) { n.scene = s }

// resetScene clears scene identity after removal.
func (n *Node) resetScene() {
	n.id = 0
	n.scene = nil
	n.owner = ""
	n.networkUpdate = false
}

// Node attribute table. Order is part of the wire format.
var nodeAttributes = attr.NewTable(
	attr.Accessor[Node]("Is Enabled", variant.TypeBool, attr.ModeDefault, variant.Bool(true),
		func(n *Node) variant.Variant { return variant.Bool(n.enabled) },
		func(n *Node, v variant.Variant) { n.setEnabledSilent(v.Bool()) }),
	attr.Accessor[Node]("Name", variant.TypeString, attr.ModeDefault, variant.String(""),
		func(n *Node) variant.Variant { return variant.String(n.name) },
		func(n *Node, v variant.Variant) { n.SetName(v.Str()) }),
	attr.Accessor[Node]("Tags", variant.TypeList, attr.ModeDefault, variant.FromList(nil),
		func(n *Node) variant.Variant { return tagsToVariant(n.tags) },
		func(n *Node, v variant.Variant) { n.SetTags(variantToTags(v)...) }),
	attr.Accessor[Node]("Position", variant.TypeVector3, attr.ModeFile|attr.ModeNet|attr.ModeLatestData, variant.Vector3(spatial.Vector3Zero),
		func(n *Node) variant.Variant { return variant.Vector3(n.position) },
		func(n *Node, v variant.Variant) { n.SetPosition(v.Vector3()) }),
	attr.Accessor[Node]("Rotation", variant.TypeQuaternion, attr.ModeFile|attr.ModeNet|attr.ModeLatestData, variant.Quaternion(spatial.QuaternionIdentity),
		func(n *Node) variant.Variant { return variant.Quaternion(n.rotation) },
		func(n *Node, v variant.Variant) { n.SetRotation(v.Quaternion()) }),
	attr.Accessor[Node]("Scale", variant.TypeVector3, attr.ModeDefault, variant.Vector3(spatial.Vector3One),
		func(n *Node) variant.Variant { return variant.Vector3(n.scale) },
		func(n *Node, v variant.Variant) { n.SetScale(v.Vector3()) }),
	attr.Accessor[Node]("Variables", variant.TypeMap, attr.ModeFile, variant.FromMap(nil),
		func(n *Node) variant.Variant { return variant.FromMap(n.vars) },
		func(n *Node, v variant.Variant) { n.vars = v.Map().Clone() }),
)

func tagsToVariant(tags []string) variant.Variant {
	if len(tags) == 0 {
		return variant.FromList(nil)
	}
	list := make(variant.List, len(tags))
	for i, t := range tags {
		list[i] = variant.String(t)
	}
	return variant.FromList(list)
}

func variantToTags(v variant.Variant) []string {
	list := v.List()
	if len(list) == 0 {
		return nil
	}
	tags := make([]string, 0, len(list))
	for _, e := range list {
		tags = append(tags, e.Str())
	}
	return tags
}
