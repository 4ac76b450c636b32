package scene

import (
	"github.com/chewxy/math32"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/spatial"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// SmoothingMask flags the transform channels a SmoothedTransform is
// currently interpolating.
type SmoothingMask uint8

const (
	SmoothNone     SmoothingMask = 0
	SmoothPosition SmoothingMask = 1 << 0
	SmoothRotation SmoothingMask = 1 << 1
)

// SmoothedTransform moves its node toward target position and rotation a
// bit each frame instead of jumping. Clients attach one to replicated nodes
// and feed intercepted transform updates into the targets, hiding the
// network update interval.
//
// The approach speed comes from the scene's smoothing constant; when the
// remaining distance exceeds the scene's snap threshold the node snaps to
// the target immediately.
type SmoothedTransform struct {
	ComponentBase

	targetPosition spatial.Vector3
	targetRotation spatial.Quaternion
	mask           SmoothingMask
}

// SmoothedTransformType is the registered type metadata. The targets are
// runtime state and have no attributes.
var SmoothedTransformType *TypeInfo

func init() {
	SmoothedTransformType = NewTypeInfo("SmoothedTransform", nil,
		func() Component { return NewSmoothedTransform() })
}

// NewSmoothedTransform creates a detached smoothed transform.
func NewSmoothedTransform() *SmoothedTransform {
	st := &SmoothedTransform{
		targetRotation: spatial.QuaternionIdentity,
	}
	InitComponent(st, SmoothedTransformType)
	return st
}

// OnNodeSet seeds the targets from the node's current transform so a fresh
// component does not drag the node toward the origin.
func (st *SmoothedTransform) OnNodeSet(node *Node) {
	if node != nil {
		st.targetPosition = node.Position()
		st.targetRotation = node.Rotation()
	}
}

// TargetPosition returns the parent-space position target.
func (st *SmoothedTransform) TargetPosition() spatial.Vector3 { return st.targetPosition }

// TargetRotation returns the parent-space rotation target.
func (st *SmoothedTransform) TargetRotation() spatial.Quaternion { return st.targetRotation }

// SetTargetPosition starts smoothing toward a parent-space position.
func (st *SmoothedTransform) SetTargetPosition(position spatial.Vector3) {
	st.targetPosition = position
	st.mask |= SmoothPosition
}

// SetTargetRotation starts smoothing toward a parent-space rotation.
func (st *SmoothedTransform) SetTargetRotation(rotation spatial.Quaternion) {
	st.targetRotation = rotation
	st.mask |= SmoothRotation
}

// InProgress reports whether any channel is still approaching its target.
func (st *SmoothedTransform) InProgress() bool { return st.mask != SmoothNone }

// update advances one frame. When the position error exceeds the snap
// threshold both channels finish immediately.
func (st *SmoothedTransform) update(constant, squaredSnapThreshold float32) {
	node := st.node
	if node == nil || st.mask == SmoothNone {
		return
	}

	if st.mask&SmoothPosition != 0 {
		position := node.Position()
		delta := position.Sub(st.targetPosition).LengthSquared()
		if delta > squaredSnapThreshold {
			constant = 1
		}
		if delta < spatial.Epsilon || constant >= 1 {
			position = st.targetPosition
			st.mask &^= SmoothPosition
		} else {
			position = position.Lerp(st.targetPosition, constant)
		}
		node.SetPosition(position)
	}

	if st.mask&SmoothRotation != 0 {
		rotation := node.Rotation()
		delta := 1 - rotation.Dot(st.targetRotation)
		if delta < spatial.Epsilon || constant >= 1 {
			rotation = st.targetRotation
			st.mask &^= SmoothRotation
		} else {
			rotation = rotation.Slerp(st.targetRotation, constant)
		}
		node.SetRotation(rotation)
	}
}

// NetworkPriority defaults.
const (
	defaultBasePriority = 100
	priorityFullStep    = 100
)

// NetworkPriority controls how often its node's delta updates are sent to
// each client. The server accumulates priority per connection every
// replication tick and sends an update when the accumulator reaches a full
// step, so a priority of 50 halves the node's update rate.
type NetworkPriority struct {
	ComponentBase

	basePriority      float32
	distanceFactor    float32
	minPriority       float32
	alwaysUpdateOwner bool
}

// NetworkPriorityType is the registered type metadata.
var NetworkPriorityType *TypeInfo

func init() {
	NetworkPriorityType = NewTypeInfo("NetworkPriority", networkPriorityAttributes,
		func() Component { return NewNetworkPriority() })
}

var networkPriorityAttributes = attr.NewTable(
	attr.Accessor[NetworkPriority]("Base Priority", variant.TypeFloat, attr.ModeDefault, variant.Float(defaultBasePriority),
		func(c *NetworkPriority) variant.Variant { return variant.Float(c.basePriority) },
		func(c *NetworkPriority, v variant.Variant) { c.basePriority = v.Float() }),
	attr.Accessor[NetworkPriority]("Distance Factor", variant.TypeFloat, attr.ModeDefault, variant.Float(0),
		func(c *NetworkPriority) variant.Variant { return variant.Float(c.distanceFactor) },
		func(c *NetworkPriority, v variant.Variant) { c.distanceFactor = v.Float() }),
	attr.Accessor[NetworkPriority]("Minimum Priority", variant.TypeFloat, attr.ModeDefault, variant.Float(0),
		func(c *NetworkPriority) variant.Variant { return variant.Float(c.minPriority) },
		func(c *NetworkPriority, v variant.Variant) { c.minPriority = v.Float() }),
	attr.Accessor[NetworkPriority]("Always Update Owner", variant.TypeBool, attr.ModeDefault, variant.Bool(true),
		func(c *NetworkPriority) variant.Variant { return variant.Bool(c.alwaysUpdateOwner) },
		func(c *NetworkPriority, v variant.Variant) { c.alwaysUpdateOwner = v.Bool() }),
)

// NewNetworkPriority creates a priority component with full priority.
func NewNetworkPriority() *NetworkPriority {
	np := &NetworkPriority{
		basePriority:      defaultBasePriority,
		alwaysUpdateOwner: true,
	}
	InitComponent(np, NetworkPriorityType)
	return np
}

// BasePriority returns the priority at zero distance.
func (np *NetworkPriority) BasePriority() float32 { return np.basePriority }

// SetBasePriority sets the priority at zero distance. 100 means an update
// every replication tick.
func (np *NetworkPriority) SetBasePriority(priority float32) {
	np.basePriority = priority
	np.MarkNetworkUpdate()
}

// DistanceFactor returns the per-unit distance priority falloff.
func (np *NetworkPriority) DistanceFactor() float32 { return np.distanceFactor }

// SetDistanceFactor sets the per-unit distance priority falloff.
func (np *NetworkPriority) SetDistanceFactor(factor float32) {
	np.distanceFactor = factor
	np.MarkNetworkUpdate()
}

// MinPriority returns the priority floor.
func (np *NetworkPriority) MinPriority() float32 { return np.minPriority }

// SetMinPriority sets the priority floor. A floor of 100 or more disables
// throttling entirely.
func (np *NetworkPriority) SetMinPriority(priority float32) {
	np.minPriority = priority
	np.MarkNetworkUpdate()
}

// AlwaysUpdateOwner reports whether the owning connection bypasses
// throttling.
func (np *NetworkPriority) AlwaysUpdateOwner() bool { return np.alwaysUpdateOwner }

// SetAlwaysUpdateOwner controls whether the owning connection bypasses
// throttling.
func (np *NetworkPriority) SetAlwaysUpdateOwner(enable bool) {
	np.alwaysUpdateOwner = enable
	np.MarkNetworkUpdate()
}

// CheckUpdate advances a connection's accumulator by the current priority
// and reports whether an update is due. The accumulator keeps its overflow
// so low priorities still produce updates at a steady reduced rate.
func (np *NetworkPriority) CheckUpdate(distance float32, accumulator *float32) bool {
	current := np.basePriority - np.distanceFactor*distance
	if current < np.minPriority {
		current = np.minPriority
	}
	*accumulator += current / priorityFullStep
	if *accumulator >= 1 {
		*accumulator = math32.Mod(*accumulator, 1)
		return true
	}
	return false
}

// Spinner rotates its node at a constant rate. It exists mostly to give
// scenes cheap visible motion in tests and examples.
type Spinner struct {
	LogicComponentBase

	axis  spatial.Vector3
	speed float32
}

// SpinnerType is the registered type metadata.
var SpinnerType *TypeInfo

func init() {
	SpinnerType = NewTypeInfo("Spinner", spinnerAttributes,
		func() Component { return NewSpinner() })
}

var spinnerAttributes = attr.NewTable(
	attr.Accessor[Spinner]("Axis", variant.TypeVector3, attr.ModeDefault, variant.Vector3(spatial.Vector3Up),
		func(c *Spinner) variant.Variant { return variant.Vector3(c.axis) },
		func(c *Spinner, v variant.Variant) { c.axis = v.Vector3() }),
	attr.Accessor[Spinner]("Speed", variant.TypeFloat, attr.ModeDefault, variant.Float(90),
		func(c *Spinner) variant.Variant { return variant.Float(c.speed) },
		func(c *Spinner, v variant.Variant) { c.speed = v.Float() }),
)

// NewSpinner creates a spinner turning around the Y axis at 90 degrees per
// second.
func NewSpinner() *Spinner {
	sp := &Spinner{
		axis:  spatial.Vector3Up,
		speed: 90,
	}
	InitLogicComponent(sp, SpinnerType)
	sp.SetUpdateEventMask(UseUpdate)
	return sp
}

// Axis returns the rotation axis.
func (sp *Spinner) Axis() spatial.Vector3 { return sp.axis }

// SetAxis sets the rotation axis.
func (sp *Spinner) SetAxis(axis spatial.Vector3) {
	sp.axis = axis
	sp.MarkNetworkUpdate()
}

// Speed returns the rotation speed in degrees per second.
func (sp *Spinner) Speed() float32 { return sp.speed }

// SetSpeed sets the rotation speed in degrees per second.
func (sp *Spinner) SetSpeed(speed float32) {
	sp.speed = speed
	sp.MarkNetworkUpdate()
}

// Update implements LogicComponent.
func (sp *Spinner) Update(timeStep float32) {
	sp.node.Rotate(spatial.QuaternionFromAxisAngle(sp.axis, sp.speed*timeStep), SpaceLocal)
}

// SavedAttribute is one preserved attribute of an unknown component.
type SavedAttribute struct {
	Name  string
	Value variant.Variant
}

// UnknownComponent stands in for a component type missing from the
// registry. It keeps the attributes the source data carried so that
// loading and saving a scene through a process that lacks the type does
// not destroy it.
type UnknownComponent struct {
	ComponentBase

	saved []SavedAttribute
}

// NewUnknownComponent creates a placeholder for the given type name. The
// type metadata is private to this instance and not registered.
func NewUnknownComponent(typeName string) *UnknownComponent {
	uc := &UnknownComponent{}
	InitComponent(uc, NewTypeInfo(typeName, nil, nil))
	return uc
}

// SavedAttributes returns the preserved attributes in source order.
// Callers must not modify the slice.
func (uc *UnknownComponent) SavedAttributes() []SavedAttribute { return uc.saved }

func (uc *UnknownComponent) setSavedAttributes(saved []SavedAttribute) {
	uc.saved = saved
}
