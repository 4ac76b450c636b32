package scene

import (
	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/replication"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// Serializable is anything with an attribute table: nodes, components and
// the scene itself. All serialization and replication flows through the
// table; there is no reflection.
type Serializable interface {
	// Attributes returns the attribute table of the concrete type, or nil
	// when the type has none.
	Attributes() *attr.Table
	// AsSerializable exposes the shared serializable state.
	AsSerializable() *SerializableBase
	// ApplyAttributes is called once after a batch of attribute sets, such
	// as at the end of loading, so the object can react to the final state.
	ApplyAttributes()
}

// SerializableBase carries the state shared by every serializable: the
// temporary flag, per-instance default overrides and the network snapshot.
// It is embedded by Node, ComponentBase and Scene.
type SerializableBase struct {
	temporary        bool
	instanceDefaults map[string]variant.Variant
	netState         *replication.NetworkState
}

// AsSerializable implements Serializable.
func (s *SerializableBase) AsSerializable() *SerializableBase { return s }

// ApplyAttributes is a no-op by default.
func (s *SerializableBase) ApplyAttributes() {}

// Temporary reports whether the object is excluded from saving.
func (s *SerializableBase) Temporary() bool { return s.temporary }

// SetTemporary excludes or includes the object in saving.
func (s *SerializableBase) SetTemporary(enable bool) { s.temporary = enable }

// SetInstanceDefault overrides the table default of one attribute for this
// instance only. Used after instantiation so that later saves diff against
// the instantiated state instead of the type default.
func (s *SerializableBase) SetInstanceDefault(name string, value variant.Variant) {
	if s.instanceDefaults == nil {
		s.instanceDefaults = make(map[string]variant.Variant)
	}
	s.instanceDefaults[name] = value.Clone()
}

// InstanceDefault returns the per-instance default override, if any.
func (s *SerializableBase) InstanceDefault(name string) (variant.Variant, bool) {
	v, ok := s.instanceDefaults[name]
	return v, ok
}

// NetworkState returns the replication snapshot, or nil when replication
// has not touched this object.
func (s *SerializableBase) NetworkState() *replication.NetworkState { return s.netState }

// EnsureNetworkState allocates the replication snapshot on first use,
// sized for the type's network attributes.
func (s *SerializableBase) EnsureNetworkState(table *attr.Table) *replication.NetworkState {
	if s.netState == nil {
		s.netState = replication.NewNetworkState(len(table.Network()))
	}
	return s.netState
}

// SetInterceptNetworkUpdate flags a network attribute so that incoming
// updates are handed to the scene's intercept handler instead of applied.
func (s *SerializableBase) SetInterceptNetworkUpdate(table *attr.Table, name string, enable bool) {
	idx, ok := table.ByName(name)
	if !ok {
		return
	}
	for netIdx, tableIdx := range table.Network() {
		if tableIdx != idx {
			continue
		}
		st := s.EnsureNetworkState(table)
		if enable {
			st.Intercepted.Set(netIdx)
		} else {
			st.Intercepted.Clear(netIdx)
		}
		return
	}
}

// GetAttribute reads a named attribute. The second result is false when the
// type has no attribute with that name.
func GetAttribute(s Serializable, name string) (variant.Variant, bool) {
	table := s.Attributes()
	i, ok := table.ByName(name)
	if !ok {
		return variant.None, false
	}
	return table.At(i).Get(s), true
}

// SetAttribute writes a named attribute. Returns false when the attribute
// does not exist or the value type does not match.
func SetAttribute(s Serializable, name string, value variant.Variant) bool {
	table := s.Attributes()
	i, ok := table.ByName(name)
	if !ok {
		return false
	}
	info := table.At(i)
	if value.Type != info.Type {
		return false
	}
	info.Set(s, value)
	return true
}

// ResetToDefault restores every attribute to its effective default.
func ResetToDefault(s Serializable) {
	table := s.Attributes()
	for i := 0; i < table.Len(); i++ {
		info := table.At(i)
		info.Set(s, EffectiveDefault(s, info))
	}
}

// EffectiveDefault returns the instance default override when present, the
// table default otherwise.
func EffectiveDefault(s Serializable, info *attr.Info) variant.Variant {
	if v, ok := s.AsSerializable().InstanceDefault(info.Name); ok {
		return v
	}
	return info.Default
}
