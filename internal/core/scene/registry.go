package scene

import (
	"fmt"
	"sort"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/hash"
)

// TypeInfo is the immutable metadata of one component type: its name, the
// attribute table shared by all instances, and the factory producing new
// instances.
type TypeInfo struct {
	Name    string
	Hash    hash.StringHash
	Table   *attr.Table
	Factory func() Component
}

// NewTypeInfo builds component type metadata. The factory must return a
// fully initialized component (see InitComponent).
func NewTypeInfo(name string, table *attr.Table, factory func() Component) *TypeInfo {
	return &TypeInfo{
		Name:    name,
		Hash:    hash.NewStringHash(name),
		Table:   table,
		Factory: factory,
	}
}

// Registry maps component type names to their metadata. A scene resolves
// component creation through the registry it was constructed with; there is
// no process-global registration.
type Registry struct {
	byName map[string]*TypeInfo
	byHash map[hash.StringHash]*TypeInfo
	order  []*TypeInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*TypeInfo),
		byHash: make(map[hash.StringHash]*TypeInfo),
	}
}

// Register adds component types. Registering a name twice is an error.
func (r *Registry) Register(infos ...*TypeInfo) error {
	for _, ti := range infos {
		if _, exists := r.byName[ti.Name]; exists {
			return fmt.Errorf("component type %q already registered", ti.Name)
		}
		r.byName[ti.Name] = ti
		r.byHash[ti.Hash] = ti
		r.order = append(r.order, ti)
	}
	return nil
}

// Lookup resolves a type by hash.
func (r *Registry) Lookup(h hash.StringHash) (*TypeInfo, bool) {
	ti, ok := r.byHash[h]
	return ti, ok
}

// LookupName resolves a type by name.
func (r *Registry) LookupName(name string) (*TypeInfo, bool) {
	ti, ok := r.byName[name]
	return ti, ok
}

// Create instantiates a component by type name.
func (r *Registry) Create(name string) (Component, bool) {
	ti, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return ti.Factory(), true
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []*TypeInfo {
	return r.order
}

// Checksum folds the registered type names and their attribute layouts into
// a value that changes whenever the replicated schema changes. Server and
// client compare it during the handshake.
func (r *Registry) Checksum() uint32 {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum uint32
	for _, name := range names {
		ti := r.byName[name]
		sum = hash.Fold(sum, uint32(ti.Hash.Value()))
		for i := 0; i < ti.Table.Len(); i++ {
			info := ti.Table.At(i)
			sum = hash.Fold(sum, uint32(hash.NewStringHash(info.Name).Value()))
			sum = hash.Fold(sum, uint32(info.Type)<<16|uint32(info.Mode))
		}
	}
	return sum
}

// DefaultRegistry returns a fresh registry with the built-in component
// types registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Registration of built-ins cannot collide.
	_ = r.Register(
		SmoothedTransformType,
		NetworkPriorityType,
		SpinnerType,
	)
	return r
}
