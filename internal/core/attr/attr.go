// Package attr describes serializable attributes: per-type tables of named,
// typed accessors that drive file serialization and network replication.
package attr

import (
	"github.com/scenesync/scenesync/internal/core/variant"
)

// AccessMode flags control which operations consider an attribute.
type AccessMode uint16

const (
	// ModeFile attributes are written to and read from scene files.
	ModeFile AccessMode = 1 << iota
	// ModeNet attributes replicate over the network.
	ModeNet
	// ModeLatestData attributes replicate through unreliable latest-data
	// updates instead of reliable deltas.
	ModeLatestData
	// ModeNoEdit marks attributes hidden from editing front ends.
	ModeNoEdit
	// ModeNodeID marks an Int attribute holding a node ID needing remap
	// on load and instantiation.
	ModeNodeID
	// ModeComponentID marks an Int attribute holding a component ID
	// needing remap on load and instantiation.
	ModeComponentID
	// ModeNodeIDList marks a List attribute of node IDs needing remap.
	ModeNodeIDList
	// ModeResourceRef marks a String attribute naming a resource, collected
	// into the scene resource manifest and preloaded by async loading.
	ModeResourceRef

	ModeDefault = ModeFile | ModeNet
)

// Info describes one attribute of a serializable type.
type Info struct {
	Name    string
	Type    variant.Type
	Mode    AccessMode
	Default variant.Variant

	Get func(owner any) variant.Variant
	Set func(owner any, value variant.Variant)
}

// Accessor builds an Info whose getter and setter are typed against the
// owning struct. The owner passed at call time must be a *T.
func Accessor[T any](name string, ty variant.Type, mode AccessMode, def variant.Variant,
	get func(*T) variant.Variant, set func(*T, variant.Variant)) Info {
	return Info{
		Name:    name,
		Type:    ty,
		Mode:    mode,
		Default: def,
		Get: func(owner any) variant.Variant {
			return get(owner.(*T))
		},
		Set: func(owner any, value variant.Variant) {
			set(owner.(*T), value)
		},
	}
}

// Table is an ordered, immutable attribute table for one serializable type.
type Table struct {
	infos  []Info
	byName map[string]int
	net    []int
}

// NewTable builds a table. Attribute order is the declaration order and is
// part of the wire format.
func NewTable(infos ...Info) *Table {
	t := &Table{
		infos:  infos,
		byName: make(map[string]int, len(infos)),
	}
	for i := range infos {
		t.byName[infos[i].Name] = i
		if infos[i].Mode&ModeNet != 0 {
			t.net = append(t.net, i)
		}
	}
	return t
}

// Len returns the number of attributes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.infos)
}

// At returns the attribute at index i.
func (t *Table) At(i int) *Info {
	return &t.infos[i]
}

// ByName returns the index of the named attribute.
func (t *Table) ByName(name string) (int, bool) {
	if t == nil {
		return 0, false
	}
	i, ok := t.byName[name]
	return i, ok
}

// Network returns the table indexes of replicated attributes, in table
// order. Dirty bit positions index into this slice.
func (t *Table) Network() []int {
	if t == nil {
		return nil
	}
	return t.net
}
