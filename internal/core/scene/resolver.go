package scene

import (
	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// Resolver remaps ID reference attributes after an operation that assigns
// new IDs to a batch of nodes and components, such as loading, cloning or
// instantiation. The batch is collected with AddNode and AddComponent under
// the IDs the source data used, then Resolve rewrites every attribute
// flagged ModeNodeID, ModeComponentID or ModeNodeIDList to the IDs actually
// assigned.
type Resolver struct {
	nodes      map[uint32]*Node
	components map[uint32]Component
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		nodes:      make(map[uint32]*Node),
		components: make(map[uint32]Component),
	}
}

// AddNode records a node under the ID its source data carried.
func (r *Resolver) AddNode(oldID uint32, n *Node) {
	if n != nil {
		r.nodes[oldID] = n
	}
}

// AddComponent records a component under the ID its source data carried.
func (r *Resolver) AddComponent(oldID uint32, c Component) {
	if c != nil {
		r.components[oldID] = c
	}
}

// Resolve rewrites the ID reference attributes of every collected object.
// References to IDs outside the batch are left untouched and logged; zero
// means no reference and is skipped. The resolver is empty afterwards.
func (r *Resolver) Resolve() {
	for _, n := range r.nodes {
		r.resolveAttributes(n, n.scene)
	}
	for _, c := range r.components {
		r.resolveAttributes(c, c.Scene())
	}
	r.nodes = make(map[uint32]*Node)
	r.components = make(map[uint32]Component)
}

func (r *Resolver) resolveAttributes(obj Serializable, s *Scene) {
	table := obj.Attributes()
	for i := 0; i < table.Len(); i++ {
		info := table.At(i)
		switch {
		case info.Mode&attr.ModeNodeID != 0:
			old := info.Get(obj).UInt()
			if old == 0 {
				continue
			}
			if n, ok := r.nodes[old]; ok {
				info.Set(obj, variant.Int(int32(n.id)))
			} else if s != nil {
				s.logger.Warn("could not resolve node reference",
					log.String("attribute", info.Name), log.Uint32("id", old))
			}
		case info.Mode&attr.ModeComponentID != 0:
			old := info.Get(obj).UInt()
			if old == 0 {
				continue
			}
			if c, ok := r.components[old]; ok {
				info.Set(obj, variant.Int(int32(c.ID())))
			} else if s != nil {
				s.logger.Warn("could not resolve component reference",
					log.String("attribute", info.Name), log.Uint32("id", old))
			}
		case info.Mode&attr.ModeNodeIDList != 0:
			list := info.Get(obj).List()
			if len(list) == 0 {
				continue
			}
			out := make(variant.List, len(list))
			for j, e := range list {
				old := e.UInt()
				if n, ok := r.nodes[old]; old != 0 && ok {
					out[j] = variant.Int(int32(n.id))
					continue
				}
				out[j] = e
				if old != 0 && s != nil {
					s.logger.Warn("could not resolve node reference",
						log.String("attribute", info.Name), log.Uint32("id", old))
				}
			}
			info.Set(obj, variant.FromList(out))
		}
	}
}
