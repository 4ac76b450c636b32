package scene

import (
	"fmt"
	"io"
	"sort"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/replication"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// InterceptFunc receives an incoming network attribute value instead of the
// attribute table when interception is enabled for that attribute.
type InterceptFunc func(obj Serializable, info *attr.Info, value variant.Variant)

// PrepareNetworkUpdate diffs every queued object against its replication
// snapshot and flags the changed attributes on all connection trackers.
// Runs once per server tick, before the per-connection delta builds.
func (s *Scene) PrepareNetworkUpdate() {
	for id := range s.networkUpdateNodes {
		delete(s.networkUpdateNodes, id)
		n, ok := s.nodes[id]
		if !ok {
			continue
		}
		prepareAttributes(n)
		prepareNodeVars(n)
		n.clearNetworkUpdate()
	}
	for id := range s.networkUpdateComponents {
		delete(s.networkUpdateComponents, id)
		c, ok := s.components[id]
		if !ok {
			continue
		}
		prepareAttributes(c)
		c.Base().clearNetworkUpdate()
	}
}

// prepareAttributes compares live network attribute values against the
// shared snapshot, updating the snapshot and marking changed indexes dirty
// on every tracker.
func prepareAttributes(obj Serializable) {
	table := obj.Attributes()
	net := table.Network()
	if len(net) == 0 {
		return
	}
	st := obj.AsSerializable().EnsureNetworkState(table)
	for netIdx, tableIdx := range net {
		value := table.At(tableIdx).Get(obj)
		if value.Equals(st.Current[netIdx]) {
			continue
		}
		st.Current[netIdx] = value.Clone()
		for _, tr := range st.Trackers {
			tr.MarkAttributeDirty(netIdx)
		}
	}
}

// prepareNodeVars diffs user variables. Variable removal does not
// replicate; vars are additive over the network.
func prepareNodeVars(n *Node) {
	if len(n.vars) == 0 {
		return
	}
	st := n.EnsureNetworkState(n.Attributes())
	for key, value := range n.vars {
		if prev, ok := st.PreviousVars[key]; ok && value.Equals(prev) {
			continue
		}
		st.PreviousVars[key] = value.Clone()
		for _, tr := range st.Trackers {
			if ns, ok := tr.(*replication.NodeState); ok {
				ns.MarkVarDirty(key)
			}
		}
	}
}

// Connection tracking

// TrackNode attaches a connection's scene state to a node, creating the
// node's tracking record on first call. Safe to call repeatedly.
func TrackNode(state *replication.SceneState, n *Node) *replication.NodeState {
	ns := state.EnsureNode(n.ID())
	st := n.EnsureNetworkState(n.Attributes())
	for _, tr := range st.Trackers {
		if tr == replication.Tracker(ns) {
			return ns
		}
	}
	st.AddTracker(ns)
	return ns
}

// TrackComponent attaches a connection's node state to one of the node's
// components.
func TrackComponent(ns *replication.NodeState, c Component) *replication.ComponentState {
	cs := ns.EnsureComponent(c.ID())
	st := c.AsSerializable().EnsureNetworkState(c.Attributes())
	for _, tr := range st.Trackers {
		if tr == replication.Tracker(cs) {
			return cs
		}
	}
	st.AddTracker(cs)
	return cs
}

// UntrackNode detaches a connection's tracking from a node and its
// components, such as when the node leaves the connection's interest set.
func UntrackNode(state *replication.SceneState, n *Node) {
	ns, ok := state.NodeStates[n.ID()]
	if !ok {
		return
	}
	if st := n.NetworkState(); st != nil {
		st.RemoveTracker(ns)
	}
	for _, c := range n.Components() {
		cs, tracked := ns.ComponentStates[c.ID()]
		if !tracked {
			continue
		}
		if st := c.AsSerializable().NetworkState(); st != nil {
			st.RemoveTracker(cs)
		}
	}
	state.RemoveNode(n.ID())
}

// CleanupConnection removes every tracker a disconnecting connection holds
// on live scene objects, then drops the connection state.
func (s *Scene) CleanupConnection(state *replication.SceneState) {
	for nodeID, ns := range state.NodeStates {
		if n, ok := s.nodes[nodeID]; ok {
			if st := n.NetworkState(); st != nil {
				st.RemoveTracker(ns)
			}
		}
		for compID, cs := range ns.ComponentStates {
			c, ok := s.components[compID]
			if !ok {
				continue
			}
			if st := c.AsSerializable().NetworkState(); st != nil {
				st.RemoveTracker(cs)
			}
		}
	}
	state.Clear()
}

// Wire encoding. Values travel untagged; both sides derive the type from
// the attribute table, whose layout the schema checksum pins down.

// SplitDirtyBits separates dirty attributes into reliable delta bits and
// unreliable latest-data bits.
func SplitDirtyBits(table *attr.Table, bits *replication.DirtyBits) (delta, latest replication.DirtyBits) {
	for netIdx, tableIdx := range table.Network() {
		if !bits.IsSet(netIdx) {
			continue
		}
		if table.At(tableIdx).Mode&attr.ModeLatestData != 0 {
			latest.Set(netIdx)
		} else {
			delta.Set(netIdx)
		}
	}
	return delta, latest
}

// WriteInitialUpdate writes every network attribute with its live value in
// table order. Sent once per object, with its creation record.
func WriteInitialUpdate(w io.Writer, obj Serializable) error {
	table := obj.Attributes()
	for _, tableIdx := range table.Network() {
		info := table.At(tableIdx)
		if err := variant.WriteValue(w, info.Get(obj)); err != nil {
			return fmt.Errorf("attribute %q: %w", info.Name, err)
		}
	}
	return nil
}

// ReadInitialUpdate applies a full-state update of all network attributes
// in table order.
func ReadInitialUpdate(r io.Reader, obj Serializable, intercept InterceptFunc) error {
	table := obj.Attributes()
	st := obj.AsSerializable().NetworkState()
	for netIdx, tableIdx := range table.Network() {
		info := table.At(tableIdx)
		value, err := variant.ReadValue(r, info.Type)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", info.Name, err)
		}
		if intercept != nil && st != nil && st.Intercepted.IsSet(netIdx) {
			intercept(obj, info, value)
			continue
		}
		info.Set(obj, value)
	}
	return nil
}

// WriteDeltaUpdate writes a dirty mask followed by the snapshot values of
// the masked attributes.
func WriteDeltaUpdate(w io.Writer, obj Serializable, bits *replication.DirtyBits) error {
	table := obj.Attributes()
	net := table.Network()
	words := bits.Words()
	mask := make([]byte, (len(net)+7)/8)
	for i := range mask {
		mask[i] = byte(words[i>>3] >> ((uint(i) & 7) * 8))
	}
	if _, err := w.Write(mask); err != nil {
		return err
	}
	st := obj.AsSerializable().NetworkState()
	for netIdx, tableIdx := range net {
		if !bits.IsSet(netIdx) {
			continue
		}
		value := table.At(tableIdx).Get(obj)
		if st != nil && netIdx < len(st.Current) && st.Current[netIdx].Type != variant.TypeNone {
			value = st.Current[netIdx]
		}
		if err := variant.WriteValue(w, value); err != nil {
			return fmt.Errorf("attribute %q: %w", table.At(tableIdx).Name, err)
		}
	}
	return nil
}

// ReadDeltaUpdate applies an incoming delta: a dirty mask followed by the
// values of the masked attributes. Intercepted attributes go to the
// handler instead of the table.
func ReadDeltaUpdate(r io.Reader, obj Serializable, intercept InterceptFunc) error {
	table := obj.Attributes()
	net := table.Network()
	mask := make([]byte, (len(net)+7)/8)
	if _, err := io.ReadFull(r, mask); err != nil {
		return err
	}
	st := obj.AsSerializable().NetworkState()
	for netIdx, tableIdx := range net {
		if mask[netIdx>>3]&(1<<(uint(netIdx)&7)) == 0 {
			continue
		}
		info := table.At(tableIdx)
		value, err := variant.ReadValue(r, info.Type)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", info.Name, err)
		}
		if intercept != nil && st != nil && st.Intercepted.IsSet(netIdx) {
			intercept(obj, info, value)
			continue
		}
		info.Set(obj, value)
	}
	return nil
}

// WriteVarsUpdate writes the given user variables of a node as key and
// value pairs, ordered by key for deterministic output.
func WriteVarsUpdate(w io.Writer, n *Node, keys map[hash.StringHash]struct{}) error {
	bw := &binWriter{w: w}
	bw.u32(uint32(len(keys)))
	sorted := make([]hash.StringHash, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value() < sorted[j].Value() })
	for _, k := range sorted {
		bw.u64(k.Value())
		bw.variant(n.Var(k))
	}
	return bw.err
}

// ReadVarsUpdate applies incoming user variables to a node.
func ReadVarsUpdate(r io.Reader, n *Node) error {
	br := &binReader{r: r}
	count := br.u32()
	if br.err != nil {
		return br.err
	}
	if count > maxVarNameCount {
		return fmt.Errorf("%w: %d variables", ErrMalformedData, count)
	}
	for i := uint32(0); i < count; i++ {
		key := br.u64()
		value := br.variant()
		if br.err != nil {
			return br.err
		}
		n.SetVar(hash.StringHash(key), value)
	}
	return nil
}
