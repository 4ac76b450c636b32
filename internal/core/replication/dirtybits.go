// Package replication holds the per-connection bookkeeping for scene
// network replication: dirty attribute bits, node and component tracking
// states, and the shared network value snapshots used for delta building.
package replication

import "math/bits"

// MaxNetworkAttributes is the largest number of replicated attributes one
// serializable type may declare.
const MaxNetworkAttributes = 256

// DirtyBits is a fixed bitmask with one bit per network attribute index.
// The zero value has no bits set.
type DirtyBits struct {
	words [4]uint64
}

// Set marks attribute index i dirty. Out-of-range indexes are ignored.
func (b *DirtyBits) Set(i int) {
	if i < 0 || i >= MaxNetworkAttributes {
		return
	}
	b.words[i>>6] |= 1 << (uint(i) & 63)
}

// Clear unmarks attribute index i.
func (b *DirtyBits) Clear(i int) {
	if i < 0 || i >= MaxNetworkAttributes {
		return
	}
	b.words[i>>6] &^= 1 << (uint(i) & 63)
}

// ClearAll resets the mask.
func (b *DirtyBits) ClearAll() {
	b.words = [4]uint64{}
}

// IsSet reports whether attribute index i is dirty.
func (b *DirtyBits) IsSet(i int) bool {
	if i < 0 || i >= MaxNetworkAttributes {
		return false
	}
	return b.words[i>>6]&(1<<(uint(i)&63)) != 0
}

// Count returns the number of dirty attributes.
func (b *DirtyBits) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Any reports whether any attribute is dirty.
func (b *DirtyBits) Any() bool {
	return b.words[0]|b.words[1]|b.words[2]|b.words[3] != 0
}

// Words returns the raw mask words for wire encoding.
func (b *DirtyBits) Words() [4]uint64 {
	return b.words
}

// SetWords overwrites the mask from wire-decoded words.
func (b *DirtyBits) SetWords(w [4]uint64) {
	b.words = w
}
