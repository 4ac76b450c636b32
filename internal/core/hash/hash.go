package hash

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// StringHash is a 64-bit xxhash of a string, used as the key type for
// tag lookups, user variable names and component type identities.
type StringHash uint64

// NewStringHash hashes s. Hashing is case-sensitive.
func NewStringHash(s string) StringHash {
	return StringHash(xxhash.Sum64String(s))
}

// Value returns the raw hash value.
func (h StringHash) Value() uint64 {
	return uint64(h)
}

// String returns the hash as a hex string.
func (h StringHash) String() string {
	return strconv.FormatUint(uint64(h), 16)
}

// ParseStringHash parses the hex form produced by String.
func ParseStringHash(s string) (StringHash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return StringHash(v), nil
}

// Fold mixes v into a running checksum.
func Fold(sum uint32, v uint32) uint32 {
	return sum*31 + v
}
