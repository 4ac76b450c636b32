package scene

// idAllocator hands out IDs from a closed range, advancing a cursor and
// wrapping at the end. Exhaustion is detected after one full cycle over the
// range without finding a free ID.
type idAllocator struct {
	first, last uint32
	next        uint32
}

func newIDAllocator(first, last uint32) idAllocator {
	return idAllocator{first: first, last: last, next: first}
}

// alloc returns the next ID for which inUse is false. The cursor keeps
// advancing across calls, so freed IDs are reused only after the range
// wraps around.
func (a *idAllocator) alloc(inUse func(uint32) bool) (uint32, error) {
	span := a.last - a.first + 1
	for i := uint32(0); i < span; i++ {
		id := a.next
		if a.next == a.last {
			a.next = a.first
		} else {
			a.next++
		}
		if !inUse(id) {
			return id, nil
		}
	}
	return 0, ErrIDSpaceExhausted
}

// reset rewinds the cursor to the start of the range.
func (a *idAllocator) reset() { a.next = a.first }

// setNext positions the cursor, falling back to the range start when the
// value lies outside the range.
func (a *idAllocator) setNext(next uint32) {
	if next < a.first || next > a.last {
		next = a.first
	}
	a.next = next
}
