package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDAllocator(t *testing.T) {
	never := func(uint32) bool { return false }

	t.Run("SequentialFromStart", func(t *testing.T) {
		a := newIDAllocator(10, 14)
		for want := uint32(10); want <= 14; want++ {
			id, err := a.alloc(never)
			require.NoError(t, err)
			assert.Equal(t, want, id)
		}
		// One full cycle later the cursor is back at the start.
		id, err := a.alloc(never)
		require.NoError(t, err)
		assert.Equal(t, uint32(10), id)
	})

	t.Run("SkipsUsedIDs", func(t *testing.T) {
		a := newIDAllocator(1, 5)
		used := map[uint32]bool{1: true, 2: true, 4: true}
		inUse := func(id uint32) bool { return used[id] }

		id, err := a.alloc(inUse)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), id)

		id, err = a.alloc(inUse)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), id)
	})

	t.Run("FreedIDReusedOnlyAfterWrap", func(t *testing.T) {
		a := newIDAllocator(1, 3)
		used := map[uint32]bool{}
		inUse := func(id uint32) bool { return used[id] }

		for want := uint32(1); want <= 2; want++ {
			id, err := a.alloc(inUse)
			require.NoError(t, err)
			assert.Equal(t, want, id)
			used[id] = true
		}
		delete(used, 1)

		id, err := a.alloc(inUse)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), id)

		id, err = a.alloc(inUse)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), id)
	})

	t.Run("Exhaustion", func(t *testing.T) {
		a := newIDAllocator(1, 4)
		_, err := a.alloc(func(uint32) bool { return true })
		assert.ErrorIs(t, err, ErrIDSpaceExhausted)
	})

	t.Run("ResetAndSetNext", func(t *testing.T) {
		a := newIDAllocator(5, 9)
		a.setNext(7)
		id, err := a.alloc(never)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), id)

		a.reset()
		id, err = a.alloc(never)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), id)

		// Out-of-range cursors fall back to the range start.
		a.setNext(100)
		id, err = a.alloc(never)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), id)
	})
}
