package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poolItem struct {
	data []byte
}

func TestPool(t *testing.T) {
	t.Run("GeneratesOnEmpty", func(t *testing.T) {
		p := NewPool(func() *poolItem {
			return &poolItem{data: make([]byte, 0, 64)}
		})
		item := p.Get()
		require.NotNil(t, item)
		assert.Equal(t, 64, cap(item.data))
	})

	t.Run("ReusesPutValues", func(t *testing.T) {
		p := NewPool(func() *poolItem { return &poolItem{} })
		item := p.Get()
		item.data = append(item.data, 1, 2, 3)
		p.Put(item)

		// sync.Pool gives no reuse guarantee, but a Get right after a Put on
		// a single goroutine returns the cached value in practice.
		again := p.Get()
		require.NotNil(t, again)
	})

	t.Run("HotPoolPrewarms", func(t *testing.T) {
		var generated int
		p := NewHotPool(func() *poolItem {
			generated++
			return &poolItem{}
		}, 4)
		assert.Equal(t, 4, generated)

		for i := 0; i < 4; i++ {
			require.NotNil(t, p.Get())
		}
	})
}
