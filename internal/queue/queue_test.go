package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cmdItem struct {
	addr byte
	code byte
}

func queueFactories() map[string]func() Queue[*cmdItem] {
	return map[string]func() Queue[*cmdItem]{
		"slice":     func() Queue[*cmdItem] { return NewSliceQueue[*cmdItem](1) },
		"lock-free": func() Queue[*cmdItem] { return NewLockFreeQueue[*cmdItem]() },
	}
}

func TestQueue(t *testing.T) {
	for name, newQueue := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			t.Run("Empty Queue", func(t *testing.T) {
				q := newQueue()
				assert.Equal(0, q.Length())

				_, ok := q.Dequeue()
				assert.False(ok)
			})

			t.Run("FIFO order", func(t *testing.T) {
				q := newQueue()
				item1 := &cmdItem{1, 0x60}
				item2 := &cmdItem{1, 0x69}
				q.Enqueue(item1)
				q.Enqueue(item2)
				assert.Equal(2, q.Length())

				got, ok := q.Dequeue()
				assert.True(ok)
				assert.Same(item1, got)

				got, ok = q.Dequeue()
				assert.True(ok)
				assert.Same(item2, got)
				assert.Equal(0, q.Length())
			})

			t.Run("Reuse after drain", func(t *testing.T) {
				q := newQueue()
				q.Enqueue(&cmdItem{2, 0x60})
				_, _ = q.Dequeue()

				q.Enqueue(&cmdItem{4, 0x60})
				got, ok := q.Dequeue()
				assert.True(ok)
				assert.Equal(byte(4), got.addr)
				assert.Equal(0, q.Length())
			})
		})
	}
}

func TestLockFreeQueue_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 500

	q := NewLockFreeQueue[*cmdItem]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(addr byte) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(&cmdItem{addr: addr, code: byte(i)})
			}
		}(byte(p))
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Length())

	// per-producer order must be preserved
	last := make(map[byte]int)
	for i := 0; i < producers*perProducer; i++ {
		item, ok := q.Dequeue()
		require.True(t, ok)
		prev, seen := last[item.addr]
		if seen {
			require.Equal(t, byte(prev+1), item.code)
		}
		last[item.addr] = int(item.code)
	}
	assert.Equal(t, 0, q.Length())
}
