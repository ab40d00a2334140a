package bus

import (
	"context"
	"sync"

	"github.com/arloliu/go-osdp/internal/queue"
	"github.com/arloliu/go-osdp/message"
)

// ReplyQueue is an unbounded queue of accepted replies. It is safe for any number of
// producers and consumers.
type ReplyQueue struct {
	mu     sync.Mutex
	items  queue.Queue[*message.Reply]
	notify chan struct{} // closed and replaced on every Push
}

// NewReplyQueue creates an empty reply queue.
func NewReplyQueue() *ReplyQueue {
	return &ReplyQueue{
		items:  queue.NewSliceQueue[*message.Reply](16),
		notify: make(chan struct{}),
	}
}

// Push appends r.
func (q *ReplyQueue) Push(r *message.Reply) {
	q.mu.Lock()
	q.items.Enqueue(r)
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
}

// Pop removes the oldest reply without blocking.
func (q *ReplyQueue) Pop() (*message.Reply, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Dequeue()
}

// Take removes the oldest reply, waiting until one is available or ctx is done.
func (q *ReplyQueue) Take(ctx context.Context) (*message.Reply, error) {
	for {
		q.mu.Lock()
		r, ok := q.items.Dequeue()
		notify := q.notify
		q.mu.Unlock()

		if ok {
			return r, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// Len returns the number of queued replies.
func (q *ReplyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Length()
}
