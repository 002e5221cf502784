package workflow

import (
	"context"
	"errors"
	"sync"
)

// Policy decides what a full queue does with a new item.
type Policy uint8

const (
	// DropOldest evicts the oldest item. It suits workflows whose real input
	// is a store table.
	DropOldest Policy = iota
	// Block makes the producer wait for room.
	Block
)

// ErrQueueClosed is returned by Push on a closed queue.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded FIFO between a producer and a workflow.
type Queue struct {
	mu       sync.Mutex
	notFull  chan struct{}
	items    []interface{}
	capacity int
	policy   Policy
	dropped  uint64
	closed   bool
}

// NewQueue creates a queue.
func NewQueue(capacity int, policy Policy) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		notFull:  make(chan struct{}),
		capacity: capacity,
		policy:   policy,
	}
}

// Push adds an item. Under Block it waits for room or for ctx.
func (q *Queue) Push(ctx context.Context, item interface{}) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.mu.Unlock()
			return nil
		}
		if q.policy == DropOldest {
			q.items = append(q.items[1:], item)
			q.dropped++
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Drain removes and returns up to max items, oldest first. A max of 0 takes
// everything.
func (q *Queue) Drain(max int) []interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]interface{}, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)

	if !q.closed {
		close(q.notFull)
		q.notFull = make(chan struct{})
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items DropOldest has evicted.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes blocked producers and refuses further pushes.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.notFull)
	}
}
