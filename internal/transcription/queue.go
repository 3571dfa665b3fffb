package transcription

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned when pushing to, or draining, a closed queue
var ErrQueueClosed = errors.New("transcription queue closed")

// Queue is an unbounded FIFO of work items with a single consumer. It
// outlives capture attempts so admitted segments survive restarts. Close
// acts as the stop marker: items already queued are still delivered, then
// Pop reports ErrQueueClosed.
type Queue struct {
	mu     sync.Mutex
	items  []WorkItem
	closed bool
	notify chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends item. It never blocks.
func (q *Queue) Push(item WorkItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Pop blocks until an item is available, the queue is closed and empty, or
// ctx is done.
func (q *Queue) Pop(ctx context.Context) (WorkItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = WorkItem{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return WorkItem{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return WorkItem{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close stops accepting new items. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns everything still queued
func (q *Queue) Drain() []WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
