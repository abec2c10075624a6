package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue has been closed and
// drained. The session handler treats it as a normal end of stream.
var ErrQueueClosed = errors.New("bus: queue closed")

// Queue is an unbounded FIFO with exactly one consumer. Producers go
// through Channel.Publish and never block; the consumer blocks in Pop
// until a message arrives, the context is canceled, or the queue is
// closed.
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool

	// notify carries at most one pending wake-up token so pushes never block.
	notify chan struct{}
	done   chan struct{}
}

func newQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends a message. Safe from any goroutine; never blocks.
func (q *Queue) push(msg string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest message, blocking until one is
// available. It returns ctx.Err() on cancellation and ErrQueueClosed
// after Close once all buffered messages have been delivered.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
			// Re-check: Close may race with a final push.
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close unblocks the consumer. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Len reports the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
