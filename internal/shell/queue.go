package shell

import (
	"iter"
	"sync"

	"github.com/freema/askshell/internal/apperror"
)

// Queue is an unbounded FIFO that can be closed. Receivers drain remaining
// items after Close and then observe ok == false.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// EventQueue carries the events of one run from producers to its consumer.
type EventQueue = Queue[Event]

// NewQueue returns an empty open queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// NewEventQueue returns an empty open event queue.
func NewEventQueue() *EventQueue {
	return NewQueue[Event]()
}

// Push appends v. It never blocks and fails only once the queue is closed.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return apperror.ErrQueueClosed
	}
	q.items = append(q.items, v)
	q.cond.Signal()
	return nil
}

// Close marks the queue closed and wakes every blocked receiver. Repeated
// calls are no-ops.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Receive blocks until an item is available or the queue is closed and empty.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	v := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// All yields items in push order until the queue is closed and drained.
func (q *Queue[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := q.Receive()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
