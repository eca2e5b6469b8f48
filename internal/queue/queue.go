// Package queue holds messages that must survive a transport outage.
package queue

// Pending is a bounded FIFO that evicts its oldest entry when full.
// It is not safe for concurrent use; callers own it from a single loop.
type Pending[T any] struct {
	items   []T
	limit   int
	dropped int
}

// NewPending returns a queue holding at most limit items. A non-positive
// limit is treated as 1.
func NewPending[T any](limit int) *Pending[T] {
	if limit < 1 {
		limit = 1
	}
	return &Pending[T]{limit: limit}
}

// Push appends v, evicting the oldest item when the queue is full. It
// reports whether an item was evicted.
func (q *Pending[T]) Push(v T) bool {
	evicted := false
	if len(q.items) >= q.limit {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, v)
	return evicted
}

// Drain removes and returns every queued item in arrival order.
func (q *Pending[T]) Drain() []T {
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Pending[T]) Len() int { return len(q.items) }

// Limit returns the capacity.
func (q *Pending[T]) Limit() int { return q.limit }

// Dropped returns how many items were evicted since creation.
func (q *Pending[T]) Dropped() int { return q.dropped }
