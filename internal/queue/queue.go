// Package queue carries registration requests from the scanner to the
// registration workers through a bounded FIFO.
package queue

import (
	"context"
	"errors"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("queue: closed")

// Bounded is a fixed-capacity FIFO. Add blocks while the queue is full and
// Poll blocks while it is empty; both give up when their context ends.
// Capacity is enforced by the channel buffer, so each successful Add makes
// one item available to exactly one waiting consumer and each Poll frees
// one slot for a blocked producer.
type Bounded struct {
	items  chan Request
	closed chan struct{}
}

// New creates a queue holding at most capacity requests.
func New(capacity int) *Bounded {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bounded{
		items:  make(chan Request, capacity),
		closed: make(chan struct{}),
	}
}

// Add appends req, waiting for a free slot.
func (q *Bounded) Add(ctx context.Context, req Request) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.items <- req:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll removes and returns the oldest request, waiting until one exists.
func (q *Bounded) Poll(ctx context.Context) (Request, error) {
	select {
	case req := <-q.items:
		return req, nil
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// TryPoll returns the oldest request without waiting.
func (q *Bounded) TryPoll() (Request, bool) {
	select {
	case req := <-q.items:
		return req, true
	default:
		return Request{}, false
	}
}

// Close rejects further Add calls and wakes blocked producers. Requests
// already queued can still be polled.
func (q *Bounded) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}

// Len reports the number of queued requests.
func (q *Bounded) Len() int { return len(q.items) }

// Cap reports the fixed capacity.
func (q *Bounded) Cap() int { return cap(q.items) }

// HasItems reports whether at least one request is waiting.
func (q *Bounded) HasItems() bool { return len(q.items) > 0 }
