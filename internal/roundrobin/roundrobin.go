// Package roundrobin hands out elements of a fixed collection in strict
// rotation.
package roundrobin

import (
	"errors"
	"slices"
	"sync"
)

// ErrEmpty is returned when a selector is built from an empty collection.
var ErrEmpty = errors.New("roundrobin: collection must contain at least one element")

// Selector cycles through its items. It is safe for concurrent use; the
// sequence observed across all callers is the rotation order.
type Selector[T any] struct {
	mu     sync.Mutex
	items  []T
	cursor int
}

// New copies items into a selector.
func New[T any](items []T) (*Selector[T], error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	return &Selector[T]{items: slices.Clone(items)}, nil
}

// Next returns the element under the cursor and advances it, wrapping to
// the start after the last element.
func (s *Selector[T]) Next() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[s.cursor]
	s.cursor = (s.cursor + 1) % len(s.items)
	return item
}

// Len reports the collection size.
func (s *Selector[T]) Len() int {
	return len(s.items)
}

// Items returns a copy of the collection in rotation order.
func (s *Selector[T]) Items() []T {
	return slices.Clone(s.items)
}
