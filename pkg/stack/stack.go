// Package stack provides a LIFO buffer with a preallocated fast region and a
// linked overflow, used for the blocks a thread has opened but not closed.
package stack

const DefaultCapacity = 64

type node[T any] struct {
	value T
	prev  *node[T]
}

// Buffer is a LIFO of T. Pointers returned by Push stay valid until the
// matching Pop. Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	items []T

	overflow    *node[T]
	overflowLen int

	highWater int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer[T]{
		items: make([]T, 0, capacity),
	}
}

// Push stores v on top and returns a pointer to the stored element.
func (b *Buffer[T]) Push(v T) *T {
	// Once spilled, keep spilling until the overflow drains, so that LIFO
	// order holds across both stores.
	if b.overflow == nil && len(b.items) < cap(b.items) {
		b.items = append(b.items, v)
		b.track()
		return &b.items[len(b.items)-1]
	}
	b.overflow = &node[T]{value: v, prev: b.overflow}
	b.overflowLen++
	b.track()

	return &b.overflow.value
}

// Pop drops the top element. It is a no-op on an empty buffer.
func (b *Buffer[T]) Pop() {
	switch {
	case b.overflow != nil:
		b.overflow = b.overflow.prev
		b.overflowLen--
	case len(b.items) > 0:
		var zero T
		b.items[len(b.items)-1] = zero
		b.items = b.items[:len(b.items)-1]
	default:
		return
	}

	if b.Len() == 0 && b.highWater > cap(b.items) {
		b.items = make([]T, 0, b.highWater)
	}
}

// Top returns the most recently pushed element, or nil when empty.
func (b *Buffer[T]) Top() *T {
	if b.overflow != nil {
		return &b.overflow.value
	}
	if len(b.items) == 0 {
		return nil
	}

	return &b.items[len(b.items)-1]
}

func (b *Buffer[T]) Len() int {
	return len(b.items) + b.overflowLen
}

func (b *Buffer[T]) Empty() bool {
	return b.Len() == 0
}

// Capacity returns the size of the preallocated region.
func (b *Buffer[T]) Capacity() int {
	return cap(b.items)
}

// Overflowed reports whether some elements live in the overflow list.
func (b *Buffer[T]) Overflowed() bool {
	return b.overflow != nil
}

func (b *Buffer[T]) track() {
	if n := b.Len(); n > b.highWater {
		b.highWater = n
	}
}
