// Package ringbuf provides a fixed capacity circular buffer. Appending to a
// full buffer overwrites the oldest element in O(1).
package ringbuf

import "encoding/json"

type Buffer[T any] struct {
	items []T
	start int
	size  int
}

// New creates a buffer holding at most capacity elements.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// FromSlice builds a buffer from values, keeping the newest capacity entries.
func FromSlice[T any](capacity int, values []T) *Buffer[T] {
	b := New[T](capacity)
	b.Push(values...)
	return b
}

func (b *Buffer[T]) Cap() int { return len(b.items) }

func (b *Buffer[T]) Len() int { return b.size }

// Push appends values, dropping the oldest when full. It returns how many
// entries were dropped.
func (b *Buffer[T]) Push(values ...T) int {
	dropped := 0
	for _, v := range values {
		if b.size < len(b.items) {
			b.items[(b.start+b.size)%len(b.items)] = v
			b.size++
			continue
		}
		b.items[b.start] = v
		b.start = (b.start + 1) % len(b.items)
		dropped++
	}
	return dropped
}

// Slice returns the contents oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Last returns up to n newest entries, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size {
		n = b.size
	}
	out := make([]T, n)
	offset := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.start+offset+i)%len(b.items)]
	}
	return out
}

func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.start, b.size = 0, 0
}

func (b *Buffer[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Slice())
}

// UnmarshalJSON keeps the current capacity (or 100 for a zero buffer) and
// the newest entries that fit.
func (b *Buffer[T]) UnmarshalJSON(data []byte) error {
	var values []T
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	capacity := len(b.items)
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	*b = *FromSlice(capacity, values)
	return nil
}

// DefaultCapacity matches the interaction log bound of the viewer state.
const DefaultCapacity = 100
