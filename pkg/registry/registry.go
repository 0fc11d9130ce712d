// Package registry is an arena of live consumer instances (viewer plugins,
// chat panes) addressed by opaque handles. A released slot is reused with a
// new generation, so a stale handle never resolves to a newer instance.
package registry

import (
	"sync"
)

// Handle identifies one registration. The zero Handle is never issued.
type Handle uint64

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) index() uint32      { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
	order      uint64
}

type Registry[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	clock uint64
}

func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

func (r *Registry[T]) Register(value T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock++
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot[T]{})
		idx = uint32(len(r.slots) - 1)
	}

	s := &r.slots[idx]
	s.generation++
	s.value = value
	s.live = true
	s.order = r.clock
	return makeHandle(idx, s.generation)
}

// Release frees the slot. It returns false for unknown or stale handles.
func (r *Registry[T]) Release(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.lookup(h)
	if !ok {
		return false
	}
	var zero T
	s.value = zero
	s.live = false
	r.free = append(r.free, h.index())
	return true
}

func (r *Registry[T]) Get(h Handle) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Latest returns the most recently registered live instance.
func (r *Registry[T]) Latest() (T, Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best   *slot[T]
		bestIx int
	)
	for i := range r.slots {
		s := &r.slots[i]
		if s.live && (best == nil || s.order > best.order) {
			best, bestIx = s, i
		}
	}
	if best == nil {
		var zero T
		return zero, 0, false
	}
	return best.value, makeHandle(uint32(bestIx), best.generation), true
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots) - len(r.free)
}

func (r *Registry[T]) lookup(h Handle) (*slot[T], bool) {
	idx := h.index()
	if h == 0 || int(idx) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[idx]
	if !s.live || s.generation != h.generation() {
		return nil, false
	}
	return s, true
}
