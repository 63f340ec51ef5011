package market

import "sync"

// Ring is a fixed-capacity buffer where the newest value evicts the oldest.
// It is safe for one writer and many readers.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	start int
	n     int
}

// NewRing creates a Ring holding at most capacity values (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Filter returns, oldest first, a copy of every value for which keep is true.
func (r *Ring[T]) Filter(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.n)
	for i := 0; i < r.n; i++ {
		v := r.buf[(r.start+i)%len(r.buf)]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}
