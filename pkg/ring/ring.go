// Package ring provides the bounded single-producer/single-consumer FIFO used
// for every buffering stage of the capture engine.
//
// A Ring has exactly one writer goroutine (Push) and one reader goroutine
// (Pop, Peek, Discard). Level, Free and HasRoom may be called from either
// side; the value observed by the writer can only be an over-estimate of the
// true level, never an under-estimate, so room checks made by the writer stay
// valid until the writer itself pushes.
package ring

import (
	"go.uber.org/atomic"
)

// Ring is a fixed-capacity SPSC ring buffer. Full rings reject writes; nothing
// is ever overwritten.
type Ring[T any] struct {
	buf []T

	// head is the count of items ever popped (reader owned).
	head atomic.Uint64
	// tail is the count of items ever pushed (writer owned).
	tail atomic.Uint64
}

// New returns a ring holding at most capacity items.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Level returns the number of items currently queued.
func (r *Ring[T]) Level() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns the number of items that can be pushed before the ring is full.
func (r *Ring[T]) Free() int { return len(r.buf) - r.Level() }

// HasRoom reports whether at least one more item fits.
func (r *Ring[T]) HasRoom() bool { return r.Level() < len(r.buf) }

// Empty reports whether nothing is queued.
func (r *Ring[T]) Empty() bool { return r.Level() == 0 }

// Push appends v. It is a no-op returning false when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.buf)) {
		return false
	}
	r.buf[tail%uint64(len(r.buf))] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop removes and returns the oldest item. ok is false when the ring is empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return v, false
	}
	idx := head % uint64(len(r.buf))
	v = r.buf[idx]
	var zero T
	r.buf[idx] = zero
	r.head.Store(head + 1)
	return v, true
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (v T, ok bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return v, false
	}
	return r.buf[head%uint64(len(r.buf))], true
}

// Discard drops up to n of the oldest items and returns how many were dropped.
func (r *Ring[T]) Discard(n int) int {
	if n <= 0 {
		return 0
	}
	head := r.head.Load()
	avail := int(r.tail.Load() - head)
	if n > avail {
		n = avail
	}
	var zero T
	for i := 0; i < n; i++ {
		r.buf[(head+uint64(i))%uint64(len(r.buf))] = zero
	}
	r.head.Store(head + uint64(n))
	return n
}

// PopInto copies up to len(dst) of the oldest items into dst, removing them,
// and returns the count copied.
func (r *Ring[T]) PopInto(dst []T) int {
	head := r.head.Load()
	avail := int(r.tail.Load() - head)
	n := len(dst)
	if n > avail {
		n = avail
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(head+uint64(i))%uint64(len(r.buf))]
	}
	r.head.Store(head + uint64(n))
	return n
}
