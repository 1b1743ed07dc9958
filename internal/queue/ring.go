package queue

// Ring is a fixed-capacity FIFO. Pushing into a full ring evicts the oldest item.
// It is not safe for concurrent use; the platoon core only touches it from the tick loop.
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// NewRing returns an empty ring holding at most capacity items.
// A capacity below one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when full. evicted is true when that happened.
func (r *Ring[T]) Push(v T) (evicted bool) {
	end := (r.start + r.size) % len(r.buf)
	r.buf[end] = v
	if r.size == len(r.buf) {
		r.start = (r.start + 1) % len(r.buf)
		return true
	}
	r.size++
	return false
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th item counted from the oldest.
func (r *Ring[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.size {
		return zero, false
	}
	return r.buf[(r.start+i)%len(r.buf)], true
}

// Newest returns the most recently pushed item.
func (r *Ring[T]) Newest() (T, bool) {
	return r.At(r.size - 1)
}

// Items returns a copy of the contents ordered oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Reset empties the ring, keeping its capacity.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start, r.size = 0, 0
}
