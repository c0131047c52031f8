package stream

import "math"

// Ring is a fixed-capacity sliding history, oldest-first, newest-last.
// Pushing evicts the oldest element; PadMissing evicts the N oldest
// and appends N NaN placeholders for pulses that never arrived.
// Ring is not safe for concurrent use; callers hold their own lock.
type Ring struct {
	buf  []float64
	head int // index of the oldest element
}

// NewRing creates a ring of the given capacity filled with NaN.
func NewRing(capacity int) *Ring {
	buf := make([]float64, capacity)
	for i := range buf {
		buf[i] = math.NaN()
	}
	return &Ring{buf: buf}
}

// Len returns the fixed capacity.
func (r *Ring) Len() int { return len(r.buf) }

// Push evicts the oldest element and appends v as the newest.
func (r *Ring) Push(v float64) {
	r.buf[r.head] = v
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
}

// PadMissing evicts the n oldest elements and appends n NaNs.
func (r *Ring) PadMissing(n int) {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	for i := 0; i < n; i++ {
		r.Push(math.NaN())
	}
}

// Reseed replaces the entire contents. values is interpreted
// oldest-first; when shorter than the capacity the front is padded
// with NaN, when longer only the newest elements are kept.
func (r *Ring) Reseed(values []float64) {
	if len(values) > len(r.buf) {
		values = values[len(values)-len(r.buf):]
	}
	pad := len(r.buf) - len(values)
	for i := 0; i < pad; i++ {
		r.buf[i] = math.NaN()
	}
	copy(r.buf[pad:], values)
	r.head = 0
}

// Snapshot returns an independent oldest-first copy of the contents.
func (r *Ring) Snapshot() []float64 {
	out := make([]float64, len(r.buf))
	n := copy(out, r.buf[r.head:])
	copy(out[n:], r.buf[:r.head])
	return out
}
