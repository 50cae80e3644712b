package vring

import "unsafe"

// Low-level spare capacity access. These calls let callers fill the ring in
// place (for example with a single read from a socket) and then publish the
// filled elements. They maintain none of the usual invariants.

// Spare returns the unused capacity after the back of the ring as a slice of
// length Cap()-Len(). Its contents are unspecified: zero on a fresh mapping,
// stale elements otherwise.
//
// Writing to Spare does not change Len; follow with UnsafeAddLen.
func (r *Ring[T]) Spare() []T {
	if r.m.IsZero() {
		return nil
	}
	return unsafe.Slice(r.at(r.base+r.n*r.size), r.Cap()-r.n)
}

// UnsafeAddLen extends the ring by k elements taken from the front of Spare.
//
// The caller must have initialized those k elements. Panics if Len()+k would
// exceed Cap().
func (r *Ring[T]) UnsafeAddLen(k int) {
	if k < 0 || k > r.Cap()-r.n {
		panic("vring: length out of range")
	}
	r.n += k
}

// UnsafeSetLen sets the length to n without running release hooks.
//
// Every element up to n must be initialized. Panics if n exceeds Cap().
func (r *Ring[T]) UnsafeSetLen(n int) {
	if n < 0 || n > r.Cap() {
		panic("vring: length out of range")
	}
	r.n = n
}
