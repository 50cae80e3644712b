// Package vring provides growable circular buffers whose contents are always
// one contiguous slice.
//
// A Ring stores its elements in a mirrored mapping (see package mirror): the
// same storage appears twice, back to back, in the address space. The logical
// window of the ring may start anywhere in the lower half and run past its end
// into the mirror, so Slice() never has to stitch two pieces together and
// pushes never branch on wraparound.
//
// Key features:
//   - Zero-copy contiguous views of the whole ring (Slice, Buffer.Bytes)
//   - FIFO push/pop with O(1) cost and no modular arithmetic per access
//   - Growth by relocation into a larger mapping; capacity never shrinks
//   - Spare capacity exposed for direct fills (Spare, UnsafeAddLen)
//   - Byte Buffer with io.Reader/io.Writer support and pooled instances
//
// Element types:
//
//	Ring memory lives outside the Go heap and is not scanned by the garbage
//	collector. Element types must therefore be free of Go pointers: no
//	pointers, slices, strings, maps, channels, funcs or interfaces, directly
//	or inside structs and arrays. New panics for such types and for
//	zero-sized types.
//
// Thread Safety:
//
//	Ring and Buffer are NOT safe for concurrent use. Use external
//	synchronization. The Buffer pool is thread-safe.
//
// Lifetime:
//
//	Call Close to run release hooks and unmap the storage. Close is the only
//	way a mapping is freed: views returned by Slice, Spare or Buffer.Bytes
//	point outside the Go heap and do not keep their ring reachable, so the
//	storage is never unmapped behind them. A ring dropped without Close leaks
//	its mapping.
package vring

import (
	"fmt"
	"iter"
	"math"
	"reflect"
	"unsafe"

	"github.com/xDarkicex/vring/mirror"
)

// Ring is a growable FIFO of T backed by a mirrored mapping.
//
// The zero value is not usable; construct rings with New, NewWithCapacity or
// From.
type Ring[T any] struct {
	m       mirror.Mapping
	base    int // byte offset of the front element, always < m.Len() once allocated
	n       int // live elements
	size    int // bytes per element
	alloc   mirror.Allocator
	release func(*T)
}

// Option configures a Ring at construction.
type Option[T any] func(*Ring[T])

// WithAllocator makes the ring obtain its mappings from a instead of
// mirror.System.
func WithAllocator[T any](a mirror.Allocator) Option[T] {
	return func(r *Ring[T]) {
		r.alloc = a
	}
}

// WithRelease registers fn to run on every element the ring discards without
// handing it to the caller: Discard, Truncate, Clear, Resize when shrinking,
// and Close. Pop and Drain transfer elements to the caller and do not call
// fn. Growth relocates elements and never calls fn.
func WithRelease[T any](fn func(*T)) Option[T] {
	return func(r *Ring[T]) {
		r.release = fn
	}
}

// New returns an empty ring. It does not allocate until elements are added.
func New[T any](opts ...Option[T]) *Ring[T] {
	r := &Ring[T]{
		size:  elemSize[T](),
		alloc: mirror.System,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWithCapacity returns an empty ring with room for at least n elements.
// The capacity is rounded up to the allocation granularity; n == 0 does not
// allocate.
//
// Panics if the mapping cannot be allocated.
func NewWithCapacity[T any](n int, opts ...Option[T]) *Ring[T] {
	r := New(opts...)
	if n > 0 {
		r.Reserve(n)
	}
	return r
}

// From returns a ring holding a copy of vs.
func From[T any](vs []T, opts ...Option[T]) *Ring[T] {
	r := NewWithCapacity(len(vs), opts...)
	r.Append(vs...)
	return r
}

// elemSize validates T for storage outside the Go heap and returns its size.
func elemSize[T any]() int {
	t := reflect.TypeFor[T]()
	if t.Size() == 0 {
		panic("vring: zero-sized element type " + t.String())
	}
	if hasPointers(t) {
		panic("vring: element type " + t.String() + " contains Go pointers")
	}
	return int(t.Size())
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// at returns the element at byte offset off from the start of the mapping.
// Offsets up to 2*m.Len() are valid thanks to the mirror.
func (r *Ring[T]) at(off int) *T {
	return (*T)(unsafe.Add(r.m.Pointer(), off))
}

// advance moves the front forward by k elements and folds base back into the
// lower half.
func (r *Ring[T]) advance(k int) {
	r.base += k * r.size
	if r.base >= r.m.Len() {
		r.base -= r.m.Len()
	}
}

// Cap returns the number of elements the ring can hold without growing.
func (r *Ring[T]) Cap() int {
	return r.m.Len() / r.size
}

// Len returns the number of elements in the ring.
func (r *Ring[T]) Len() int {
	return r.n
}

// IsEmpty reports whether the ring holds no elements.
func (r *Ring[T]) IsEmpty() bool {
	return r.n == 0
}

// Slice returns the elements front to back as one contiguous slice. Writes
// through the slice modify the ring.
//
// The slice is invalidated by any call that adds or removes elements, and by
// Close.
func (r *Ring[T]) Slice() []T {
	if r.m.IsZero() {
		return nil
	}
	return unsafe.Slice(r.at(r.base), r.n)
}

// Push appends v at the back, growing the ring if it is full.
//
// Panics if growth fails.
func (r *Ring[T]) Push(v T) {
	r.Reserve(1)
	*r.at(r.base + r.n*r.size) = v
	r.n++
}

// Pop removes and returns the front element. It returns false if the ring is
// empty.
func (r *Ring[T]) Pop() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	v := *r.at(r.base)
	r.n--
	r.advance(1)
	return v, true
}

// Discard removes up to n elements from the front, running the release hook
// on each, and returns how many were removed.
func (r *Ring[T]) Discard(n int) int {
	n = min(n, r.n)
	if n <= 0 {
		return 0
	}
	removed := unsafe.Slice(r.at(r.base), n)
	r.n -= n
	r.advance(n)
	r.releaseAll(removed)
	return n
}

// Append copies vs to the back of the ring.
//
// Panics if growth fails.
func (r *Ring[T]) Append(vs ...T) {
	if len(vs) == 0 {
		return
	}
	r.Reserve(len(vs))
	copy(r.Spare(), vs)
	r.n += len(vs)
}

// Extend pushes every value produced by seq.
func (r *Ring[T]) Extend(seq iter.Seq[T]) {
	for v := range seq {
		r.Push(v)
	}
}

// Drain returns an iterator that pops elements from the front until the ring
// is empty or the loop stops.
func (r *Ring[T]) Drain() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := r.Pop()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Truncate keeps the first n elements and releases the rest. It has no effect
// if n >= Len(). Capacity is unchanged.
func (r *Ring[T]) Truncate(n int) {
	if n < 0 {
		panic("vring: truncation out of range")
	}
	if n >= r.n {
		return
	}
	tail := unsafe.Slice(r.at(r.base+n*r.size), r.n-n)
	r.n = n
	r.releaseAll(tail)
}

// Clear releases every element. Capacity is unchanged.
func (r *Ring[T]) Clear() {
	r.Truncate(0)
}

// Resize changes the length to n, filling new slots with v.
//
// Panics if growth fails.
func (r *Ring[T]) Resize(n int, v T) {
	r.ResizeFunc(n, func() T { return v })
}

// ResizeFunc changes the length to n. When growing, f is called once per new
// slot, in order; when shrinking it behaves like Truncate.
//
// Panics if growth fails.
func (r *Ring[T]) ResizeFunc(n int, f func() T) {
	if n <= r.n {
		r.Truncate(n)
		return
	}
	additional := n - r.n
	r.Reserve(additional)
	spare := r.Spare()[:additional]
	for i := range spare {
		spare[i] = f()
	}
	r.n = n
}

// Reserve ensures room for at least additional more elements without growing.
// It does nothing when the spare capacity already suffices.
//
// Panics if growth fails; use TryReserve to handle the error instead.
func (r *Ring[T]) Reserve(additional int) {
	if err := r.TryReserve(additional); err != nil {
		panic(err)
	}
}

// TryReserve is Reserve returning the allocation error. On error the ring is
// unchanged.
func (r *Ring[T]) TryReserve(additional int) error {
	if additional < 0 {
		return fmt.Errorf("%w: negative reservation %d", mirror.ErrInvalidCapacity, additional)
	}
	if additional <= r.Cap()-r.n {
		return nil
	}
	return r.grow(additional)
}

// grow relocates the ring into a new mapping sized for Len()+additional
// elements. Moved elements are not released.
func (r *Ring[T]) grow(additional int) error {
	if additional > math.MaxInt-r.n {
		return fmt.Errorf("%w: %#x more than %d elements", mirror.ErrInvalidCapacity, additional, r.n)
	}
	m, err := r.alloc.Allocate(r.n+additional, r.size)
	if err != nil {
		return fmt.Errorf("vring: grow to %d elements: %w", r.n+additional, err)
	}

	if used := r.n * r.size; used > 0 {
		copy(m.Bytes()[:used], r.m.Bytes()[r.base:r.base+used])
	}

	old := r.m
	r.setMapping(m)
	// The ring already lives in m; a failed unmap of old cannot be undone.
	_ = r.alloc.Free(old)
	return nil
}

// Close releases every element and unmaps the storage. The ring is left
// empty and unallocated and may be reused. Closing an empty ring is a no-op.
func (r *Ring[T]) Close() error {
	live := r.Slice()
	r.n = 0
	r.releaseAll(live)

	old := r.m
	r.setMapping(mirror.Mapping{})
	return r.alloc.Free(old)
}

// Take moves the contents and storage of r into a new ring and leaves r
// empty and unallocated.
func (r *Ring[T]) Take() *Ring[T] {
	t := &Ring[T]{size: r.size, alloc: r.alloc, release: r.release}
	m, base, n := r.m, r.base, r.n

	r.n = 0
	r.setMapping(mirror.Mapping{})

	t.setMapping(m)
	t.base, t.n = base, n
	return t
}

// Clone returns an independent copy of r with its own mapping.
//
// Panics if allocation fails.
func (r *Ring[T]) Clone() *Ring[T] {
	c := &Ring[T]{size: r.size, alloc: r.alloc, release: r.release}
	c.Append(r.Slice()...)
	return c
}

// setMapping installs m with base 0.
func (r *Ring[T]) setMapping(m mirror.Mapping) {
	r.m = m
	r.base = 0
}

func (r *Ring[T]) releaseAll(s []T) {
	if r.release == nil {
		return
	}
	for i := range s {
		r.release(&s[i])
	}
}
