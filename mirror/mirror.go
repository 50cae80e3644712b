// Package mirror allocates mirrored virtual memory: one backing object mapped
// twice, back to back, into a single address reservation. A write at offset k
// of the lower half is visible at offset k+Len() of the upper half and vice
// versa, so any window of up to Len() bytes starting in the lower half can be
// addressed as one flat slice.
//
// Backends:
//   - Linux: memfd_create + two MAP_FIXED|MAP_SHARED mappings
//   - Darwin, BSD: unlinked temporary file + two MAP_FIXED|MAP_SHARED mappings
//   - Windows: pagefile-backed file mapping + two MapViewOfFileEx views
//   - Anything else: Allocate fails with ErrUnsupported
//
// Capacity rounding and validation are shared by every backend.
//
// Mappings live outside the Go heap. The garbage collector does not scan them,
// so they must never hold Go pointers.
package mirror

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"
)

var (
	// ErrInvalidCapacity is returned when a requested capacity overflows or
	// would need more than half of the addressable space.
	ErrInvalidCapacity = errors.New("mirror: invalid capacity")

	// ErrUnsupported is returned by Allocate on platforms without a backend.
	ErrUnsupported = fmt.Errorf("mirror: %w", errors.ErrUnsupported)
)

// maxCapacity bounds the size of one half. Twice this must stay addressable.
const maxCapacity = math.MaxInt / 2

// Error records a failed operating system call.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mirror: " + e.Op + ": " + e.Err.Error()
	}
	return "mirror: " + e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Mapping is a mirrored reservation of 2*Len() bytes. The zero Mapping is the
// never-allocated sentinel; freeing it is a no-op.
type Mapping struct {
	addr unsafe.Pointer
	size int
}

// Len returns the size in bytes of one half.
func (m Mapping) Len() int { return m.size }

// IsZero reports whether m is the sentinel with no backing storage.
func (m Mapping) IsZero() bool { return m.size == 0 }

// Pointer returns the start of the lower half, or nil for the zero Mapping.
func (m Mapping) Pointer() unsafe.Pointer { return m.addr }

// Bytes returns both halves as one slice of length 2*Len().
//
// The slice is only valid until the mapping is freed.
func (m Mapping) Bytes() []byte {
	if m.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(m.addr), 2*m.size)
}

// Allocator is the capability every platform backend provides.
type Allocator interface {
	// Granularity returns the host's virtual memory allocation unit.
	Granularity() int
	// Allocate reserves a mirrored mapping with room for at least count
	// elements of elemSize bytes. A zero count yields the zero Mapping.
	Allocate(count, elemSize int) (Mapping, error)
	// Free releases a mapping returned by Allocate. It must be called exactly
	// once per mapping.
	Free(m Mapping) error
}

// System is the allocator for the platform the binary was built for.
var System Allocator = system{}

type system struct{}

func (system) Granularity() int                              { return Granularity() }
func (system) Allocate(count, elemSize int) (Mapping, error) { return Allocate(count, elemSize) }
func (system) Free(m Mapping) error                          { return Free(m) }

var granularity = sync.OnceValue(platformGranularity)

// Granularity returns the host's virtual memory allocation unit: the page size
// on Unix, the allocation granularity on Windows. It is computed once.
func Granularity() int {
	return granularity()
}

// RoundCapacity returns count*elemSize rounded up to a multiple of the
// granularity. An exact multiple is returned unchanged.
func RoundCapacity(count, elemSize int) (int, error) {
	return roundCapacity(count, elemSize, Granularity())
}

func roundCapacity(count, elemSize, g int) (int, error) {
	if count < 0 || elemSize <= 0 {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", ErrInvalidCapacity, count, elemSize)
	}
	if count > math.MaxInt/elemSize {
		return 0, fmt.Errorf("%w: %#x elements of %d bytes overflows", ErrInvalidCapacity, count, elemSize)
	}
	raw := count * elemSize
	if raw == 0 {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidCapacity, raw)
	}
	if raw > maxCapacity {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidCapacity, raw)
	}
	rounded := ((raw - 1) &^ (g - 1)) + g
	if rounded <= 0 || rounded >= maxCapacity {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidCapacity, rounded)
	}
	return rounded, nil
}

// Allocate reserves a mirrored mapping large enough for count elements of
// elemSize bytes. The half size is rounded up to the granularity.
//
// A zero count returns the zero Mapping without touching the OS. On failure no
// address space is left reserved.
func Allocate(count, elemSize int) (Mapping, error) {
	if count == 0 {
		return Mapping{}, nil
	}
	size, err := RoundCapacity(count, elemSize)
	if err != nil {
		return Mapping{}, err
	}
	addr, err := mapMirror(size)
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{addr: addr, size: size}, nil
}

// Free releases both halves of m. Freeing the zero Mapping does nothing.
func Free(m Mapping) error {
	if m.size == 0 {
		return nil
	}
	return unmapMirror(m.addr, m.size)
}
