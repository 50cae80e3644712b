package vring

import (
	"errors"
	"io"
	"testing"

	"github.com/xDarkicex/vring/mirror"
)

// requireMirror skips tests on platforms without a mirrored mapping backend.
func requireMirror(tb testing.TB) {
	tb.Helper()
	m, err := mirror.Allocate(1, 1)
	if errors.Is(err, mirror.ErrUnsupported) {
		tb.Skip("mirrored mappings not supported on this platform")
	}
	if err != nil {
		tb.Fatalf("mirror.Allocate failed: %v", err)
	}
	mirror.Free(m)
}

// onlyReader hides io.WriterTo and friends so copies take the buffered path.
type onlyReader struct {
	r io.Reader
}

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// limitedWriter accepts at most n bytes per Write call.
type limitedWriter struct {
	n   int
	got []byte
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	k := min(len(p), w.n)
	w.got = append(w.got, p[:k]...)
	return k, nil
}

// countingAllocator wraps an allocator and records calls.
type countingAllocator struct {
	inner  mirror.Allocator
	allocs int
	frees  int
	fail   bool
}

var errInjected = errors.New("injected allocation failure")

func (a *countingAllocator) Granularity() int { return a.inner.Granularity() }

func (a *countingAllocator) Allocate(count, elemSize int) (mirror.Mapping, error) {
	if a.fail {
		return mirror.Mapping{}, errInjected
	}
	m, err := a.inner.Allocate(count, elemSize)
	if err == nil && !m.IsZero() {
		a.allocs++
	}
	return m, err
}

func (a *countingAllocator) Free(m mirror.Mapping) error {
	if !m.IsZero() {
		a.frees++
	}
	return a.inner.Free(m)
}

// live reports how many mappings are currently held.
func (a *countingAllocator) live() int { return a.allocs - a.frees }
