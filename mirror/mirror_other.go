//go:build !linux && !windows && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd
// +build !linux,!windows,!darwin,!dragonfly,!freebsd,!netbsd,!openbsd

package mirror

import (
	"os"
	"unsafe"
)

func platformGranularity() int {
	return os.Getpagesize()
}

// mapMirror stub for platforms without a mirroring backend.
// Always returns ErrUnsupported so callers can detect it with errors.Is.
func mapMirror(size int) (unsafe.Pointer, error) {
	return nil, ErrUnsupported
}

func unmapMirror(addr unsafe.Pointer, size int) error {
	return ErrUnsupported
}
