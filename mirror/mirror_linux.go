//go:build linux
// +build linux

package mirror

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func platformGranularity() int {
	return unix.Getpagesize()
}

// mapMirror backs the mirror with a memfd. The descriptor is closed once both
// views exist; the mappings keep the object alive.
func mapMirror(size int) (unsafe.Pointer, error) {
	fd, err := unix.MemfdCreate("vring", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, &Error{Op: "memfd_create", Err: err}
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, &Error{Op: "ftruncate", Err: err}
	}

	return mapFixedPair(fd, size, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}
