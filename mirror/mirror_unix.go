//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd
// +build linux darwin dragonfly freebsd netbsd openbsd

package mirror

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapFixedPair reserves 2*size bytes with no access, then replaces both halves
// with shared read/write views of fd. The reservation is released if either
// view does not land at its fixed address.
func mapFixedPair(fd, size int, reserveFlags int) (unsafe.Pointer, error) {
	length := uintptr(size)

	base, err := unix.MmapPtr(-1, 0, nil, 2*length, unix.PROT_NONE, reserveFlags)
	if err != nil {
		return nil, &Error{Op: "mmap reserve", Err: err}
	}

	lower, err := unix.MmapPtr(fd, 0, base, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED)
	if err != nil || lower != base {
		unix.MunmapPtr(base, 2*length)
		return nil, &Error{Op: "mmap lower half", Err: fixedErr(err)}
	}

	upperAddr := unsafe.Add(base, size)
	upper, err := unix.MmapPtr(fd, 0, upperAddr, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED)
	if err != nil || upper != upperAddr {
		unix.MunmapPtr(base, 2*length)
		return nil, &Error{Op: "mmap upper half", Err: fixedErr(err)}
	}

	return base, nil
}

func unmapMirror(addr unsafe.Pointer, size int) error {
	if err := unix.MunmapPtr(addr, 2*uintptr(size)); err != nil {
		return &Error{Op: "munmap", Err: err}
	}
	return nil
}

// fixedErr reports a fixed mapping that succeeded at the wrong address.
func fixedErr(err error) error {
	if err != nil {
		return err
	}
	return unix.EADDRINUSE
}
