//go:build darwin || dragonfly || freebsd || netbsd || openbsd
// +build darwin dragonfly freebsd netbsd openbsd

package mirror

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func platformGranularity() int {
	return unix.Getpagesize()
}

// mapMirror backs the mirror with an unlinked temporary file. Only the two
// mappings reference it once the file is closed.
func mapMirror(size int) (unsafe.Pointer, error) {
	f, err := os.CreateTemp("", "vring-*")
	if err != nil {
		return nil, &Error{Op: "create backing file", Err: err}
	}
	defer f.Close()

	if err := os.Remove(f.Name()); err != nil {
		return nil, &Error{Op: "unlink backing file", Err: err}
	}
	if err := f.Truncate(int64(size)); err != nil {
		return nil, &Error{Op: "ftruncate", Err: err}
	}

	return mapFixedPair(int(f.Fd()), size, unix.MAP_PRIVATE|unix.MAP_ANON)
}
