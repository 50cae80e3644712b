//go:build windows
// +build windows

package mirror

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapRetries bounds the reserve/map race: the reservation has to be released
// before the views can be placed, so another thread may take the address.
const mapRetries = 10

var (
	kernel32            = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemInfo   = kernel32.NewProc("GetSystemInfo")
	procMapViewOfFileEx = kernel32.NewProc("MapViewOfFileEx")
)

// systemInfo mirrors SYSTEM_INFO.
type systemInfo struct {
	processorArchitecture     uint16
	reserved                  uint16
	pageSize                  uint32
	minimumApplicationAddress uintptr
	maximumApplicationAddress uintptr
	activeProcessorMask       uintptr
	numberOfProcessors        uint32
	processorType             uint32
	allocationGranularity     uint32
	processorLevel            uint16
	processorRevision         uint16
}

func platformGranularity() int {
	var si systemInfo
	procGetSystemInfo.Call(uintptr(unsafe.Pointer(&si)))
	return int(si.allocationGranularity)
}

func mapViewOfFileEx(mapping windows.Handle, size, at uintptr) uintptr {
	addr, _, _ := procMapViewOfFileEx.Call(
		uintptr(mapping),
		windows.FILE_MAP_READ|windows.FILE_MAP_WRITE,
		0,
		0,
		size,
		at,
	)
	return addr
}

func mapMirror(size int) (unsafe.Pointer, error) {
	length := uintptr(size)
	high := uint32(uint64(size) >> 32)
	low := uint32(uint64(size) & 0xffffffff)

	mapping, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, high, low, nil)
	if err != nil {
		return nil, &Error{Op: "CreateFileMapping", Err: err}
	}
	// Mapped views hold their own reference to the section.
	defer windows.CloseHandle(mapping)

	for range mapRetries {
		base, err := windows.VirtualAlloc(0, 2*length, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
		if err != nil {
			return nil, &Error{Op: "VirtualAlloc", Err: err}
		}
		windows.VirtualFree(base, 0, windows.MEM_RELEASE)

		lower := mapViewOfFileEx(mapping, length, base)
		upper := mapViewOfFileEx(mapping, length, base+length)
		if lower == base && upper == base+length {
			return unsafe.Pointer(base), nil
		}

		if lower != 0 {
			windows.UnmapViewOfFile(lower)
		}
		if upper != 0 {
			windows.UnmapViewOfFile(upper)
		}
	}

	return nil, &Error{Op: "MapViewOfFileEx", Err: windows.ERROR_INVALID_ADDRESS}
}

func unmapMirror(addr unsafe.Pointer, size int) error {
	base := uintptr(addr)
	lowerErr := windows.UnmapViewOfFile(base)
	upperErr := windows.UnmapViewOfFile(base + uintptr(size))
	if lowerErr != nil {
		return &Error{Op: "UnmapViewOfFile", Err: lowerErr}
	}
	if upperErr != nil {
		return &Error{Op: "UnmapViewOfFile", Err: upperErr}
	}
	return nil
}
