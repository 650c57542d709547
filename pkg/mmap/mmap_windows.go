//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func osMap(f *os.File, size int) ([]byte, error) {
	sz := uint64(size)
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(sz>>32), uint32(sz), nil)
	if err != nil {
		return nil, os.NewSyscallError("CreateFileMapping", err)
	}
	// The view keeps its own reference to the section object.
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		return nil, os.NewSyscallError("MapViewOfFile", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func addrOf(data []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(data)))
}

func osUnmap(data []byte) error {
	return windows.UnmapViewOfFile(addrOf(data))
}

// FlushViewOfFile only starts the write-back; FlushFileBuffers waits for it.
func osSync(f *os.File, data []byte) error {
	if err := windows.FlushViewOfFile(addrOf(data), uintptr(len(data))); err != nil {
		return os.NewSyscallError("FlushViewOfFile", err)
	}
	if f == nil {
		return nil
	}
	if err := windows.FlushFileBuffers(windows.Handle(f.Fd())); err != nil {
		return os.NewSyscallError("FlushFileBuffers", err)
	}
	return nil
}

func osAdvise([]byte, AccessPattern) error {
	return nil
}
