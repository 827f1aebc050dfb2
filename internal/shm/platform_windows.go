//go:build windows && (amd64 || arm64)

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Placeholder flags of VirtualAlloc2, VirtualFree and MapViewOfFile3
// (Windows 10 1803 and later).
const (
	memReservePlaceholder   = 0x00040000
	memReplacePlaceholder   = 0x00004000
	memPreservePlaceholder  = 0x00000002
	memCoalescePlaceholders = 0x00000001

	allocationGranularity = 64 << 10
)

var (
	modkernelbase = windows.NewLazySystemDLL("kernelbase.dll")

	procVirtualAlloc2    = modkernelbase.NewProc("VirtualAlloc2")
	procMapViewOfFile3   = modkernelbase.NewProc("MapViewOfFile3")
	procUnmapViewOfFile2 = modkernelbase.NewProc("UnmapViewOfFile2")
)

// PageSize returns the allocation granularity, which bounds view
// addresses and file offsets on this host.
func (h *Host) PageSize() uintptr {
	return allocationGranularity
}

// CreateSegment allocates a pagefile-backed section of size bytes and maps
// it once in full.
func (h *Host) CreateSegment(label string, size uintptr) (*Segment, error) {
	if err := checkSegmentSize(size); err != nil {
		return nil, err
	}
	for _, p := range []*windows.LazyProc{procVirtualAlloc2, procMapViewOfFile3, procUnmapViewOfFile2} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("placeholder API unavailable: %w", err)
		}
	}
	sz := uint64(size)
	handle, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, uint32(sz>>32), uint32(sz), nil)
	if err != nil {
		return nil, fmt.Errorf("CreateFileMapping: %w", err)
	}
	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, size)
	if err != nil {
		_ = windows.CloseHandle(handle)
		return nil, fmt.Errorf("MapViewOfFile: %w", err)
	}
	return &Segment{
		Label:  segmentName(label),
		Size:   size,
		Data:   unsafe.Slice((*byte)(unsafe.Pointer(addr)), size),
		handle: uintptr(handle),
	}, nil
}

// DestroySegment unmaps the full view and closes the section handle.
func (h *Host) DestroySegment(seg *Segment) error {
	if seg == nil {
		return nil
	}
	if seg.Data != nil {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&seg.Data[0]))); err != nil {
			return fmt.Errorf("UnmapViewOfFile: %w", err)
		}
		seg.Data = nil
	}
	if err := windows.CloseHandle(windows.Handle(seg.handle)); err != nil {
		return fmt.Errorf("CloseHandle: %w", err)
	}
	return nil
}

// Reserve returns a host-picked placeholder of size bytes.
func (h *Host) Reserve(size uintptr) (uintptr, error) {
	r, _, e := procVirtualAlloc2.Call(
		uintptr(windows.CurrentProcess()), 0, size,
		windows.MEM_RESERVE|memReservePlaceholder, windows.PAGE_NOACCESS, 0, 0)
	if r == 0 {
		return 0, fmt.Errorf("VirtualAlloc2: %w", e)
	}
	return r, nil
}

// Release frees a reservation. Placeholders split by Map are coalesced
// first so a single VirtualFree covers the range.
func (h *Host) Release(addr, size uintptr) error {
	_ = windows.VirtualFree(addr, size, windows.MEM_RELEASE|memCoalescePlaceholders)
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree: %w", err)
	}
	return nil
}

// Map replaces the placeholder at [addr, addr+size) with a view of the
// section.
func (h *Host) Map(seg *Segment, offset int64, size, addr uintptr, access Access) error {
	// Split fails when the range already is a whole placeholder, which is
	// what MapViewOfFile3 needs anyway.
	_ = windows.VirtualFree(addr, size, windows.MEM_RELEASE|memPreservePlaceholder)

	prot := windowsProtect(access)
	if h.opts.ExplicitPermissions {
		prot = windows.PAGE_NOACCESS
	}
	r, _, e := procMapViewOfFile3.Call(
		seg.handle, uintptr(windows.CurrentProcess()), addr, uintptr(offset), size,
		memReplacePlaceholder, uintptr(prot), 0, 0)
	if r == 0 {
		return fmt.Errorf("MapViewOfFile3: %w", e)
	}
	if h.opts.ExplicitPermissions {
		if err := h.protect(addr, size, access); err != nil {
			_ = h.Unmap(addr, size)
			return err
		}
	}
	return nil
}

// Unmap removes the view and keeps its range as a placeholder.
func (h *Host) Unmap(addr, size uintptr) error {
	r, _, e := procUnmapViewOfFile2.Call(uintptr(windows.CurrentProcess()), addr, memPreservePlaceholder)
	if r == 0 {
		return fmt.Errorf("UnmapViewOfFile2: %w", e)
	}
	return nil
}

func (h *Host) protect(addr, size uintptr, access Access) error {
	var old uint32
	if err := windows.VirtualProtect(addr, size, windowsProtect(access), &old); err != nil {
		return fmt.Errorf("VirtualProtect: %w", err)
	}
	return nil
}

func windowsProtect(a Access) uint32 {
	switch {
	case a&AccessExec != 0 && a&AccessWrite != 0:
		return windows.PAGE_EXECUTE_READWRITE
	case a&AccessExec != 0 && a&AccessRead != 0:
		return windows.PAGE_EXECUTE_READ
	case a&AccessExec != 0:
		return windows.PAGE_EXECUTE
	case a&AccessWrite != 0:
		return windows.PAGE_READWRITE
	case a&AccessRead != 0:
		return windows.PAGE_READONLY
	}
	return windows.PAGE_NOACCESS
}
