//go:build unix

package shm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize returns the granularity of addresses, offsets and sizes.
func (h *Host) PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

// CreateSegment allocates a shared-memory object of exactly size bytes and
// maps it once in full.
func (h *Host) CreateSegment(label string, size uintptr) (*Segment, error) {
	if err := checkSegmentSize(size); err != nil {
		return nil, err
	}
	name := segmentName(label)
	fd, err := openSegmentFd(name, size)
	if err != nil {
		return nil, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Segment{
		Label:  name,
		Size:   size,
		Data:   data,
		handle: uintptr(fd),
	}, nil
}

// DestroySegment unmaps the full mapping and closes the object. The pages
// are freed once no other mapping references them.
func (h *Host) DestroySegment(seg *Segment) error {
	if seg == nil {
		return nil
	}
	if seg.Data != nil {
		if err := unix.Munmap(seg.Data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		seg.Data = nil
	}
	if err := unix.Close(int(seg.handle)); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Reserve returns a host-picked range of size bytes with no access and no
// committed memory.
func (h *Host) Reserve(size uintptr) (uintptr, error) {
	p, err := unix.MmapPtr(-1, 0, nil, size, unix.PROT_NONE, reserveFlags)
	if err != nil {
		return 0, fmt.Errorf("mmap reserve: %w", err)
	}
	return uintptr(p), nil
}

// Release frees a reservation.
func (h *Host) Release(addr, size uintptr) error {
	if err := unix.MunmapPtr(pointer(addr), size); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Map places segment bytes [offset, offset+size) at addr. addr must lie in
// a live reservation.
func (h *Host) Map(seg *Segment, offset int64, size, addr uintptr, access Access) error {
	prot := unixProt(access)
	if h.opts.ExplicitPermissions {
		prot = unix.PROT_NONE
	}
	if _, err := unix.MmapPtr(int(seg.handle), offset, pointer(addr), size, prot, unix.MAP_SHARED|unix.MAP_FIXED); err != nil {
		return fmt.Errorf("mmap fixed: %w", err)
	}
	if h.opts.ExplicitPermissions {
		if err := h.protect(addr, size, access); err != nil {
			return errors.Join(err, h.Unmap(addr, size))
		}
	}
	return nil
}

// Unmap drops the mapping at [addr, addr+size) and leaves the range
// reserved so nothing else can claim it.
func (h *Host) Unmap(addr, size uintptr) error {
	if _, err := unix.MmapPtr(-1, 0, pointer(addr), size, unix.PROT_NONE, reserveFlags|unix.MAP_FIXED); err != nil {
		return fmt.Errorf("mmap placeholder: %w", err)
	}
	return nil
}

func (h *Host) protect(addr, size uintptr, access Access) error {
	b := unsafe.Slice((*byte)(pointer(addr)), size)
	if err := unix.Mprotect(b, unixProt(access)); err != nil {
		return fmt.Errorf("mprotect: %w", err)
	}
	return nil
}

func unixProt(a Access) int {
	prot := unix.PROT_NONE
	if a&AccessRead != 0 {
		prot |= unix.PROT_READ
	}
	if a&AccessWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if a&AccessExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// pointer converts a host address outside the Go heap.
func pointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}
