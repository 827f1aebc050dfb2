//go:build !unix && !(windows && (amd64 || arm64))

package shm

import "errors"

func (h *Host) PageSize() uintptr { return 4096 }

func (h *Host) CreateSegment(string, uintptr) (*Segment, error) { return nil, errors.ErrUnsupported }

func (h *Host) DestroySegment(*Segment) error { return errors.ErrUnsupported }

func (h *Host) Reserve(uintptr) (uintptr, error) { return 0, errors.ErrUnsupported }

func (h *Host) Release(uintptr, uintptr) error { return errors.ErrUnsupported }

func (h *Host) Map(*Segment, int64, uintptr, uintptr, Access) error { return errors.ErrUnsupported }

func (h *Host) Unmap(uintptr, uintptr) error { return errors.ErrUnsupported }
