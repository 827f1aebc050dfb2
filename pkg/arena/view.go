package arena

import (
	"errors"
	"fmt"
)

// CreateView maps backing bytes [offset, offset+size) read/write at a
// host-picked address and returns it. The view owns a reservation of its
// own. If mapping fails the reservation is released before returning, so
// a failed call leaves nothing behind.
func (a *Arena) CreateView(offset int64, size uintptr) (addr uintptr, err error) {
	const op = "CreateView"
	span := a.tel.start(op, attrOffset(offset), attrSize(size))
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return 0, a.violation(op, ErrNotAllocated)
	}
	if err := a.checkRange(offset, size); err != nil {
		return 0, a.violation(op, err)
	}

	addr, err = a.backend.Reserve(size)
	if err != nil {
		internalLogger.warnf("arena %s: reserve %#x for view failed: %v", a.id, size, err)
		return 0, &OpError{Op: "reserve", Size: size, Err: err}
	}
	internalLogger.tracef("arena %s: reserved view range %s size %#x", a.id, hexAddr(addr), size)

	if err := a.backend.Map(a.store, offset, size, addr, AccessReadWrite); err != nil {
		mapErr := &OpError{Op: "map view", Addr: addr, Size: size, Err: err}
		internalLogger.warnf("arena %s: %v", a.id, mapErr)
		if rerr := a.backend.Release(addr, size); rerr != nil {
			return 0, errors.Join(mapErr, &OpError{Op: "release reservation", Addr: addr, Size: size, Err: rerr})
		}
		return 0, mapErr
	}

	a.views.put(View{Addr: addr, Offset: offset, Size: size})
	a.tel.addMapped(int64(size))
	internalLogger.debugf("arena %s: view %s -> [%#x, +%#x)", a.id, hexAddr(addr), offset, size)
	return addr, nil
}

// ReleaseView unmaps the view at addr and releases its reservation. size
// must equal the size the view was created with; the recorded size is the
// one handed to the host. Unknown addresses are rejected and leave the
// tables untouched.
func (a *Arena) ReleaseView(addr uintptr, size uintptr) (err error) {
	const op = "ReleaseView"
	span := a.tel.start(op, attrAddr(addr), attrSize(size))
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.views.get(addr)
	if !ok {
		return a.violation(op, fmt.Errorf("%w: view %s", ErrNotFound, hexAddr(addr)))
	}
	if size != v.Size {
		return a.violation(op, fmt.Errorf("%w: view %s has size %#x, got %#x", ErrSizeMismatch, hexAddr(addr), v.Size, size))
	}

	if err := a.backend.Unmap(v.Addr, v.Size); err != nil {
		return &OpError{Op: "unmap view", Addr: v.Addr, Size: v.Size, Err: err}
	}
	// From here the range holds no backing pages. A failed release keeps
	// the record so the call can be retried.
	if err := a.backend.Release(v.Addr, v.Size); err != nil {
		return &OpError{Op: "release reservation", Addr: v.Addr, Size: v.Size, Err: err}
	}

	a.views.remove(v.Addr)
	a.tel.addMapped(-int64(v.Size))
	internalLogger.debugf("arena %s: view %s released", a.id, hexAddr(v.Addr))
	return nil
}

// LookupView returns the record of the live view at addr. It does not take
// the arena lock.
func (a *Arena) LookupView(addr uintptr) (View, bool) {
	return a.views.get(addr)
}
