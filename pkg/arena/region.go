package arena

import "fmt"

// ReserveHomeRegion reserves size bytes at a host-picked address without
// committing memory. Only one home region may be active; fixed maps are
// carved into it with MapFixed.
func (a *Arena) ReserveHomeRegion(size uintptr) (base uintptr, err error) {
	const op = "ReserveHomeRegion"
	span := a.tel.start(op, attrSize(size))
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.home != nil {
		return 0, a.violation(op, fmt.Errorf("%w at %s", ErrHomeRegionActive, hexAddr(a.home.base)))
	}
	if size == 0 {
		return 0, a.violation(op, ErrInvalidSize)
	}
	if size%a.pageSize != 0 {
		return 0, a.violation(op, fmt.Errorf("%w: size %#x page %#x", ErrUnaligned, size, a.pageSize))
	}

	base, err = a.backend.Reserve(size)
	if err != nil {
		internalLogger.warnf("arena %s: reserve home region %#x failed: %v", a.id, size, err)
		return 0, &OpError{Op: "reserve", Size: size, Err: err}
	}
	a.home = &homeRegion{base: base, size: size}
	internalLogger.infof("arena %s: home region %s size %#x", a.id, hexAddr(base), size)
	return base, nil
}

// ReleaseHomeRegion frees the home region. Every fixed map must have been
// unmapped first.
func (a *Arena) ReleaseHomeRegion() (err error) {
	const op = "ReleaseHomeRegion"
	span := a.tel.start(op)
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.home == nil {
		return a.violation(op, ErrNoHomeRegion)
	}
	if n := a.maps.count(); n > 0 {
		return a.violation(op, fmt.Errorf("%w: %d maps", ErrBusy, n))
	}
	if err := a.backend.Release(a.home.base, a.home.size); err != nil {
		return &OpError{Op: "release home region", Addr: a.home.base, Size: a.home.size, Err: err}
	}
	internalLogger.infof("arena %s: home region %s released", a.id, hexAddr(a.home.base))
	a.home = nil
	return nil
}

// HomeRegion returns the active home region, if any.
func (a *Arena) HomeRegion() (base, size uintptr, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.home == nil {
		return 0, 0, false
	}
	return a.home.base, a.home.size, true
}

// MapFixed maps backing bytes [offset, offset+size) at exactly addr. The
// range must lie inside the home region and must not overlap a live map;
// otherwise the call fails and maps nothing.
func (a *Arena) MapFixed(offset int64, size uintptr, addr uintptr) (_ uintptr, err error) {
	const op = "MapFixed"
	span := a.tel.start(op, attrOffset(offset), attrSize(size), attrAddr(addr))
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return 0, a.violation(op, ErrNotAllocated)
	}
	if a.home == nil {
		return 0, a.violation(op, ErrNoHomeRegion)
	}
	if err := a.checkRange(offset, size); err != nil {
		return 0, a.violation(op, err)
	}
	if addr%a.pageSize != 0 {
		return 0, a.violation(op, fmt.Errorf("%w: addr %s", ErrUnaligned, hexAddr(addr)))
	}
	if !a.home.contains(addr, size) {
		return 0, a.violation(op, fmt.Errorf("%w: [%s, +%#x) home [%s, +%#x)",
			ErrOutOfRegion, hexAddr(addr), size, hexAddr(a.home.base), a.home.size))
	}
	if a.maps.overlaps(addr, size) {
		return 0, a.violation(op, fmt.Errorf("%w: [%s, +%#x)", ErrOverlap, hexAddr(addr), size))
	}

	if err := a.backend.Map(a.store, offset, size, addr, AccessReadWrite); err != nil {
		mapErr := &OpError{Op: "map fixed", Addr: addr, Size: size, Err: err}
		internalLogger.warnf("arena %s: %v", a.id, mapErr)
		// A failed fixed mapping may have dropped the placeholder; put it back.
		if rerr := a.backend.Unmap(addr, size); rerr != nil {
			internalLogger.errorf("arena %s: restore placeholder at %s failed: %v", a.id, hexAddr(addr), rerr)
		}
		return 0, mapErr
	}

	a.maps.put(Mapping{Addr: addr, Offset: offset, Size: size})
	a.tel.addMapped(int64(size))
	internalLogger.debugf("arena %s: map %s -> [%#x, +%#x)", a.id, hexAddr(addr), offset, size)
	return addr, nil
}

// UnmapFixed removes the fixed map at addr. The range stays reserved as part
// of the home region. Unknown addresses are rejected and leave the tables
// untouched.
func (a *Arena) UnmapFixed(addr uintptr, size uintptr) (err error) {
	const op = "UnmapFixed"
	span := a.tel.start(op, attrAddr(addr), attrSize(size))
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.maps.get(addr)
	if !ok {
		return a.violation(op, fmt.Errorf("%w: map %s", ErrNotFound, hexAddr(addr)))
	}
	if size != m.Size {
		return a.violation(op, fmt.Errorf("%w: map %s has size %#x, got %#x", ErrSizeMismatch, hexAddr(addr), m.Size, size))
	}
	if err := a.backend.Unmap(m.Addr, m.Size); err != nil {
		return &OpError{Op: "unmap fixed", Addr: m.Addr, Size: m.Size, Err: err}
	}

	a.maps.remove(m)
	a.tel.addMapped(-int64(m.Size))
	internalLogger.debugf("arena %s: map %s removed", a.id, hexAddr(m.Addr))
	return nil
}

// LookupMap returns the record of the live fixed map at addr. It does not
// take the arena lock.
func (a *Arena) LookupMap(addr uintptr) (Mapping, bool) {
	return a.maps.get(addr)
}
