package arena

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srediag/memarena/internal/shm"
)

// simBackend hands out synthetic addresses and records reservations and
// mappings, so bookkeeping can be checked without touching host memory.
type simBackend struct {
	mu           sync.Mutex
	page         uintptr
	next         uintptr
	reservations map[uintptr]uintptr
	mapped       map[uintptr]uintptr

	failReserve error
	failMap     error
	failRelease error
	failUnmap   error
	unmapCalls  int
}

func newSimBackend() *simBackend {
	return &simBackend{
		page:         0x1000,
		next:         0x10000000,
		reservations: make(map[uintptr]uintptr),
		mapped:       make(map[uintptr]uintptr),
	}
}

func (b *simBackend) PageSize() uintptr { return b.page }

func (b *simBackend) CreateSegment(label string, size uintptr) (*shm.Segment, error) {
	if size == 0 {
		return nil, shm.ErrInvalidSize
	}
	return &shm.Segment{Label: label, Size: size, Data: make([]byte, size)}, nil
}

func (b *simBackend) DestroySegment(seg *shm.Segment) error {
	seg.Data = nil
	return nil
}

func (b *simBackend) Reserve(size uintptr) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReserve != nil {
		return 0, b.failReserve
	}
	addr := b.next
	b.next += size + b.page
	b.reservations[addr] = size
	return addr, nil
}

func (b *simBackend) Release(addr, size uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failRelease != nil {
		return b.failRelease
	}
	if got, ok := b.reservations[addr]; !ok || got != size {
		return fmt.Errorf("release of unknown reservation %#x+%#x", addr, size)
	}
	for m, n := range b.mapped {
		if m >= addr && m+n <= addr+size {
			return fmt.Errorf("release of %#x with live mapping %#x", addr, m)
		}
	}
	delete(b.reservations, addr)
	return nil
}

func (b *simBackend) Map(seg *shm.Segment, offset int64, size, addr uintptr, access shm.Access) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failMap != nil {
		return b.failMap
	}
	if !b.reservedLocked(addr, size) {
		return fmt.Errorf("map %#x+%#x outside any reservation", addr, size)
	}
	if uint64(offset)+uint64(size) > uint64(seg.Size) {
		return errors.New("map beyond segment")
	}
	b.mapped[addr] = size
	return nil
}

func (b *simBackend) Unmap(addr, size uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unmapCalls++
	if b.failUnmap != nil {
		return b.failUnmap
	}
	delete(b.mapped, addr)
	return nil
}

func (b *simBackend) reservedLocked(addr, size uintptr) bool {
	for base, n := range b.reservations {
		if addr >= base && addr+size <= base+n {
			return true
		}
	}
	return false
}

func (b *simBackend) liveReservations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reservations)
}

func (b *simBackend) liveMappings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mapped)
}
