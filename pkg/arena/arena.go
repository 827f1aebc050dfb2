package arena

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/srediag/memarena/api"
	"github.com/srediag/memarena/internal/shm"
)

var _ api.MemArena = (*Arena)(nil)

// Arena gives a guest one shared-memory backing store and the views and
// fixed maps that alias it.
//
// Administrative calls are serialized by an internal lock. LookupView and
// LookupMap may run concurrently with them.
type Arena struct {
	id       string
	cfg      Config
	backend  Backend
	pageSize uintptr
	tel      *telemetry

	mu    sync.Mutex
	store *shm.Segment
	home  *homeRegion
	views viewTable
	maps  mapTable

	violations atomic.Uint64
}

type homeRegion struct {
	base uintptr
	size uintptr
}

func (h *homeRegion) contains(addr, size uintptr) bool {
	return addr >= h.base && size <= h.size && addr-h.base <= h.size-size
}

// Stats is a point-in-time snapshot of arena bookkeeping.
type Stats struct {
	BackingBytes       uint64
	Views              int
	ViewBytes          uint64
	Maps               int
	MapBytes           uint64
	HomeBase           uintptr
	HomeBytes          uint64
	ContractViolations uint64
}

// New creates an arena. A nil config means DefaultConfig().
func New(config *Config) (*Arena, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	tel, err := newTelemetry(config.Tracer, config.Meter)
	if err != nil {
		return nil, fmt.Errorf("memarena: telemetry: %w", err)
	}
	backend := config.Backend
	if backend == nil {
		backend = shm.NewHost(shm.Options{ExplicitPermissions: config.ExplicitPermissions})
	}
	a := &Arena{
		id:       uuid.NewString(),
		cfg:      *config,
		backend:  backend,
		pageSize: backend.PageSize(),
		tel:      tel,
		views:    newViewTable(),
		maps:     newMapTable(),
	}
	internalLogger.debugf("arena %s created, page size %#x", a.id, a.pageSize)
	return a, nil
}

// ID identifies the arena in logs and metrics.
func (a *Arena) ID() string { return a.id }

// PageSize is the granularity every offset, address and size must respect.
func (a *Arena) PageSize() uintptr { return a.pageSize }

// Allocate creates the backing store of exactly size bytes. It fails
// with a recoverable error for a zero size or when the host denies the
// allocation. An arena holds at most one backing store at a time.
func (a *Arena) Allocate(size uintptr, label string) (err error) {
	const op = "Allocate"
	span := a.tel.start(op, attrSize(size))
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.violation(op, ErrAlreadyAllocated)
	}
	if size == 0 {
		return fmt.Errorf("memarena: %s: %w", op, ErrInvalidSize)
	}
	if a.cfg.CheckHostMemory {
		if vm, verr := mem.VirtualMemory(); verr == nil && vm.Available < uint64(size) {
			return fmt.Errorf("memarena: %s %#x bytes, %#x available: %w", op, size, vm.Available, ErrInsufficientMemory)
		}
	}
	seg, err := a.backend.CreateSegment(label, size)
	if err != nil {
		internalLogger.warnf("arena %s: create segment %q size %#x failed: %v", a.id, label, size, err)
		return &OpError{Op: "create segment", Size: size, Err: err}
	}
	a.store = seg
	internalLogger.infof("arena %s: backing store %q allocated, size %#x", a.id, seg.Label, size)
	return nil
}

// Release frees the backing store. It is rejected while any view or map
// still references the store.
func (a *Arena) Release() (err error) {
	const op = "Release"
	span := a.tel.start(op)
	defer func() { a.tel.finish(span, op, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return a.violation(op, ErrNotAllocated)
	}
	if n, m := a.views.count(), a.maps.count(); n > 0 || m > 0 {
		return a.violation(op, fmt.Errorf("%w: %d views, %d maps", ErrBusy, n, m))
	}
	if err := a.backend.DestroySegment(a.store); err != nil {
		return &OpError{Op: "destroy segment", Size: a.store.Size, Err: err}
	}
	internalLogger.infof("arena %s: backing store %q released", a.id, a.store.Label)
	a.store = nil
	return nil
}

// Backing returns the host mapping of the whole backing store, or nil when
// none is allocated. Byte i is backing offset i.
func (a *Arena) Backing() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	return a.store.Data
}

// Stats returns a bookkeeping snapshot.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		Views:              a.views.count(),
		ViewBytes:          a.views.bytes(),
		Maps:               a.maps.count(),
		MapBytes:           a.maps.bytes(),
		ContractViolations: a.violations.Load(),
	}
	if a.store != nil {
		s.BackingBytes = uint64(a.store.Size)
	}
	if a.home != nil {
		s.HomeBase = a.home.base
		s.HomeBytes = uint64(a.home.size)
	}
	return s
}

// violation counts, logs and returns a contract violation, or panics when
// configured to.
func (a *Arena) violation(op string, err error) error {
	a.violations.Add(1)
	ce := &ContractError{Op: op, Err: err}
	internalLogger.errorf("arena %s: %v", a.id, ce)
	if a.cfg.PanicOnContractViolation {
		panic(ce)
	}
	return ce
}

// checkRange validates a backing range against alignment and store size.
func (a *Arena) checkRange(offset int64, size uintptr) error {
	if size == 0 {
		return ErrInvalidSize
	}
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrOutOfRange, offset)
	}
	if size%a.pageSize != 0 || uint64(offset)%uint64(a.pageSize) != 0 {
		return fmt.Errorf("%w: offset %#x size %#x page %#x", ErrUnaligned, offset, size, a.pageSize)
	}
	total := uint64(a.store.Size)
	if uint64(size) > total || uint64(offset) > total-uint64(size) {
		return fmt.Errorf("%w: [%#x, +%#x) store %#x", ErrOutOfRange, offset, size, total)
	}
	return nil
}

func hexAddr(addr uintptr) string {
	return "0x" + strconv.FormatUint(uint64(addr), 16)
}
