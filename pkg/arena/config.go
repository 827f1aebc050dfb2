package arena

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/memarena/internal/shm"
)

// Backend is the host primitive set an Arena is built on. The arena owns
// all bookkeeping; a backend only performs syscalls and never tracks state.
type Backend interface {
	// PageSize is the granularity of offsets, addresses and sizes.
	PageSize() uintptr
	CreateSegment(label string, size uintptr) (*shm.Segment, error)
	DestroySegment(seg *shm.Segment) error
	// Reserve returns a host-picked, inaccessible range.
	Reserve(size uintptr) (uintptr, error)
	Release(addr, size uintptr) error
	// Map places segment bytes at addr inside a reservation.
	Map(seg *shm.Segment, offset int64, size, addr uintptr, access shm.Access) error
	// Unmap turns a mapped range back into a reservation.
	Unmap(addr, size uintptr) error
}

// Config holds arena creation parameters.
type Config struct {
	// Backend defaults to the running host's backend.
	Backend Backend
	// ExplicitPermissions selects the map-then-set-permission sequence on
	// the default host backend.
	ExplicitPermissions bool
	// CheckHostMemory makes Allocate fail early when the host reports less
	// available memory than requested.
	CheckHostMemory bool
	// PanicOnContractViolation aborts on caller errors instead of
	// returning a ContractError. Defaults to true when MEMARENA_DEBUG_MODE is set.
	PanicOnContractViolation bool

	Tracer trace.Tracer
	Meter  metric.Meter
}

// DefaultConfig returns the default arena configuration.
func DefaultConfig() *Config {
	return &Config{
		PanicOnContractViolation: debugMode,
	}
}

// VerifyConfig checks a configuration before use.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("nil config")
	}
	if config.Backend != nil {
		if config.ExplicitPermissions {
			return errors.New("ExplicitPermissions only applies to the default host backend")
		}
		page := config.Backend.PageSize()
		if page == 0 || page&(page-1) != 0 {
			return fmt.Errorf("backend page size %#x is not a power of two", page)
		}
	}
	return nil
}
