package arena

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned for zero or unrepresentable sizes.
	ErrInvalidSize = errors.New("invalid size")
	// ErrUnaligned is returned when an offset, address or size is not a
	// multiple of the host page granularity.
	ErrUnaligned = errors.New("not aligned to host page granularity")
	// ErrOutOfRange is returned when [offset, offset+size) exceeds the backing store.
	ErrOutOfRange = errors.New("range exceeds backing store")
	// ErrInsufficientMemory is returned when the host lacks memory for the backing store.
	ErrInsufficientMemory = errors.New("insufficient host memory")

	ErrAlreadyAllocated = errors.New("backing store already allocated")
	ErrNotAllocated     = errors.New("backing store not allocated")
	ErrBusy             = errors.New("dependent mappings still live")
	ErrHomeRegionActive = errors.New("home region already reserved")
	ErrNoHomeRegion     = errors.New("no home region reserved")
	ErrOutOfRegion      = errors.New("range not inside home region")
	ErrOverlap          = errors.New("range overlaps a live mapping")
	ErrNotFound         = errors.New("no live mapping at address")
	ErrSizeMismatch     = errors.New("size differs from recorded mapping")
)

// OpError is a recoverable host failure. Err is the host error.
type OpError struct {
	Op   string
	Addr uintptr
	Size uintptr
	Err  error
}

func (e *OpError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("memarena: %s addr=%#x size=%#x: %v", e.Op, e.Addr, e.Size, e.Err)
	}
	return fmt.Sprintf("memarena: %s size=%#x: %v", e.Op, e.Size, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ContractError reports a caller error: an unknown handle, a release
// with live dependents, a range outside what the caller owns. Nothing was
// changed by the rejected call.
type ContractError struct {
	Op  string
	Err error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("memarena: %s: contract violation: %v", e.Op, e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }

// IsContractViolation reports whether err is, or wraps, a ContractError.
func IsContractViolation(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}
