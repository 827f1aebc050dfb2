// Package shm contains the host backends behind the memory arena: creation
// of the shared-memory segment, address-space reservation, and mapping of
// segment ranges at fixed addresses.
//
// One backend is compiled per host family (platform_unix.go,
// platform_windows.go, platform_other.go). All of them honor the same
// contract:
//
//   - Reserve returns an inaccessible, uncommitted range picked by the host.
//   - Map replaces [addr, addr+size) of a live reservation with a shared
//     mapping of the segment.
//   - Unmap turns a mapped range back into an inaccessible reservation.
//   - Release frees a reservation; the range must hold no mappings.
package shm

import (
	"errors"
	"math"
	"strings"
)

var (
	// ErrInvalidSize is returned for zero sizes and sizes the host cannot represent.
	ErrInvalidSize = errors.New("shm: invalid segment size")
	// ErrNoSpace is returned when the filesystem backing the segment lacks room.
	ErrNoSpace = errors.New("shm: not enough space left for segment")
)

// Access is the permission set of a mapping. It has the same meaning on
// every backend; each backend converts it to its native constants.
type Access uint8

const (
	AccessNone  Access = 0
	AccessRead  Access = 1 << 0
	AccessWrite Access = 1 << 1
	AccessExec  Access = 1 << 2

	AccessReadWrite = AccessRead | AccessWrite
)

func (a Access) String() string {
	if a == AccessNone {
		return "---"
	}
	b := []byte("---")
	if a&AccessRead != 0 {
		b[0] = 'r'
	}
	if a&AccessWrite != 0 {
		b[1] = 'w'
	}
	if a&AccessExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Options tunes the host backend.
type Options struct {
	// ExplicitPermissions maps every range with no access first and assigns
	// the requested access in a second call, the way constrained hosts
	// require (map, then set permission).
	ExplicitPermissions bool
}

// Host is the backend for the operating system the binary was built for.
type Host struct {
	opts Options
}

// NewHost returns the backend of the running host.
func NewHost(opts Options) *Host {
	return &Host{opts: opts}
}

// Segment is one shared-memory allocation. Data is a host mapping of the
// whole segment, valid until DestroySegment.
type Segment struct {
	Label string
	Size  uintptr
	Data  []byte

	// fd on unix, HANDLE on windows
	handle uintptr
}

func checkSegmentSize(size uintptr) error {
	if size == 0 || uint64(size) > math.MaxInt {
		return ErrInvalidSize
	}
	return nil
}

// memfd names are limited to 249 bytes and temp file names must not
// contain separators.
func segmentName(label string) string {
	if label == "" {
		label = "memarena"
	}
	label = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, label)
	if len(label) > 200 {
		label = label[:200]
	}
	return label
}
