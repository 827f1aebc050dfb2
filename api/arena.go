// Package api defines public API contracts for memarena.
package api

// MemArena is the operation surface every arena backend provides. Every
// failure is reported as an error; nothing is signaled by a zero address
// alone.
type MemArena interface {
	// Allocate creates the backing store of exactly size bytes.
	Allocate(size uintptr, label string) error
	// Release frees the backing store. No view or map may be live.
	Release() error

	// CreateView maps backing [offset, offset+size) at a host-picked address.
	CreateView(offset int64, size uintptr) (uintptr, error)
	// ReleaseView reverses CreateView.
	ReleaseView(addr uintptr, size uintptr) error

	// ReserveHomeRegion reserves address space for fixed maps.
	ReserveHomeRegion(size uintptr) (uintptr, error)
	// ReleaseHomeRegion frees the home region. No map may be live.
	ReleaseHomeRegion() error

	// MapFixed maps backing [offset, offset+size) at addr inside the home region.
	MapFixed(offset int64, size uintptr, addr uintptr) (uintptr, error)
	// UnmapFixed reverses MapFixed.
	UnmapFixed(addr uintptr, size uintptr) error
}
