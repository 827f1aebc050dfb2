package api

// DynamicLibrary loads native shared objects for plugin backends. The arena
// does not depend on it.
type DynamicLibrary interface {
	Open(path string) error
	SymbolAddress(name string) (uintptr, error)
	Close() error
}
