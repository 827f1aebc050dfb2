package shm

import (
	"sync/atomic"
	"unsafe"
)

// AtomicLoadUint64 loads a uint64 from mapped memory atomically. addr must
// be 8-byte aligned.
func AtomicLoadUint64(addr unsafe.Pointer) uint64 {
	return atomic.LoadUint64((*uint64)(addr))
}

// AtomicStoreUint64 stores a uint64 to mapped memory atomically.
func AtomicStoreUint64(addr unsafe.Pointer, val uint64) {
	atomic.StoreUint64((*uint64)(addr), val)
}

// AtomicCompareAndSwapUint64 atomically compares and swaps a uint64 in mapped memory.
func AtomicCompareAndSwapUint64(addr unsafe.Pointer, old, new uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(addr), old, new)
}
