// Package arena provides a guest with a large contiguous address space
// backed by one shared-memory allocation, exposed through views and fixed
// maps that alias ranges of it without copying.
//
// Session order:
//
//	a, err := arena.New(nil)
//	err = a.Allocate(ramSize, "guest-ram")
//	base, err := a.ReserveHomeRegion(guestSpace)
//	addr, err := a.MapFixed(0, ramSize, base)   // deterministic layout
//	view, err := a.CreateView(0, ramSize)        // host-picked address
//	...
//	err = a.ReleaseView(view, ramSize)
//	err = a.UnmapFixed(addr, ramSize)
//	err = a.ReleaseHomeRegion()
//	err = a.Release()
//
// Failures of the host are returned as *OpError and can be handled by
// the caller, for example by falling back to a non-aliased memory mode.
// Caller errors (unknown addresses, releases with live dependents, ranges
// outside the home region) are returned as *ContractError and never touch
// the bookkeeping.
//
// Logging is level-gated (MEMARENA_LOG_LEVEL) and instrumented with
// OpenTelemetry tracing and metrics when a Tracer or Meter is configured.
package arena
