package layout

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/memarena/api"
	"github.com/srediag/memarena/pkg/arena"
)

// Arena is the part of *arena.Arena a layout drives.
type Arena interface {
	api.MemArena
	PageSize() uintptr
	Backing() []byte
}

// NewArena creates an arena with the host options of c.
func NewArena(c *Config) (*arena.Arena, error) {
	ac := arena.DefaultConfig()
	ac.ExplicitPermissions = c.ExplicitPermissions
	ac.CheckHostMemory = c.CheckHostMemory
	return arena.New(ac)
}

// Placement is one live host mapping of a region. Guest is only
// meaningful for fixed mirrors.
type Placement struct {
	Region string
	Offset uint64
	Size   uint64
	Host   uintptr
	Guest  uint64
	Fixed  bool
}

// Layout is a built guest memory layout. It is not safe for concurrent
// Close calls.
type Layout struct {
	a   Arena
	cfg *Config

	allocated bool
	views     []Placement
	mirrors   []Placement

	fastmem  bool
	base     uintptr
	fallback error
}

// Build allocates the backing store and maps one host view per region.
// With fastmem it also reserves the home region, retrying per cfg.Retry,
// and maps every guest mirror. A fastmem failure is not fatal: the
// mirrors are unwound, the layout keeps only its views and Fallback
// reports the cause.
func Build(ctx context.Context, cfg *Config, a Arena) (*Layout, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.checkAlignment(uint64(a.PageSize())); err != nil {
		return nil, err
	}
	l := &Layout{a: a, cfg: cfg}
	if err := a.Allocate(uintptr(cfg.StoreBytes()), cfg.Label); err != nil {
		return nil, fmt.Errorf("allocate backing store: %w", err)
	}
	l.allocated = true

	for _, r := range cfg.Regions {
		addr, err := a.CreateView(int64(r.Offset), uintptr(r.Size))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("view of region %q: %w", r.Name, err), l.Close())
		}
		l.views = append(l.views, Placement{Region: r.Name, Offset: uint64(r.Offset), Size: uint64(r.Size), Host: addr})
	}

	if cfg.Fastmem {
		if err := l.mapFastmem(ctx); err != nil {
			l.fallback = err
		}
	}
	return l, nil
}

func (l *Layout) mapFastmem(ctx context.Context) error {
	size := uintptr(l.cfg.HomeRegionSize)
	var base uintptr
	reserve := func() error {
		var err error
		base, err = l.a.ReserveHomeRegion(size)
		if arena.IsContractViolation(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(l.cfg.Retry.Interval), uint64(l.cfg.Retry.Attempts)), ctx)
	if err := backoff.Retry(reserve, policy); err != nil {
		return fmt.Errorf("reserve home region: %w", err)
	}
	l.fastmem = true
	l.base = base

	for _, r := range l.cfg.Regions {
		for _, g := range r.Guest {
			addr, err := l.a.MapFixed(int64(r.Offset), uintptr(r.Size), base+uintptr(g))
			if err != nil {
				return errors.Join(fmt.Errorf("mirror %q at guest %s: %w", r.Name, g, err), l.unmapFastmem())
			}
			l.mirrors = append(l.mirrors, Placement{
				Region: r.Name,
				Offset: uint64(r.Offset),
				Size:   uint64(r.Size),
				Host:   addr,
				Guest:  uint64(g),
				Fixed:  true,
			})
		}
	}
	return nil
}

// unmapFastmem removes the mirrors newest first, then the home region.
func (l *Layout) unmapFastmem() error {
	if !l.fastmem {
		return nil
	}
	var errs []error
	for i := len(l.mirrors) - 1; i >= 0; i-- {
		m := l.mirrors[i]
		if err := l.a.UnmapFixed(m.Host, uintptr(m.Size)); err != nil {
			errs = append(errs, fmt.Errorf("unmap mirror %q at guest %#x: %w", m.Region, m.Guest, err))
		}
	}
	l.mirrors = nil
	if err := l.a.ReleaseHomeRegion(); err != nil {
		errs = append(errs, err)
	}
	l.fastmem = false
	l.base = 0
	return errors.Join(errs...)
}

// Fastmem reports whether guest mirrors are mapped in the home region.
func (l *Layout) Fastmem() bool { return l.fastmem }

// Base is the host address of guest offset 0, or 0 without fastmem.
func (l *Layout) Base() uintptr { return l.base }

// Fallback is the reason fastmem was abandoned, or nil.
func (l *Layout) Fallback() error { return l.fallback }

// Arena returns the arena the layout was built on.
func (l *Layout) Arena() Arena { return l.a }

// HostAddr returns the host view address of a region.
func (l *Layout) HostAddr(region string) (uintptr, bool) {
	for _, v := range l.views {
		if v.Region == region {
			return v.Host, true
		}
	}
	return 0, false
}

// Translate resolves a guest offset to a host address. With fastmem the
// result lies in the home region; otherwise it lies in the owning
// region's view.
func (l *Layout) Translate(guest uint64) (uintptr, bool) {
	for i, r := range l.cfg.Regions {
		for _, g := range r.Guest {
			if guest < uint64(g) || guest-uint64(g) >= uint64(r.Size) {
				continue
			}
			if l.fastmem {
				return l.base + uintptr(guest), true
			}
			return l.views[i].Host + uintptr(guest-uint64(g)), true
		}
	}
	return 0, false
}

// Placements lists the live views followed by the live mirrors.
func (l *Layout) Placements() []Placement {
	out := make([]Placement, 0, len(l.views)+len(l.mirrors))
	out = append(out, l.views...)
	return append(out, l.mirrors...)
}

// Bytes is the total size of live host mappings.
func (l *Layout) Bytes() uint64 {
	var n uint64
	for _, p := range l.Placements() {
		n += p.Size
	}
	return n
}

// Close tears the layout down in reverse order of construction: mirrors,
// home region, views, backing store.
func (l *Layout) Close() error {
	errs := []error{l.unmapFastmem()}
	for i := len(l.views) - 1; i >= 0; i-- {
		v := l.views[i]
		if err := l.a.ReleaseView(v.Host, uintptr(v.Size)); err != nil {
			errs = append(errs, fmt.Errorf("release view of %q: %w", v.Region, err))
		}
	}
	l.views = nil
	if l.allocated {
		if err := l.a.Release(); err != nil {
			errs = append(errs, err)
		}
		l.allocated = false
	}
	return errors.Join(errs...)
}
