package layout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/memarena/internal/shm"
)

const probeToken = 0x6d656d6172656e61

// ProbeResult is the outcome of probing one region.
type ProbeResult struct {
	Region string
	// Paths counts the access paths that observed the token.
	Paths int
	Err   error
}

// Probe checks aliasing: for every region it writes a token through the
// host view and verifies that the backing store and every guest mirror
// read it back, then restores the original word. Regions are probed in
// parallel on an ants pool of the given size. The guest must not be
// running.
func Probe(ctx context.Context, l *Layout, workers int) ([]ProbeResult, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]ProbeResult, len(l.views))
	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(workers, func(arg interface{}) {
		defer wg.Done()
		i := arg.(int)
		results[i] = l.probeRegion(i)
	})
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	for i := range l.views {
		results[i].Region = l.views[i].Region
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			results[i].Err = err
		}
	}
	wg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("region %q: %w", r.Region, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

type accessPath struct {
	name string
	p    unsafe.Pointer
}

func hostPointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

func (l *Layout) probeRegion(i int) ProbeResult {
	v := l.views[i]
	res := ProbeResult{Region: v.Region}
	backing := l.a.Backing()
	if uint64(len(backing)) < v.Offset+8 {
		res.Err = errors.New("backing store not mapped")
		return res
	}

	paths := []accessPath{{"backing", unsafe.Pointer(&backing[v.Offset])}}
	for _, m := range l.mirrors {
		if m.Region == v.Region {
			paths = append(paths, accessPath{fmt.Sprintf("guest %#x", m.Guest), hostPointer(m.Host)})
		}
	}

	src := hostPointer(v.Host)
	token := uint64(probeToken) ^ uint64(i)<<48
	saved := shm.AtomicLoadUint64(src)
	shm.AtomicStoreUint64(src, token)
	defer shm.AtomicStoreUint64(src, saved)

	for _, p := range paths {
		if got := shm.AtomicLoadUint64(p.p); got != token {
			res.Err = fmt.Errorf("%s read %#x, view wrote %#x", p.name, got, token)
			return res
		}
		res.Paths++
	}
	// a write through the last path must reach the view
	last := paths[len(paths)-1]
	if !shm.AtomicCompareAndSwapUint64(last.p, token, ^token) || shm.AtomicLoadUint64(src) != ^token {
		res.Err = fmt.Errorf("write through %s not visible in view", last.name)
	}
	return res
}
