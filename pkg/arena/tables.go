package arena

import (
	"github.com/Workiva/go-datastructures/augmentedtree"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// View is the bookkeeping record of a live view: host address -> backing
// range. The per-view reservation spans exactly [Addr, Addr+Size).
type View struct {
	Addr   uintptr
	Offset int64
	Size   uintptr
}

// Mapping is the bookkeeping record of a live fixed map inside the home region.
type Mapping struct {
	Addr   uintptr
	Offset int64
	Size   uintptr
}

// shardAddr spreads page-aligned addresses over the map shards.
func shardAddr(addr uintptr) uint32 {
	h := uint64(addr) >> 12
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return uint32(h)
}

// viewTable is read without the arena lock by emulation threads resolving
// addresses; writes happen under the arena lock.
type viewTable struct {
	m cmap.ConcurrentMap[uintptr, View]
}

func newViewTable() viewTable {
	return viewTable{m: cmap.NewWithCustomShardingFunction[uintptr, View](shardAddr)}
}

func (t viewTable) get(addr uintptr) (View, bool) { return t.m.Get(addr) }

func (t viewTable) put(v View) { t.m.Set(v.Addr, v) }

func (t viewTable) remove(addr uintptr) { t.m.Remove(addr) }

func (t viewTable) count() int { return t.m.Count() }

func (t viewTable) bytes() uint64 {
	var n uint64
	for item := range t.m.IterBuffered() {
		n += uint64(item.Val.Size)
	}
	return n
}

// span is a half-open host address range stored in the interval tree.
type span struct {
	lo, hi int64
	id     uint64
}

func (s span) LowAtDimension(uint64) int64 { return s.lo }

func (s span) HighAtDimension(uint64) int64 { return s.hi }

func (s span) OverlapsAtDimension(iv augmentedtree.Interval, d uint64) bool {
	return s.lo < iv.HighAtDimension(d) && iv.LowAtDimension(d) < s.hi
}

func (s span) ID() uint64 { return s.id }

func spanOf(addr, size uintptr) span {
	return span{lo: int64(addr), hi: int64(addr + size), id: uint64(addr)}
}

// mapTable records fixed maps. The tree answers overlap queries; it is
// only touched under the arena lock.
type mapTable struct {
	m    cmap.ConcurrentMap[uintptr, Mapping]
	tree augmentedtree.Tree
}

func newMapTable() mapTable {
	return mapTable{
		m:    cmap.NewWithCustomShardingFunction[uintptr, Mapping](shardAddr),
		tree: augmentedtree.New(1),
	}
}

func (t mapTable) get(addr uintptr) (Mapping, bool) { return t.m.Get(addr) }

func (t mapTable) put(m Mapping) {
	t.m.Set(m.Addr, m)
	t.tree.Add(spanOf(m.Addr, m.Size))
}

func (t mapTable) remove(m Mapping) {
	t.m.Remove(m.Addr)
	t.tree.Delete(spanOf(m.Addr, m.Size))
}

// overlaps reports whether [addr, addr+size) intersects a live map. The
// query is widened by one byte on each side so the tree's own boundary
// convention cannot drop a candidate; candidates are filtered exactly.
func (t mapTable) overlaps(addr, size uintptr) bool {
	want := spanOf(addr, size)
	hits := t.tree.Query(span{lo: want.lo - 1, hi: want.hi + 1})
	defer hits.Dispose()
	for _, iv := range hits {
		if want.OverlapsAtDimension(iv, 1) {
			return true
		}
	}
	return false
}

func (t mapTable) count() int { return t.m.Count() }

func (t mapTable) bytes() uint64 {
	var n uint64
	for item := range t.m.IterBuffered() {
		n += uint64(item.Val.Size)
	}
	return n
}
