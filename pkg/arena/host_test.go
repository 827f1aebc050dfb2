//go:build linux || darwin || freebsd

package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostBytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func TestHostViewAliasesBackingStore(t *testing.T) {
	for _, explicit := range []bool{false, true} {
		a, err := New(&Config{ExplicitPermissions: explicit})
		require.NoError(t, err)
		const size = 0x2000000
		require.NoError(t, a.Allocate(size, "guest-ram"))

		addr, err := a.CreateView(0, size)
		require.NoError(t, err)
		view := hostBytes(addr, size)
		view[0x1000] = 0xAA
		assert.Equal(t, byte(0xAA), a.Backing()[0x1000])

		a.Backing()[size-1] = 0x5A
		assert.Equal(t, byte(0x5A), view[size-1])

		require.NoError(t, a.ReleaseView(addr, size))
		require.NoError(t, a.Release())
	}
}

func TestHostSessionScenario(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)
	if a.PageSize() != 0x1000 {
		t.Skipf("page size %#x", a.PageSize())
	}
	require.NoError(t, a.Allocate(0x2000000, "scenario"))
	addr, err := a.CreateView(0, 0x1000)
	require.NoError(t, err)
	hostBytes(addr, 0x1000)[0] = 0xAA
	assert.Equal(t, byte(0xAA), a.Backing()[0])
	require.NoError(t, a.ReleaseView(addr, 0x1000))

	addr, err = a.CreateView(0x1000, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, byte(0), hostBytes(addr, 0x1000)[0])
	require.NoError(t, a.ReleaseView(addr, 0x1000))

	err = a.ReleaseView(addr, 0x1000)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, a.Release())
}

func TestHostFixedMapsAndViewsShareBytes(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)
	page := a.PageSize()

	require.NoError(t, a.Allocate(4*page, "alias"))
	base, err := a.ReserveHomeRegion(32 * page)
	require.NoError(t, err)

	// same backing page at two guest addresses plus one view
	low, err := a.MapFixed(int64(page), page, base)
	require.NoError(t, err)
	high, err := a.MapFixed(int64(page), page, base+16*page)
	require.NoError(t, err)
	view, err := a.CreateView(0, 2*page)
	require.NoError(t, err)

	hostBytes(low, page)[8] = 0x11
	assert.Equal(t, byte(0x11), hostBytes(high, page)[8])
	assert.Equal(t, byte(0x11), hostBytes(view, 2*page)[page+8])
	assert.Equal(t, byte(0x11), a.Backing()[page+8])

	// an unmapped range of the home region is reserved again and can be reused
	require.NoError(t, a.UnmapFixed(high, page))
	again, err := a.MapFixed(0, page, base+16*page)
	require.NoError(t, err)
	a.Backing()[3] = 0x77
	assert.Equal(t, byte(0x77), hostBytes(again, page)[3])

	require.NoError(t, a.ReleaseView(view, 2*page))
	require.NoError(t, a.UnmapFixed(again, page))
	require.NoError(t, a.UnmapFixed(low, page))
	require.NoError(t, a.ReleaseHomeRegion())
	require.NoError(t, a.Release())

	st := a.Stats()
	assert.Zero(t, st.Views)
	assert.Zero(t, st.Maps)
	assert.Zero(t, st.BackingBytes)
}
