//go:build linux || darwin || freebsd

package layout

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/memarena/pkg/arena"
)

var errTransient = errors.New("transient host failure")

// faultyArena fails selected calls of a real arena.
type faultyArena struct {
	*arena.Arena
	failReserves int
	reserveCalls int
	failMapAt    int
	mapCalls     int
}

func (f *faultyArena) ReserveHomeRegion(size uintptr) (uintptr, error) {
	f.reserveCalls++
	if f.failReserves > 0 {
		f.failReserves--
		return 0, &arena.OpError{Op: "reserve", Size: size, Err: errTransient}
	}
	return f.Arena.ReserveHomeRegion(size)
}

func (f *faultyArena) MapFixed(offset int64, size, addr uintptr) (uintptr, error) {
	f.mapCalls++
	if f.mapCalls == f.failMapAt {
		return 0, &arena.OpError{Op: "map fixed", Addr: addr, Size: size, Err: errTransient}
	}
	return f.Arena.MapFixed(offset, size, addr)
}

type LayoutTestSuite struct {
	suite.Suite
	page uint64
	cfg  *Config
	fa   *faultyArena
}

func (s *LayoutTestSuite) SetupTest() {
	s.page = uint64(os.Getpagesize())
	p := Size(s.page)
	s.cfg = DefaultConfig()
	s.cfg.Label = "layout-test"
	s.cfg.Fastmem = true
	s.cfg.HomeRegionSize = 64 * p
	s.cfg.Retry = Retry{Attempts: 3, Interval: time.Millisecond}
	s.cfg.Regions = []Region{
		{Name: "ram", Offset: 0, Size: 4 * p, Guest: []Size{0, 32 * p}},
		{Name: "aram", Offset: 4 * p, Size: 2 * p, Guest: []Size{16 * p}},
	}
	a, err := NewArena(s.cfg)
	s.Require().NoError(err)
	s.fa = &faultyArena{Arena: a}
}

func (s *LayoutTestSuite) TearDownTest() {
	st := s.fa.Stats()
	s.Require().Zero(st.Views)
	s.Require().Zero(st.Maps)
	s.Require().Zero(st.HomeBytes)
	s.Require().Zero(st.BackingBytes)
}

func (s *LayoutTestSuite) build() *Layout {
	l, err := Build(context.Background(), s.cfg, s.fa)
	s.Require().NoError(err)
	return l
}

func word(addr uintptr) *uint64 {
	return (*uint64)(hostPointer(addr))
}

func (s *LayoutTestSuite) TestFastmem() {
	l := s.build()
	s.Require().True(l.Fastmem())
	s.Require().NoError(l.Fallback())
	s.Require().NotZero(l.Base())
	s.Require().Len(l.Placements(), 5)
	s.Require().Equal(uint64(6*s.page+10*s.page), l.Bytes())

	host, ok := l.Translate(32*s.page + 8)
	s.Require().True(ok)
	s.Require().Equal(l.Base()+uintptr(32*s.page+8), host)
	*word(host) = 0xfeedface

	view, ok := l.HostAddr("ram")
	s.Require().True(ok)
	s.Require().Equal(uint64(0xfeedface), *word(view + 8))
	low, _ := l.Translate(8)
	s.Require().Equal(uint64(0xfeedface), *word(low))

	_, ok = l.Translate(8 * s.page)
	s.Require().False(ok)

	results, err := Probe(context.Background(), l, 2)
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	s.Require().Equal(ProbeResult{Region: "ram", Paths: 3}, results[0])
	s.Require().Equal(ProbeResult{Region: "aram", Paths: 2}, results[1])
	s.Require().Equal(uint64(0), *word(view), "probe restores the probed word")

	s.Require().NoError(l.Close())
	s.Require().NoError(l.Close())
}

func (s *LayoutTestSuite) TestHomeRegionRetry() {
	s.fa.failReserves = 2
	l := s.build()
	s.Require().True(l.Fastmem())
	s.Require().Equal(3, s.fa.reserveCalls)
	s.Require().NoError(l.Close())
}

func (s *LayoutTestSuite) TestSlowModeFallback() {
	s.fa.failReserves = 100
	s.cfg.Retry.Attempts = 1
	l := s.build()
	s.Require().False(l.Fastmem())
	s.Require().ErrorIs(l.Fallback(), errTransient)
	s.Require().Equal(2, s.fa.reserveCalls)
	s.Require().Zero(l.Base())
	s.Require().Len(l.Placements(), 2)

	// guest offsets resolve through the region views
	host, ok := l.Translate(16*s.page + 16)
	s.Require().True(ok)
	aram, _ := l.HostAddr("aram")
	s.Require().Equal(aram+16, host)
	*word(host) = 7
	s.Require().Equal(byte(7), s.fa.Backing()[4*s.page+16])

	results, err := Probe(context.Background(), l, 4)
	s.Require().NoError(err)
	s.Require().Equal(1, results[0].Paths)
	s.Require().NoError(l.Close())
}

func (s *LayoutTestSuite) TestMirrorFailureUnwinds() {
	s.fa.failMapAt = 3
	l := s.build()
	s.Require().False(l.Fastmem())
	s.Require().ErrorIs(l.Fallback(), errTransient)

	st := s.fa.Stats()
	s.Require().Equal(2, st.Views)
	s.Require().Zero(st.Maps)
	s.Require().Zero(st.HomeBytes)
	s.Require().NoError(l.Close())
}

func (s *LayoutTestSuite) TestContractErrorIsNotRetried() {
	_, err := s.fa.Arena.ReserveHomeRegion(uintptr(s.page))
	s.Require().NoError(err)

	l := s.build()
	s.Require().False(l.Fastmem())
	s.Require().ErrorIs(l.Fallback(), arena.ErrHomeRegionActive)
	s.Require().Equal(1, s.fa.reserveCalls)
	s.Require().NoError(l.Close())
	s.Require().NoError(s.fa.Arena.ReleaseHomeRegion())
}

func (s *LayoutTestSuite) TestUnalignedLayoutIsRejected() {
	s.cfg.Regions[1].Size = Size(s.page / 2)
	_, err := Build(context.Background(), s.cfg, s.fa)
	s.Require().Error(err)
	s.Require().Nil(s.fa.Backing())
}

func (s *LayoutTestSuite) TestProbeCancelled() {
	l := s.build()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := Probe(ctx, l, 1)
	s.Require().ErrorIs(err, context.Canceled)
	s.Require().Len(results, 2)
	s.Require().Zero(results[0].Paths)
	s.Require().NoError(l.Close())
}

func TestLayoutTestSuite(t *testing.T) {
	suite.Run(t, new(LayoutTestSuite))
}
