package layout

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Size is a byte count that accepts plain or hex integers and KiB/MiB/GiB
// suffixes in YAML ("0x2000000", "32MiB", "4 GiB").
type Size uint64

// ParseSize parses the textual form of a Size.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	mult := uint64(1)
	for _, suf := range []struct {
		name string
		mult uint64
	}{{"KiB", 1 << 10}, {"MiB", 1 << 20}, {"GiB", 1 << 30}, {"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30}} {
		if strings.HasSuffix(s, suf.name) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suf.name))
			mult = suf.mult
			break
		}
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > ^uint64(0)/mult {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return Size(n * mult), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = v
	return nil
}

func (s Size) String() string { return "0x" + strconv.FormatUint(uint64(s), 16) }

// Region is one range of the backing store. It is always reachable
// through a host view; with fastmem it is also mapped at every Guest
// offset of the home region.
type Region struct {
	Name   string `yaml:"name"`
	Offset Size   `yaml:"offset"`
	Size   Size   `yaml:"size"`
	Guest  []Size `yaml:"guest"`
}

// Retry bounds the attempts at reserving the home region.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

// Config describes a guest memory layout.
type Config struct {
	Label string `yaml:"label"`

	// StoreSize defaults to the end of the highest region.
	StoreSize           Size     `yaml:"store_size"`
	HomeRegionSize      Size     `yaml:"home_region_size"`
	Fastmem             bool     `yaml:"fastmem"`
	CheckHostMemory     bool     `yaml:"check_host_memory"`
	ExplicitPermissions bool     `yaml:"explicit_permissions"`
	Retry               Retry    `yaml:"retry"`
	ProbeWorkers        int      `yaml:"probe_workers"`
	Regions             []Region `yaml:"regions"`
}

// DefaultConfig returns an empty layout with the default policies.
func DefaultConfig() *Config {
	return &Config{
		Label:        "guest-memory",
		Retry:        Retry{Attempts: 3, Interval: 50 * time.Millisecond},
		ProbeWorkers: 4,
	}
}

// LoadConfig reads a YAML layout on top of DefaultConfig and verifies it.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	return cfg, nil
}

// StoreBytes is the size of the backing store the layout needs.
func (c *Config) StoreBytes() uint64 {
	if c.StoreSize != 0 {
		return uint64(c.StoreSize)
	}
	var end uint64
	for _, r := range c.Regions {
		if e := uint64(r.Offset) + uint64(r.Size); e > end {
			end = e
		}
	}
	return end
}

type interval struct {
	lo, hi uint64
	name   string
}

func firstOverlap(ivs []interval) (a, b interval, ok bool) {
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].lo < ivs[j].lo })
	for i := 1; i < len(ivs); i++ {
		if ivs[i].lo < ivs[i-1].hi {
			return ivs[i-1], ivs[i], true
		}
	}
	return interval{}, interval{}, false
}

// VerifyConfig checks a layout before it is built. Page alignment depends
// on the host and is checked by Build.
func VerifyConfig(c *Config) error {
	if c == nil {
		return errors.New("nil config")
	}
	if len(c.Regions) == 0 {
		return errors.New("no regions")
	}
	if c.Retry.Attempts < 0 || c.Retry.Interval < 0 {
		return errors.New("retry attempts and interval must not be negative")
	}
	if c.ProbeWorkers < 0 {
		return errors.New("probe_workers must not be negative")
	}
	names := make(map[string]struct{}, len(c.Regions))
	var backing, guest []interval
	for _, r := range c.Regions {
		if r.Name == "" {
			return errors.New("region without name")
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("duplicate region %q", r.Name)
		}
		names[r.Name] = struct{}{}
		if r.Size == 0 {
			return fmt.Errorf("region %q: zero size", r.Name)
		}
		end := uint64(r.Offset) + uint64(r.Size)
		if end < uint64(r.Offset) {
			return fmt.Errorf("region %q: range overflows", r.Name)
		}
		backing = append(backing, interval{uint64(r.Offset), end, r.Name})
		for _, g := range r.Guest {
			gend := uint64(g) + uint64(r.Size)
			if gend < uint64(g) || (c.Fastmem && gend > uint64(c.HomeRegionSize)) {
				return fmt.Errorf("region %q: guest mirror %s outside home region %s", r.Name, g, c.HomeRegionSize)
			}
			guest = append(guest, interval{uint64(g), gend, r.Name})
		}
	}
	if c.StoreSize != 0 {
		for _, iv := range backing {
			if iv.hi > uint64(c.StoreSize) {
				return fmt.Errorf("region %q: ends at %#x past store_size %s", iv.name, iv.hi, c.StoreSize)
			}
		}
	}
	if a, b, ok := firstOverlap(backing); ok {
		return fmt.Errorf("regions %q and %q share backing bytes", a.name, b.name)
	}
	if a, b, ok := firstOverlap(guest); ok {
		return fmt.Errorf("guest mirrors of %q and %q overlap", a.name, b.name)
	}
	if c.Fastmem && c.HomeRegionSize == 0 {
		return errors.New("fastmem needs home_region_size")
	}
	return nil
}

// checkAlignment validates every offset and size against the host page.
func (c *Config) checkAlignment(page uint64) error {
	aligned := func(v uint64) bool { return v%page == 0 }
	if !aligned(c.StoreBytes()) || !aligned(uint64(c.HomeRegionSize)) {
		return fmt.Errorf("store and home region sizes must be multiples of %#x", page)
	}
	for _, r := range c.Regions {
		if !aligned(uint64(r.Offset)) || !aligned(uint64(r.Size)) {
			return fmt.Errorf("region %q: offset and size must be multiples of %#x", r.Name, page)
		}
		for _, g := range r.Guest {
			if !aligned(uint64(g)) {
				return fmt.Errorf("region %q: guest mirror %s not aligned to %#x", r.Name, g, page)
			}
		}
	}
	return nil
}
