package arena

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports arena bookkeeping as prometheus metrics.
type Collector struct {
	a *Arena

	backing    *prometheus.Desc
	views      *prometheus.Desc
	viewBytes  *prometheus.Desc
	maps       *prometheus.Desc
	mapBytes   *prometheus.Desc
	home       *prometheus.Desc
	violations *prometheus.Desc
}

// NewCollector returns a collector reading a's Stats on every scrape.
func NewCollector(a *Arena) *Collector {
	labels := prometheus.Labels{"arena": a.ID()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("memarena", "", name), help, nil, labels)
	}
	return &Collector{
		a:          a,
		backing:    desc("backing_bytes", "Size of the backing store."),
		views:      desc("views", "Live views."),
		viewBytes:  desc("view_bytes", "Bytes mapped by live views."),
		maps:       desc("maps", "Live fixed maps."),
		mapBytes:   desc("map_bytes", "Bytes mapped by live fixed maps."),
		home:       desc("home_region_bytes", "Size of the reserved home region."),
		violations: desc("contract_violations_total", "Rejected calls that broke the arena contract."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.backing
	ch <- c.views
	ch <- c.viewBytes
	ch <- c.maps
	ch <- c.mapBytes
	ch <- c.home
	ch <- c.violations
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.a.Stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.backing, float64(s.BackingBytes))
	gauge(c.views, float64(s.Views))
	gauge(c.viewBytes, float64(s.ViewBytes))
	gauge(c.maps, float64(s.Maps))
	gauge(c.mapBytes, float64(s.MapBytes))
	gauge(c.home, float64(s.HomeBytes))
	ch <- prometheus.MustNewConstMetric(c.violations, prometheus.CounterValue, float64(s.ContractViolations))
}
