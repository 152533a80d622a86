package scrape

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prismflow/nutanix-exporter/internal/cache"
	"github.com/prismflow/nutanix-exporter/internal/metrics"
)

// Per-target series describing the served snapshot rather than Prism data.
var (
	targetUpDesc = prometheus.NewDesc("nutanix_exporter_target_up",
		"Whether the most recent poll of the target succeeded (1) or not (0).",
		[]string{"target"}, nil)
	snapshotStaleDesc = prometheus.NewDesc("nutanix_exporter_snapshot_stale",
		"Whether the served snapshot predates the most recent poll attempt (1) or not (0).",
		[]string{"target"}, nil)
	snapshotAgeDesc = prometheus.NewDesc("nutanix_exporter_snapshot_age_seconds",
		"Age of the served snapshot in seconds.",
		[]string{"target"}, nil)
	snapshotGenerationDesc = prometheus.NewDesc("nutanix_exporter_snapshot_generation",
		"Number of successful polls behind the served snapshot.",
		[]string{"target"}, nil)
	targetSamplesDesc = prometheus.NewDesc("nutanix_exporter_target_samples",
		"Number of samples in the served snapshot.",
		[]string{"target"}, nil)
)

// Filter restricts a collection pass to one target and/or one VM name.
// The zero value matches everything.
type Filter struct {
	Target string
	VM     string
}

func (f Filter) matches(s metrics.Sample) bool {
	if f.VM == "" {
		return true
	}
	name, ok := s.Label("vm_name")
	return ok && name == f.VM
}

// Collector adapts cached snapshots to the Prometheus scrape model. It
// reads only from the cache, so a scrape never triggers Prism I/O and
// never blocks on a poll.
type Collector struct {
	cache   *cache.Cache
	targets []string
	filter  Filter
}

// NewCollector creates a collector over the cache for the configured
// targets. Targets without a cache entry yet still report target_up 0.
func NewCollector(c *cache.Cache, targets []string) *Collector {
	return &Collector{cache: c, targets: targets}
}

// WithFilter returns a copy of the collector restricted by f, for use in
// per-request registries.
func (c *Collector) WithFilter(f Filter) *Collector {
	return &Collector{cache: c.cache, targets: c.targets, filter: f}
}

// Describe sends nothing, which registers the collector as unchecked.
// The sample families present depend on what Prism returned, so they
// cannot be declared up front.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits the cached samples and the per-target snapshot series.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	targets := c.targets
	if c.filter.Target != "" {
		targets = []string{c.filter.Target}
	}

	for _, target := range targets {
		entry, ok := c.cache.Get(target)

		up := 0.0
		if ok && entry.LastPollOK {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(targetUpDesc, prometheus.GaugeValue, up, target)

		// A target that never completed a poll has nothing to serve.
		if !ok || entry.Generation == 0 {
			continue
		}

		stale := 0.0
		if entry.Stale {
			stale = 1.0
		}
		ch <- prometheus.MustNewConstMetric(snapshotStaleDesc, prometheus.GaugeValue, stale, target)
		ch <- prometheus.MustNewConstMetric(snapshotAgeDesc, prometheus.GaugeValue, time.Since(entry.TakenAt).Seconds(), target)
		ch <- prometheus.MustNewConstMetric(snapshotGenerationDesc, prometheus.GaugeValue, float64(entry.Generation), target)
		ch <- prometheus.MustNewConstMetric(targetSamplesDesc, prometheus.GaugeValue, float64(len(entry.Samples)), target)

		for _, s := range entry.Samples {
			if !c.filter.matches(s) {
				continue
			}
			desc := prometheus.NewDesc(s.Name, s.Help, s.LabelNames(), nil)
			ch <- prometheus.MustNewConstMetric(desc, valueType(s.Kind), s.Value, s.LabelValues()...)
		}
	}
}

func valueType(k metrics.Kind) prometheus.ValueType {
	if k == metrics.KindCounter {
		return prometheus.CounterValue
	}
	return prometheus.GaugeValue
}
