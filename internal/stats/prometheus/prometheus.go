// Package prometheus provides a Prometheus-backed stats collector.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prepdash/imagecache/internal/stats"
)

// fetchBuckets covers cached-origin latencies from 5ms to ~20s.
var fetchBuckets = prometheus.ExponentialBuckets(0.005, 2, 12)

// Collector implements stats.Collector using Prometheus metrics.
// Metrics are created and registered lazily on first use.
type Collector struct {
	registry prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	c.mu.Lock()
	counter := lookup(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: stats.Help(name)})
	})
	c.mu.Unlock()
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	c.mu.Lock()
	gauge := lookup(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: stats.Help(name)})
	})
	c.mu.Unlock()
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	c.mu.Lock()
	histogram := lookup(c, c.histograms, name, func() prometheus.Histogram {
		buckets := prometheus.DefBuckets
		if name == stats.MetricFetchSeconds {
			buckets = fetchBuckets
		}
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    stats.Help(name),
			Buckets: buckets,
		})
	})
	c.mu.Unlock()
	histogram.Observe(value)
}

// lookup returns the cached metric for name, creating and registering it
// if needed. If another collector already registered the same name, the
// existing metric is adopted. Must be called with c.mu held.
func lookup[M prometheus.Collector](c *Collector, cache map[string]M, name string, create func() M) M {
	if m, ok := cache[name]; ok {
		return m
	}

	m := create()
	if err := c.registry.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(M); ok {
				m = existing
			}
		}
		// Any other registration error leaves m unregistered but usable.
	}
	cache[name] = m
	return m
}
