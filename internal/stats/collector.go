// Package stats provides a unified interface for collecting cache metrics.
package stats

// Metric names emitted by the image cache.
const (
	// Lookup outcomes.
	MetricHits        = "imagecache_hits_total"
	MetricMisses      = "imagecache_misses_total"
	MetricFetchErrors = "imagecache_fetch_errors_total"

	// Removals.
	MetricEvictions   = "imagecache_evictions_total"
	MetricExpirations = "imagecache_expirations_total"

	// Occupancy.
	MetricSizeBytes = "imagecache_size_bytes"
	MetricEntries   = "imagecache_entries"

	// Upstream latency in seconds.
	MetricFetchSeconds = "imagecache_fetch_seconds"
)

// Help returns a human-readable description for a known metric name.
// Unknown names are returned unchanged.
func Help(name string) string {
	switch name {
	case MetricHits:
		return "Resolves served from the cache."
	case MetricMisses:
		return "Resolves that required an upstream fetch."
	case MetricFetchErrors:
		return "Upstream fetches that failed and fell back to the source URL."
	case MetricEvictions:
		return "Entries evicted to make room for new images."
	case MetricExpirations:
		return "Entries removed after exceeding their max age."
	case MetricSizeBytes:
		return "Bytes currently held by cached images."
	case MetricEntries:
		return "Images currently cached."
	case MetricFetchSeconds:
		return "Upstream fetch latency in seconds."
	}
	return name
}

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
