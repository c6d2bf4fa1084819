package imagecache

import "time"

// Stats is a snapshot of cache activity.
//
// Hits, Misses, FetchErrors, Evictions and Expirations are lifetime counters
// reset only by Clear. Entries and TotalSize describe the live table.
type Stats struct {
	Hits        int64
	Misses      int64
	FetchErrors int64
	Evictions   int64
	Expirations int64
	Entries     int
	TotalSize   int64
}

// HitRate returns Hits / (Hits + Misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:        c.counts.hits,
		Misses:      c.counts.misses,
		FetchErrors: c.counts.fetchErrors,
		Evictions:   c.counts.evictions,
		Expirations: c.counts.expirations,
		Entries:     c.table.Len(),
		TotalSize:   c.table.Size(),
	}
}

// EntryInfo describes one cached image for inspection.
// It deliberately omits the handle.
type EntryInfo struct {
	URL         string
	Size        int64
	ContentType string
	CreatedAt   time.Time
	Age         time.Duration
}

// Entries lists the cached images, oldest first. Expired entries that
// have not been swept yet are included.
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entries := c.table.Entries()
	out := make([]EntryInfo, len(entries))
	for i, e := range entries {
		out[i] = EntryInfo{
			URL:         e.Key,
			Size:        e.Size,
			ContentType: e.ContentType,
			CreatedAt:   e.CreatedAt,
			Age:         now.Sub(e.CreatedAt),
		}
	}
	return out
}
