// Package imagecache provides an in-memory, size- and age-bounded cache for
// remote images.
//
// The cache resolves an image URL to a local handle that owns the fetched
// bytes. Repeated resolves are served from memory until the entry expires or
// is evicted to make room for newer images. Fetch failures never block
// display: Resolve falls back to returning the original URL so the caller
// can load it directly.
//
// Example usage:
//
//	cache, err := imagecache.New(
//	    imagecache.WithFetcher(httpfetch.New()),
//	    imagecache.WithMaxSize(50<<20),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
//	src, _ := cache.Resolve(ctx, "https://media.s3.amazonaws.com/q/17.png")
//	if data, contentType, ok := cache.Open(src); ok {
//	    render(data, contentType)
//	} else {
//	    renderRemote(src)
//	}
package imagecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prepdash/imagecache/internal/fetch"
	"github.com/prepdash/imagecache/internal/handle"
	"github.com/prepdash/imagecache/internal/stats"
	"github.com/prepdash/imagecache/internal/table"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrNoFetcher indicates no fetcher was provided.
	ErrNoFetcher = errors.New("imagecache: no fetcher provided")

	// ErrEmptyURL indicates Resolve was called with an empty URL.
	ErrEmptyURL = errors.New("imagecache: empty url")

	// ErrClosed indicates the cache has been closed.
	ErrClosed = errors.New("imagecache: cache closed")

	// ErrInvalidConfig indicates a non-positive size, age or interval.
	ErrInvalidConfig = errors.New("imagecache: invalid configuration")
)

// Cache maps image URLs to handles over fetched bytes.
// A Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	fetcher     fetch.Fetcher
	handles     *handle.Registry
	stats       stats.Collector
	logger      *zap.Logger
	now         func() time.Time
	coalesce    bool
	group       singleflight.Group
	concurrency int

	mu      sync.Mutex
	table   *table.Table
	maxSize int64
	maxAge  time.Duration
	counts  counts

	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// counts are the lifetime counters behind Stats. Guarded by Cache.mu.
type counts struct {
	hits        int64
	misses      int64
	fetchErrors int64
	evictions   int64
	expirations int64
}

// New creates a new Cache with the given options.
// A fetcher is required; everything else has a default.
func New(opts ...Option) (*Cache, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.fetcher == nil {
		return nil, ErrNoFetcher
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		fetcher:     cfg.fetcher,
		handles:     handle.NewRegistry(),
		stats:       cfg.stats,
		logger:      cfg.logger,
		now:         cfg.clock,
		coalesce:    cfg.coalesce,
		concurrency: cfg.preloadConcurrency,
		maxSize:     cfg.maxSize,
		maxAge:      cfg.maxAge,
	}
	c.table = table.New(c.release)

	if cfg.sweepInterval > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.sweepLoop(cfg.sweepInterval)
	}

	c.logger.Debug("image cache initialized",
		zap.Int64("maxSizeBytes", c.maxSize),
		zap.Duration("maxAge", c.maxAge),
		zap.Duration("sweepInterval", cfg.sweepInterval),
		zap.Bool("coalesce", c.coalesce),
	)

	return c, nil
}

// Resolve returns a handle for the image at url.
//
// An unexpired cached entry is returned without any network access. On a
// miss the image is fetched, stored and its new handle returned. If the
// fetch fails, Resolve returns url itself with a nil error so the caller
// can fall back to loading it directly. The only errors are ErrEmptyURL
// and ErrClosed.
func (c *Cache) Resolve(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", ErrEmptyURL
	}
	if c.closed.Load() {
		return "", ErrClosed
	}

	if h, ok := c.lookup(url); ok {
		c.stats.IncCounter(stats.MetricHits, 1)
		return h, nil
	}
	c.stats.IncCounter(stats.MetricMisses, 1)

	var (
		h   string
		err error
	)
	if c.coalesce {
		h, err = c.loadShared(ctx, url)
	} else {
		h, err = c.load(ctx, url)
	}
	if err != nil {
		c.mu.Lock()
		c.counts.fetchErrors++
		c.mu.Unlock()
		c.stats.IncCounter(stats.MetricFetchErrors, 1)
		c.logger.Debug("fetch failed, falling back to source url",
			zap.String("url", url),
			zap.Error(err),
		)
		return url, nil
	}
	return h, nil
}

// lookup records a hit or a miss for url. An expired entry is dropped and
// counts as a miss.
func (c *Cache) lookup(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.table.Get(url)
	if ok && c.expired(e, c.now()) {
		c.table.Remove(url)
		c.counts.expirations++
		c.stats.IncCounter(stats.MetricExpirations, 1)
		c.reportLocked()
		ok = false
	}
	if !ok {
		c.counts.misses++
		return "", false
	}
	c.counts.hits++
	return e.Handle, true
}

// load fetches url and stores the result.
func (c *Cache) load(ctx context.Context, url string) (string, error) {
	start := time.Now()
	p, err := c.fetcher.Fetch(ctx, url)
	c.stats.ObserveHistogram(stats.MetricFetchSeconds, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return c.insert(url, p), nil
}

// loadShared is load with concurrent callers for the same url sharing one
// fetch and one entry. The shared fetch is detached from any single
// caller's cancellation.
func (c *Cache) loadShared(ctx context.Context, url string) (string, error) {
	ch := c.group.DoChan(url, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// insert wraps the payload in a new handle and stores it, replacing any
// previous entry for url and evicting the oldest entries until it fits.
// A fetch that completes after Close is discarded and url returned.
func (c *Cache) insert(url string, p *fetch.Payload) string {
	size := int64(len(p.Data))
	h := c.handles.Create(p.Data, p.ContentType)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		c.handles.Release(h)
		return url
	}

	c.table.Remove(url)

	var evicted int64
	for c.table.Len() > 0 && c.table.Size()+size > c.maxSize {
		e, _ := c.table.RemoveOldest()
		evicted++
		c.logger.Debug("evicted image",
			zap.String("url", e.Key),
			zap.Int64("sizeBytes", e.Size),
		)
	}
	if size > c.maxSize {
		c.logger.Warn("image larger than cache capacity",
			zap.String("url", url),
			zap.Int64("sizeBytes", size),
			zap.Int64("maxSizeBytes", c.maxSize),
		)
	}

	c.table.Put(table.Entry{
		Key:         url,
		Handle:      h,
		ContentType: p.ContentType,
		Size:        size,
		CreatedAt:   c.now(),
	})

	if evicted > 0 {
		c.counts.evictions += evicted
		c.stats.IncCounter(stats.MetricEvictions, evicted)
	}
	c.reportLocked()
	return h
}

// release is the table's removal callback.
func (c *Cache) release(e table.Entry) {
	if !c.handles.Release(e.Handle) {
		c.logger.Error("released unknown handle", zap.String("url", e.Key))
	}
}

func (c *Cache) expired(e table.Entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) > c.maxAge
}

// reportLocked publishes occupancy gauges. Must be called with c.mu held.
func (c *Cache) reportLocked() {
	c.stats.SetGauge(stats.MetricSizeBytes, c.table.Size())
	c.stats.SetGauge(stats.MetricEntries, int64(c.table.Len()))
}

// Has reports whether an unexpired entry exists for url.
// It does not affect hit or miss counters.
func (c *Cache) Has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.table.Get(url)
	return ok && !c.expired(e, c.now())
}

// Remove evicts the entry for url, releasing its handle.
// Returns false if there was no entry.
func (c *Cache) Remove(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.table.Remove(url)
	if ok {
		c.reportLocked()
	}
	return ok
}

// Clear releases every handle, empties the cache and resets all counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.table.Purge()
	c.counts = counts{}
	c.reportLocked()
}

// Sweep removes every entry older than the max age and returns how many
// were removed. It runs periodically in the background; calling it
// directly is safe.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int
	for _, e := range c.table.Entries() {
		if c.expired(e, now) {
			c.table.Remove(e.Key)
			removed++
		}
	}

	if removed > 0 {
		c.counts.expirations += int64(removed)
		c.stats.IncCounter(stats.MetricExpirations, int64(removed))
		c.reportLocked()
		c.logger.Debug("expired images swept", zap.Int("count", removed))
	}
	return removed
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Open returns the bytes and content type behind a live handle.
// It reports false for released handles and for plain URLs.
// The returned slice is shared with the cache and must not be modified.
func (c *Cache) Open(h string) ([]byte, string, bool) {
	b, ok := c.handles.Open(h)
	if !ok {
		return nil, "", false
	}
	return b.Data, b.ContentType, true
}

// IsHandle reports whether s was produced by the cache rather than being a
// fallback URL. The handle may since have been released.
func (c *Cache) IsHandle(s string) bool {
	return handle.IsHandle(s)
}

// Close stops the background sweeper and releases every handle.
// Counters are kept so final stats remain readable.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if c.stop != nil {
		close(c.stop)
		<-c.done
	}

	c.mu.Lock()
	c.table.Purge()
	c.reportLocked()
	c.mu.Unlock()

	return nil
}
