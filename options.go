package imagecache

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prepdash/imagecache/internal/fetch"
	"github.com/prepdash/imagecache/internal/stats"
)

// Defaults applied by New.
const (
	DefaultMaxSize            int64 = 100 << 20 // 100 MiB
	DefaultMaxAge                   = time.Hour
	DefaultSweepInterval            = 5 * time.Minute
	DefaultPreloadConcurrency       = 8
)

// Option configures a Cache.
type Option interface {
	apply(*options)
}

// options holds the cache configuration.
type options struct {
	fetcher            fetch.Fetcher
	maxSize            int64
	maxAge             time.Duration
	sweepInterval      time.Duration
	preloadConcurrency int
	coalesce           bool
	clock              func() time.Time
	stats              stats.Collector
	logger             *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		maxSize:            DefaultMaxSize,
		maxAge:             DefaultMaxAge,
		sweepInterval:      DefaultSweepInterval,
		preloadConcurrency: DefaultPreloadConcurrency,
		clock:              time.Now,
		stats:              stats.NewNoop(),
		logger:             zap.NewNop(),
	}
}

func (o options) validate() error {
	switch {
	case o.maxSize <= 0:
		return fmt.Errorf("%w: max size %d", ErrInvalidConfig, o.maxSize)
	case o.maxAge <= 0:
		return fmt.Errorf("%w: max age %s", ErrInvalidConfig, o.maxAge)
	case o.sweepInterval < 0:
		return fmt.Errorf("%w: sweep interval %s", ErrInvalidConfig, o.sweepInterval)
	case o.preloadConcurrency <= 0:
		return fmt.Errorf("%w: preload concurrency %d", ErrInvalidConfig, o.preloadConcurrency)
	}
	return nil
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithFetcher sets how images are retrieved. Required.
func WithFetcher(f fetch.Fetcher) Option {
	return optionFunc(func(o *options) {
		o.fetcher = f
	})
}

// WithMaxSize sets the byte capacity. Default is 100 MiB.
func WithMaxSize(n int64) Option {
	return optionFunc(func(o *options) {
		o.maxSize = n
	})
}

// WithMaxAge sets how long an entry may be served. Default is one hour.
func WithMaxAge(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.maxAge = d
	})
}

// WithSweepInterval sets how often expired entries are swept in the
// background. Zero disables the sweeper. Default is five minutes.
func WithSweepInterval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.sweepInterval = d
	})
}

// WithPreloadConcurrency bounds how many fetches PreloadAll runs at once.
// Default is 8.
func WithPreloadConcurrency(n int) Option {
	return optionFunc(func(o *options) {
		o.preloadConcurrency = n
	})
}

// WithCoalescing makes concurrent misses for the same URL share a single
// fetch and a single entry. Off by default.
func WithCoalescing(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.coalesce = enabled
	})
}

// WithClock sets the time source used for entry ages.
// Eviction follows the earliest CreatedAt even if the clock steps backwards.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		if now != nil {
			o.clock = now
		}
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		if c != nil {
			o.stats = c
		}
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		if l != nil {
			o.logger = l
		}
	})
}
