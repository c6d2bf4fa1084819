// Package memoryimagecachefx provides an fx module for an image cache
// backed by an in-memory fetcher.
// Useful for testing.
package memoryimagecachefx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/prepdash/imagecache"
	"github.com/prepdash/imagecache/internal/fetch/memfetch"
	"github.com/prepdash/imagecache/internal/stats"
	"github.com/prepdash/imagecache/internal/stats/logger"
)

// Module provides an image cache and the *memfetch.Fetcher behind it, so
// tests can register payloads and inspect fetch counts.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("memoryimagecache",
	fx.Provide(
		newStatsCollector,
		memfetch.New,
		newCache,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("imagecache.stats"))
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Collector stats.Collector
	Fetcher   *memfetch.Fetcher
	Lifecycle fx.Lifecycle
	Options   []imagecache.Option `optional:"true"`
}

// Result holds the provided cache.
type Result struct {
	fx.Out

	Cache *imagecache.Cache
}

func newCache(p Params) (Result, error) {
	opts := append([]imagecache.Option{
		imagecache.WithFetcher(p.Fetcher),
		imagecache.WithStats(p.Collector),
		imagecache.WithLogger(p.Logger.Named("imagecache")),
	}, p.Options...)

	cache, err := imagecache.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return cache.Close()
		},
	})

	return Result{Cache: cache}, nil
}
