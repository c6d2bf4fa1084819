// Package imagecachefx provides an fx module for a production image cache.
package imagecachefx

import (
	"context"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/prepdash/imagecache"
	"github.com/prepdash/imagecache/extract"
	"github.com/prepdash/imagecache/internal/fetch"
	"github.com/prepdash/imagecache/internal/fetch/gcsfetch"
	"github.com/prepdash/imagecache/internal/fetch/httpfetch"
	"github.com/prepdash/imagecache/internal/fetch/s3fetch"
	"github.com/prepdash/imagecache/internal/stats"
	"github.com/prepdash/imagecache/internal/stats/logger"
	"github.com/prepdash/imagecache/internal/stats/prometheus"
)

// Config holds configuration for the image cache.
// Zero values select the library defaults. Negative MaxSize or MaxAge
// fail construction with imagecache.ErrInvalidConfig.
type Config struct {
	// MaxSize is the byte capacity.
	MaxSize int64

	// MaxAge is how long an entry may be served.
	MaxAge time.Duration

	// SweepInterval is how often expired entries are swept.
	// Negative disables the background sweeper.
	SweepInterval time.Duration

	// Coalesce shares one fetch between concurrent misses for a URL.
	Coalesce bool

	// S3 routes S3 URLs through the AWS SDK instead of plain HTTP.
	S3         bool
	S3Region   string
	S3Endpoint string

	// GCS routes Cloud Storage URLs through the GCS client.
	GCS bool

	// UserAgent is sent on plain HTTP fetches.
	UserAgent string
}

// Module provides a *imagecache.Cache backed by HTTP, and optionally S3
// and GCS, fetchers.
// Requires a Config and a *zap.Logger to be provided. If a
// prometheus.Registerer is available, metrics are registered on it;
// otherwise they are logged.
var Module = fx.Module("imagecache",
	fx.Provide(
		newStatsCollector,
		newFetcher,
		newCache,
	),
)

// StatsParams holds dependencies for the stats collector.
type StatsParams struct {
	fx.In

	Logger     *zap.Logger
	Registerer prom.Registerer `optional:"true"`
}

func newStatsCollector(p StatsParams) stats.Collector {
	if p.Registerer != nil {
		return prometheus.New(p.Registerer)
	}
	return logger.New(p.Logger.Named("imagecache.stats"))
}

// FetcherParams holds dependencies for the fetcher.
type FetcherParams struct {
	fx.In

	Config    Config
	Lifecycle fx.Lifecycle
}

func newFetcher(p FetcherParams) (fetch.Fetcher, error) {
	var httpOpts []httpfetch.Option
	if p.Config.UserAgent != "" {
		httpOpts = append(httpOpts, httpfetch.WithUserAgent(p.Config.UserAgent))
	}
	router := fetch.NewRouter(httpfetch.New(httpOpts...))

	if p.Config.S3 {
		var s3Opts []s3fetch.Option
		if p.Config.S3Region != "" {
			s3Opts = append(s3Opts, s3fetch.WithRegion(p.Config.S3Region))
		}
		if p.Config.S3Endpoint != "" {
			s3Opts = append(s3Opts, s3fetch.WithEndpoint(p.Config.S3Endpoint))
		}
		s3f, err := s3fetch.New(context.Background(), s3Opts...)
		if err != nil {
			return nil, fmt.Errorf("creating S3 fetcher: %w", err)
		}
		router.Handle(extract.S3, s3f)
	}

	if p.Config.GCS {
		gcsf, err := gcsfetch.New(context.Background())
		if err != nil {
			return nil, fmt.Errorf("creating GCS fetcher: %w", err)
		}
		router.Handle(extract.GCS, gcsf)
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return gcsf.Close()
			},
		})
	}

	return router, nil
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Fetcher   fetch.Fetcher
	Lifecycle fx.Lifecycle
}

// Result holds the provided cache.
type Result struct {
	fx.Out

	Cache *imagecache.Cache
}

func newCache(p Params) (Result, error) {
	opts := []imagecache.Option{
		imagecache.WithFetcher(p.Fetcher),
		imagecache.WithStats(p.Collector),
		imagecache.WithLogger(p.Logger.Named("imagecache")),
		imagecache.WithCoalescing(p.Config.Coalesce),
	}
	if p.Config.MaxSize != 0 {
		opts = append(opts, imagecache.WithMaxSize(p.Config.MaxSize))
	}
	if p.Config.MaxAge != 0 {
		opts = append(opts, imagecache.WithMaxAge(p.Config.MaxAge))
	}
	switch {
	case p.Config.SweepInterval < 0:
		opts = append(opts, imagecache.WithSweepInterval(0))
	case p.Config.SweepInterval > 0:
		opts = append(opts, imagecache.WithSweepInterval(p.Config.SweepInterval))
	}

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
