package main

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/prepdash/imagecache"
	"github.com/prepdash/imagecache/fx/imagecachefx"
)

// cacheConfig builds the module configuration from the global flags.
func cacheConfig() imagecachefx.Config {
	interval := sweepInterval
	if interval == 0 {
		interval = -1
	}
	return imagecachefx.Config{
		MaxSize:       maxSizeMiB << 20,
		MaxAge:        maxAge,
		SweepInterval: interval,
		Coalesce:      coalesce,
		S3:            s3Region != "" || s3Endpoint != "",
		S3Region:      s3Region,
		S3Endpoint:    s3Endpoint,
		GCS:           useGCS,
		UserAgent:     "imagecache-cli",
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

// appOptions returns the fx options shared by every command.
func appOptions(log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cacheConfig()),
		fx.Supply(log),
		fx.WithLogger(func() fxevent.Logger {
			if verbose {
				return &fxevent.ZapLogger{Logger: log.Named("fx")}
			}
			return fxevent.NopLogger
		}),
		imagecachefx.Module,
	)
}

// withCache starts a cache for the duration of fn.
func withCache(ctx context.Context, fn func(context.Context, *imagecache.Cache) error) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	var cache *imagecache.Cache
	app := fx.New(appOptions(log), fx.Populate(&cache))
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("starting cache: %w", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	return fn(ctx, cache)
}
