package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/prepdash/imagecache"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve cached images and the cache inspector over HTTP",
	Long: `Run the cache behind an HTTP server.

Endpoints:
  GET    /image?url=URL         cached image bytes (X-Cache: Hit|Miss), or a
                                redirect to URL when it cannot be fetched
  POST   /preload               {"content": "...", "urls": [...]}
  GET    /debug/entries         cached entries, oldest first
  DELETE /debug/entries?url=URL remove one entry
  GET    /debug/stats           counters and process info
  POST   /debug/clear           drop every entry and reset counters
  GET    /metrics               Prometheus metrics

Examples:
  imagecache serve --addr :8080 --max-size 256 --coalesce`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var addr string

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	addExtractFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func newRegistry() *prom.Registry {
	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// ServerParams holds dependencies for the HTTP server.
type ServerParams struct {
	fx.In

	Cache      *imagecache.Cache
	Gatherer   prom.Gatherer
	Logger     *zap.Logger
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
}

func registerServer(p ServerParams) {
	log := p.Logger.Named("server")
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(p.Cache, p.Gatherer, matcher(), log).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", srv.Addr, err)
			}
			log.Info("serving", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", zap.Error(err))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if verbose {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	app := fx.New(
		appOptions(log),
		fx.Provide(
			newRegistry,
			func(r *prom.Registry) prom.Registerer { return r },
			func(r *prom.Registry) prom.Gatherer { return r },
		),
		fx.Invoke(registerServer),
	)

	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", addr)

	var exitErr error
	select {
	case <-ctx.Done():
	case sig := <-app.Wait():
		if sig.ExitCode != 0 {
			exitErr = fmt.Errorf("server exited with code %d", sig.ExitCode)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	return exitErr
}
