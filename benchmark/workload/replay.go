package workload

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prepdash/imagecache"
	"github.com/prepdash/imagecache/internal/fetch/memfetch"
)

// Result is the outcome of replaying a workload against one cache
// configuration.
type Result struct {
	Name      string
	Latencies []float64 // Per-request latency in milliseconds, in request order.
	Stats     imagecache.Stats
	Fetches   int // Upstream fetches issued.
	Elapsed   time.Duration
}

// Replay runs w against a fresh cache built from opts. Every upstream
// fetch is delayed by latency. Requests are issued by concurrency workers
// in order.
func Replay(ctx context.Context, name string, w *Workload, latency time.Duration, concurrency int, opts ...imagecache.Option) (*Result, error) {
	mem := memfetch.New()
	mem.SetLatency(latency)
	w.Populate(mem)

	opts = append([]imagecache.Option{
		imagecache.WithFetcher(mem),
		imagecache.WithSweepInterval(0),
	}, opts...)
	cache, err := imagecache.New(opts...)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	latencies := make([]float64, len(w.Requests))
	next := make(chan int)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(next)
		for i := range w.Requests {
			select {
			case next <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	start := time.Now()
	for range max(1, concurrency) {
		g.Go(func() error {
			for i := range next {
				url := w.Images[w.Requests[i]].URL
				t0 := time.Now()
				if _, err := cache.Resolve(ctx, url); err != nil {
					return err
				}
				latencies[i] = float64(time.Since(t0).Microseconds()) / 1000
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{
		Name:      name,
		Latencies: latencies,
		Stats:     cache.Stats(),
		Fetches:   mem.TotalCalls(),
		Elapsed:   time.Since(start),
	}, nil
}
