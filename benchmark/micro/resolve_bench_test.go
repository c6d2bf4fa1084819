package micro

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prepdash/imagecache"
	"github.com/prepdash/imagecache/extract"
	"github.com/prepdash/imagecache/internal/fetch/memfetch"
)

func newBenchCache(b *testing.B, mem *memfetch.Fetcher, opts ...imagecache.Option) *imagecache.Cache {
	b.Helper()
	opts = append([]imagecache.Option{
		imagecache.WithFetcher(mem),
		imagecache.WithSweepInterval(0),
	}, opts...)
	cache, err := imagecache.New(opts...)
	if err != nil {
		b.Fatalf("creating cache: %v", err)
	}
	b.Cleanup(func() { _ = cache.Close() })
	return cache
}

func imageURL(i int) string {
	return fmt.Sprintf("https://bench.s3.amazonaws.com/img/%05d.png", i)
}

// BenchmarkResolve_Hit measures resolving an already cached image.
func BenchmarkResolve_Hit(b *testing.B) {
	mem := memfetch.New()
	mem.Set(imageURL(0), make([]byte, 64<<10), "image/png")
	cache := newBenchCache(b, mem)

	ctx := context.Background()
	if _, err := cache.Resolve(ctx, imageURL(0)); err != nil {
		b.Fatalf("warming cache: %v", err)
	}

	for b.Loop() {
		if _, err := cache.Resolve(ctx, imageURL(0)); err != nil {
			b.Fatalf("resolve error: %v", err)
		}
	}
}

// BenchmarkResolve_MissWithEviction measures a miss that evicts the
// oldest entry every time.
func BenchmarkResolve_MissWithEviction(b *testing.B) {
	const n = 1024
	mem := memfetch.New()
	for i := range n {
		mem.Set(imageURL(i), make([]byte, 4<<10), "image/png")
	}
	// Room for a quarter of the images, so a cyclic scan always misses.
	cache := newBenchCache(b, mem, imagecache.WithMaxSize(n/4*(4<<10)))

	ctx := context.Background()
	var i int
	for b.Loop() {
		if _, err := cache.Resolve(ctx, imageURL(i%n)); err != nil {
			b.Fatalf("resolve error: %v", err)
		}
		i++
	}
}

// BenchmarkResolve_Parallel measures contended hits across goroutines.
func BenchmarkResolve_Parallel(b *testing.B) {
	const n = 256
	mem := memfetch.New()
	for i := range n {
		mem.Set(imageURL(i), make([]byte, 1<<10), "image/png")
	}
	cache := newBenchCache(b, mem)

	ctx := context.Background()
	for i := range n {
		if _, err := cache.Resolve(ctx, imageURL(i)); err != nil {
			b.Fatalf("warming cache: %v", err)
		}
	}

	var next atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := int(next.Add(1)) % n
			if _, err := cache.Resolve(ctx, imageURL(i)); err != nil {
				b.Errorf("resolve error: %v", err)
				return
			}
		}
	})
}

// BenchmarkResolve_Coalesced compares concurrent misses with and without
// coalescing. Each iteration clears the cache so every resolve misses.
func BenchmarkResolve_Coalesced(b *testing.B) {
	for _, coalesce := range []bool{false, true} {
		b.Run(fmt.Sprintf("coalesce=%v", coalesce), func(b *testing.B) {
			mem := memfetch.New()
			mem.Set(imageURL(0), make([]byte, 16<<10), "image/png")
			cache := newBenchCache(b, mem, imagecache.WithCoalescing(coalesce))
			urls := []string{imageURL(0), imageURL(0), imageURL(0), imageURL(0)}

			ctx := context.Background()
			var ops int
			for b.Loop() {
				cache.Clear()
				cache.PreloadAll(ctx, urls)
				ops++
			}
			b.ReportMetric(float64(mem.TotalCalls())/float64(ops), "fetches/op")
		})
	}
}

// BenchmarkExtract measures URL extraction from a long markdown document.
func BenchmarkExtract(b *testing.B) {
	var sb strings.Builder
	for i := range 200 {
		fmt.Fprintf(&sb, "Question %d text with an image ![fig](%s) and ", i, imageURL(i))
		fmt.Fprintf(&sb, `an inline <img src="%s" alt="alt"> tag.`+"\n", imageURL(i+1000))
	}
	content := sb.String()

	for b.Loop() {
		if urls := extract.ImageURLs(content, extract.S3); len(urls) != 400 {
			b.Fatalf("extracted %d urls, want 400", len(urls))
		}
	}
}
