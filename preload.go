package imagecache

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/prepdash/imagecache/extract"
)

// PreloadAll resolves every URL concurrently and returns once all have
// settled. A failing URL does not stop the others; empty URLs are skipped.
func (c *Cache) PreloadAll(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, u := range urls {
		if u == "" {
			continue
		}
		g.Go(func() error {
			// Resolve only fails for closed caches; siblings keep going.
			_, _ = c.Resolve(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
}

// Preload warms the cache with urls. A nil or empty slice is a no-op.
func (c *Cache) Preload(ctx context.Context, urls []string) {
	c.PreloadAll(ctx, urls)
}

// PreloadContent extracts image URLs from markdown or HTML content, warms
// the cache with them and returns them.
func (c *Cache) PreloadContent(ctx context.Context, content string, match extract.Matcher) []string {
	urls := extract.ImageURLs(content, match)
	c.PreloadAll(ctx, urls)
	return urls
}

// PreloadQuestion warms the cache with every image referenced by q.
func (c *Cache) PreloadQuestion(ctx context.Context, q extract.Question, match extract.Matcher) []string {
	urls := extract.FromQuestion(q, match)
	c.PreloadAll(ctx, urls)
	return urls
}
