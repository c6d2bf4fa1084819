// Package fetch defines how the image cache retrieves bytes by URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/prepdash/imagecache/extract"
	"github.com/prepdash/imagecache/internal/codec"
	"github.com/prepdash/imagecache/internal/codec/gzipcodec"
	"github.com/prepdash/imagecache/internal/codec/noopcodec"
	"github.com/prepdash/imagecache/internal/codec/zstdcodec"
)

// ErrNotFound is returned when the origin has no object at the URL.
var ErrNotFound = errors.New("fetch: image not found")

// StatusError reports a non-success HTTP status from the origin.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: unexpected status %d", e.URL, e.StatusCode)
}

// Payload is a fetched image.
type Payload struct {
	Data        []byte
	ContentType string
}

// Fetcher retrieves the bytes behind a URL.
// Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Payload, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, rawURL string) (*Payload, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	return f(ctx, rawURL)
}

// Decoder returns the decoder for a Content-Encoding value.
// Empty and "identity" map to the pass-through decoder.
func Decoder(contentEncoding string) (codec.Decoder, error) {
	switch codec.Normalize(contentEncoding) {
	case "identity":
		return noopcodec.Decoder{}, nil
	case "gzip":
		return gzipcodec.Decoder{}, nil
	case "zstd":
		return zstdcodec.Decoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

// Decode reads r fully, decoding it according to contentEncoding.
func Decode(r io.Reader, contentEncoding string) ([]byte, error) {
	d, err := Decoder(contentEncoding)
	if err != nil {
		return nil, err
	}

	dec, err := d.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("creating %s decoder: %w", d.Encoding(), err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", d.Encoding(), err)
	}
	return data, nil
}

// Router dispatches each URL to the first route whose matcher accepts it,
// falling back to a default fetcher.
type Router struct {
	routes   []route
	fallback Fetcher
}

type route struct {
	match   extract.Matcher
	fetcher Fetcher
}

// Compile-time check that Router implements Fetcher.
var _ Fetcher = (*Router)(nil)

// NewRouter creates a router. fallback handles URLs no route accepts and
// may be nil, in which case such URLs fail.
func NewRouter(fallback Fetcher) *Router {
	return &Router{fallback: fallback}
}

// Handle adds a route. Routes are tried in the order they were added.
func (r *Router) Handle(match extract.Matcher, f Fetcher) *Router {
	r.routes = append(r.routes, route{match: match, fetcher: f})
	return r
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	for _, rt := range r.routes {
		if rt.match(u) {
			return rt.fetcher.Fetch(ctx, rawURL)
		}
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("fetch: no route for %s", rawURL)
	}
	return r.fallback.Fetch(ctx, rawURL)
}
