// Package httpfetch implements a Fetcher over plain HTTP(S) GET.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/prepdash/imagecache/internal/fetch"
)

// DefaultResponseHeaderTimeout is the default timeout for receiving response headers.
const DefaultResponseHeaderTimeout = 30 * time.Second

// DefaultMaxBytes caps a single image body.
const DefaultMaxBytes = 64 << 20

// Compile-time check that Fetcher implements fetch.Fetcher.
var _ fetch.Fetcher = (*Fetcher)(nil)

// Fetcher downloads images over HTTP.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithMaxBytes limits how many bytes are read from one response.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		f.maxBytes = n
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// New creates a Fetcher with an instrumented transport.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConnsPerHost:   16,
			}),
		},
		maxBytes:  DefaultMaxBytes,
		userAgent: "imagecache/1",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs a GET for rawURL.
// 404 maps to fetch.ErrNotFound; any other non-2xx status to *fetch.StatusError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fetch.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &fetch.StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := fetch.Decode(body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("reading %s: body exceeds %d bytes", rawURL, f.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &fetch.Payload{Data: data, ContentType: contentType}, nil
}
