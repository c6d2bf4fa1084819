// Package memfetch provides an in-memory Fetcher for tests and benchmarks.
package memfetch

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prepdash/imagecache/internal/fetch"
)

// Compile-time check that Fetcher implements fetch.Fetcher.
var _ fetch.Fetcher = (*Fetcher)(nil)

// Fetcher serves preloaded payloads and records how often each URL was
// requested.
type Fetcher struct {
	mu      sync.Mutex
	objects map[string]fetch.Payload
	errs    map[string]error
	calls   map[string]int
	latency time.Duration
	gate    chan struct{}
}

// New creates an empty fetcher.
func New() *Fetcher {
	return &Fetcher{
		objects: make(map[string]fetch.Payload),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// Set registers the payload served for url.
// The data is copied to prevent caller mutations from affecting the fetcher.
func (f *Fetcher) Set(url string, data []byte, contentType string) {
	copied := make([]byte, len(data))
	copy(copied, data)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[url] = fetch.Payload{Data: copied, ContentType: contentType}
	delete(f.errs, url)
}

// Fail makes every fetch of url return err.
func (f *Fetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// SetLatency delays every fetch by d.
func (f *Fetcher) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// Hold blocks all subsequent fetches until the returned function is called.
func (f *Fetcher) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times url was fetched.
func (f *Fetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// TotalCalls returns the number of fetches across all URLs.
func (f *Fetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Fetch returns the registered payload, the registered error, or
// fetch.ErrNotFound.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*fetch.Payload, error) {
	f.mu.Lock()
	f.calls[url]++
	latency := f.latency
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	p, ok := f.objects[url]
	if !ok {
		return nil, fetch.ErrNotFound
	}
	if p.ContentType == "" {
		p.ContentType = http.DetectContentType(p.Data)
	}
	// Each fetch gets its own bytes, as a network fetch would.
	p.Data = bytes.Clone(p.Data)
	return &p, nil
}
