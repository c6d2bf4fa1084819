package imagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prepdash/imagecache/internal/fetch"
	"github.com/prepdash/imagecache/internal/fetch/memfetch"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestCache builds a cache with the sweeper disabled.
func newTestCache(t *testing.T, mem *memfetch.Fetcher, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithFetcher(mem), WithSweepInterval(0)}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustResolve(t *testing.T, c *Cache, url string) string {
	t.Helper()
	h, err := c.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("Resolve(%q) error = %v", url, err)
	}
	return h
}

// checkAccounting verifies the byte total matches the live entries and
// that every live entry owns exactly one live handle.
func checkAccounting(t *testing.T, c *Cache) {
	t.Helper()
	var sum int64
	for _, e := range c.Entries() {
		sum += e.Size
	}
	s := c.Stats()
	if s.TotalSize != sum {
		t.Errorf("TotalSize = %d, want %d", s.TotalSize, sum)
	}
	if live := c.handles.Live(); live != s.Entries {
		t.Errorf("live handles = %d, want %d", live, s.Entries)
	}
}

func TestNew_RequiresFetcher(t *testing.T) {
	_, err := New()
	if !errors.Is(err, ErrNoFetcher) {
		t.Errorf("New() error = %v, want ErrNoFetcher", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero max size", WithMaxSize(0)},
		{"negative max size", WithMaxSize(-1)},
		{"zero max age", WithMaxAge(0)},
		{"negative sweep interval", WithSweepInterval(-time.Second)},
		{"zero preload concurrency", WithPreloadConcurrency(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithFetcher(memfetch.New()), tt.opt)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c := newTestCache(t, memfetch.New())

	cfg := c.Config()
	if cfg.MaxSize != DefaultMaxSize {
		t.Errorf("MaxSize = %d, want %d", cfg.MaxSize, DefaultMaxSize)
	}
	if cfg.MaxAge != DefaultMaxAge {
		t.Errorf("MaxAge = %v, want %v", cfg.MaxAge, DefaultMaxAge)
	}
}

func TestResolve_EmptyURL(t *testing.T) {
	c := newTestCache(t, memfetch.New())

	_, err := c.Resolve(context.Background(), "")
	if !errors.Is(err, ErrEmptyURL) {
		t.Errorf("Resolve() error = %v, want ErrEmptyURL", err)
	}
	if s := c.Stats(); s.Misses != 0 {
		t.Errorf("Misses = %d, want 0", s.Misses)
	}
}

func TestResolve_MissThenHit(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", []byte("\x89PNG\r\n\x1a\nimage"), "image/png")
	c := newTestCache(t, mem)

	h1 := mustResolve(t, c, "u")
	if !c.IsHandle(h1) {
		t.Fatalf("Resolve() = %q, want a handle", h1)
	}
	before := c.Stats()

	h2 := mustResolve(t, c, "u")
	after := c.Stats()

	if h2 != h1 {
		t.Errorf("second Resolve() = %q, want %q", h2, h1)
	}
	if after.Hits-before.Hits != 1 {
		t.Errorf("Hits delta = %d, want 1", after.Hits-before.Hits)
	}
	if after.TotalSize != before.TotalSize {
		t.Errorf("TotalSize = %d, want %d", after.TotalSize, before.TotalSize)
	}
	if mem.Calls("u") != 1 {
		t.Errorf("fetch calls = %d, want 1", mem.Calls("u"))
	}

	data, ct, ok := c.Open(h1)
	if !ok {
		t.Fatal("Open() ok = false, want true")
	}
	if !bytes.Equal(data, []byte("\x89PNG\r\n\x1a\nimage")) {
		t.Errorf("Open() data = %q", data)
	}
	if ct != "image/png" {
		t.Errorf("Open() content type = %q, want image/png", ct)
	}
}

func TestResolve_RefetchDoesNotShareBytes(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", []byte("image"), "image/png")
	c := newTestCache(t, mem)

	data, _, ok := c.Open(mustResolve(t, c, "u"))
	if !ok {
		t.Fatal("Open() ok = false, want true")
	}
	data[0] = 'X'

	c.Remove("u")
	data, _, ok = c.Open(mustResolve(t, c, "u"))
	if !ok {
		t.Fatal("Open() after refetch ok = false, want true")
	}
	if string(data) != "image" {
		t.Errorf("Open() after refetch = %q, want %q", data, "image")
	}
}

func TestResolve_FetchFailureFallsBack(t *testing.T) {
	mem := memfetch.New()
	mem.Fail("bad", &fetch.StatusError{URL: "bad", StatusCode: 500})
	c := newTestCache(t, mem)

	got := mustResolve(t, c, "bad")
	if got != "bad" {
		t.Errorf("Resolve() = %q, want original url", got)
	}
	if c.IsHandle(got) {
		t.Error("IsHandle() = true for fallback url")
	}
	if c.Has("bad") {
		t.Error("Has() = true after failed fetch")
	}

	s := c.Stats()
	if s.Misses != 1 || s.FetchErrors != 1 || s.Entries != 0 {
		t.Errorf("Stats() = %+v, want 1 miss, 1 fetch error, 0 entries", s)
	}

	// Failures are not cached; the next resolve retries.
	mustResolve(t, c, "bad")
	if mem.Calls("bad") != 2 {
		t.Errorf("fetch calls = %d, want 2", mem.Calls("bad"))
	}
}

func TestResolve_NotFoundFallsBack(t *testing.T) {
	c := newTestCache(t, memfetch.New())

	if got := mustResolve(t, c, "missing"); got != "missing" {
		t.Errorf("Resolve() = %q, want original url", got)
	}
}

func TestResolve_EvictsOldestFirst(t *testing.T) {
	mem := memfetch.New()
	mem.Set("a", make([]byte, 600), "image/png")
	mem.Set("b", make([]byte, 500), "image/png")
	clock := newFakeClock()
	c := newTestCache(t, mem, WithMaxSize(1000), WithClock(clock.Now))

	ha := mustResolve(t, c, "a")
	clock.Advance(time.Millisecond)
	mustResolve(t, c, "b")

	if c.Has("a") {
		t.Error("Has(a) = true, want evicted")
	}
	if !c.Has("b") {
		t.Error("Has(b) = false, want cached")
	}
	s := c.Stats()
	if s.TotalSize != 500 {
		t.Errorf("TotalSize = %d, want 500", s.TotalSize)
	}
	if s.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Evictions)
	}
	if _, _, ok := c.Open(ha); ok {
		t.Error("Open() of evicted handle ok = true")
	}
	checkAccounting(t, c)
}

func TestResolve_EvictsEarliestCreatedWhenClockStepsBack(t *testing.T) {
	mem := memfetch.New()
	for _, u := range []string{"a", "b", "c"} {
		mem.Set(u, make([]byte, 400), "image/png")
	}
	clock := newFakeClock()
	c := newTestCache(t, mem, WithMaxSize(1000), WithClock(clock.Now))

	clock.Advance(10 * time.Second)
	mustResolve(t, c, "a")
	clock.Advance(-5 * time.Second)
	mustResolve(t, c, "b")
	clock.Advance(10 * time.Second)
	mustResolve(t, c, "c")

	if c.Has("b") {
		t.Error("Has(b) = true, want evicted as earliest created")
	}
	if !c.Has("a") {
		t.Error("Has(a) = false, want cached")
	}

	var keys []string
	for _, e := range c.Entries() {
		keys = append(keys, e.URL)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("Entries() urls = %v, want [a c]", keys)
	}
	checkAccounting(t, c)
}

func TestResolve_CapacityRespected(t *testing.T) {
	mem := memfetch.New()
	for i := range 20 {
		mem.Set(fmt.Sprintf("img-%d", i), make([]byte, 100+i*10), "image/png")
	}
	clock := newFakeClock()
	c := newTestCache(t, mem, WithMaxSize(1000), WithClock(clock.Now))

	for i := range 20 {
		mustResolve(t, c, fmt.Sprintf("img-%d", i))
		clock.Advance(time.Millisecond)

		if s := c.Stats(); s.TotalSize > 1000 {
			t.Fatalf("after img-%d TotalSize = %d, want <= 1000", i, s.TotalSize)
		}
		checkAccounting(t, c)
	}

	// Survivors are the most recent inserts, in insertion order.
	entries := c.Entries()
	last := entries[len(entries)-1]
	if last.URL != "img-19" {
		t.Errorf("newest entry = %q, want img-19", last.URL)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.Before(entries[i-1].CreatedAt) {
			t.Errorf("Entries() not oldest first at %d", i)
		}
	}
}

func TestResolve_OversizedEntryStandsAlone(t *testing.T) {
	mem := memfetch.New()
	mem.Set("small", make([]byte, 10), "image/png")
	mem.Set("huge", make([]byte, 5000), "image/png")
	c := newTestCache(t, mem, WithMaxSize(1000))

	mustResolve(t, c, "small")
	h := mustResolve(t, c, "huge")

	if !c.IsHandle(h) {
		t.Fatalf("Resolve(huge) = %q, want a handle", h)
	}
	s := c.Stats()
	if s.Entries != 1 || s.TotalSize != 5000 {
		t.Errorf("Stats() = %+v, want huge as the sole entry", s)
	}
	checkAccounting(t, c)
}

func TestResolve_Expiry(t *testing.T) {
	mem := memfetch.New()
	mem.Set("x", []byte("data"), "image/png")
	clock := newFakeClock()
	c := newTestCache(t, mem, WithMaxAge(100*time.Millisecond), WithClock(clock.Now))

	h1 := mustResolve(t, c, "x")

	clock.Advance(100 * time.Millisecond)
	if !c.Has("x") {
		t.Error("Has() = false at exactly max age, want true")
	}

	clock.Advance(50 * time.Millisecond)
	if c.Has("x") {
		t.Error("Has() = true after max age, want false")
	}

	h2 := mustResolve(t, c, "x")
	s := c.Stats()
	if s.Hits != 0 || s.Misses != 2 {
		t.Errorf("Stats() hits=%d misses=%d, want 0 and 2", s.Hits, s.Misses)
	}
	if s.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", s.Expirations)
	}
	if mem.Calls("x") != 2 {
		t.Errorf("fetch calls = %d, want 2", mem.Calls("x"))
	}
	if h2 == h1 {
		t.Error("expired entry handle was reused")
	}
	if _, _, ok := c.Open(h1); ok {
		t.Error("Open() of expired handle ok = true")
	}
	checkAccounting(t, c)
}

func TestResolve_ConcurrentMissesReplaceEntry(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", make([]byte, 100), "image/png")
	c := newTestCache(t, mem)

	release := mem.Hold()
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Resolve(context.Background(), "u")
		}()
	}
	waitForCalls(t, mem, "u", 2)
	release()
	wg.Wait()

	s := c.Stats()
	if s.Entries != 1 || s.TotalSize != 100 {
		t.Errorf("Stats() = %+v, want one entry of 100 bytes", s)
	}
	if s.Evictions != 0 {
		t.Errorf("Evictions = %d, want 0", s.Evictions)
	}
	if got := c.handles.Released(); got != 1 {
		t.Errorf("released handles = %d, want 1", got)
	}
	checkAccounting(t, c)
}

func TestResolve_Coalescing(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", make([]byte, 100), "image/png")
	c := newTestCache(t, mem, WithCoalescing(true))

	release := mem.Hold()
	const callers = 5
	handles := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i], _ = c.Resolve(context.Background(), "u")
		}()
	}
	waitForCalls(t, mem, "u", 1)
	// Give the remaining callers time to join the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	if mem.Calls("u") != 1 {
		t.Errorf("fetch calls = %d, want 1", mem.Calls("u"))
	}
	for i, h := range handles {
		if h != handles[0] {
			t.Errorf("caller %d handle = %q, want %q", i, h, handles[0])
		}
	}
	if s := c.Stats(); s.Misses+s.Hits != callers {
		t.Errorf("hits+misses = %d, want %d", s.Misses+s.Hits, callers)
	}
	if got := c.handles.Released(); got != 0 {
		t.Errorf("released handles = %d, want 0", got)
	}
}

func TestResolve_CoalescingCallerCancel(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", []byte("data"), "image/png")
	c := newTestCache(t, mem, WithCoalescing(true))

	release := mem.Hold()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string)
	go func() {
		h, _ := c.Resolve(ctx, "u")
		done <- h
	}()
	waitForCalls(t, mem, "u", 1)
	cancel()

	if got := <-done; got != "u" {
		t.Errorf("Resolve() after cancel = %q, want fallback url", got)
	}

	// The shared fetch keeps running and still populates the cache.
	release()
	deadline := time.Now().Add(time.Second)
	for !c.Has("u") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !c.Has("u") {
		t.Error("Has() = false after detached fetch completed")
	}
}

func waitForCalls(t *testing.T, mem *memfetch.Fetcher, url string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for mem.Calls(url) < n {
		if time.Now().After(deadline) {
			t.Fatalf("fetch calls for %q = %d, want %d", url, mem.Calls(url), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHas_DoesNotCount(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", []byte("data"), "image/png")
	c := newTestCache(t, mem)

	if c.Has("u") {
		t.Error("Has() = true before resolve")
	}
	mustResolve(t, c, "u")
	if !c.Has("u") {
		t.Error("Has() = false after resolve")
	}
	if s := c.Stats(); s.Hits != 0 || s.Misses != 1 {
		t.Errorf("Stats() hits=%d misses=%d, want 0 and 1", s.Hits, s.Misses)
	}
}

func TestRemove(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", []byte("data"), "image/png")
	c := newTestCache(t, mem)

	h := mustResolve(t, c, "u")
	if !c.Remove("u") {
		t.Error("Remove() = false, want true")
	}
	if c.Remove("u") {
		t.Error("second Remove() = true, want false")
	}
	if c.Has("u") {
		t.Error("Has() = true after Remove")
	}
	if _, _, ok := c.Open(h); ok {
		t.Error("Open() of removed handle ok = true")
	}
	if !c.IsHandle(h) {
		t.Error("IsHandle() = false for released handle")
	}
	checkAccounting(t, c)
}

func TestClear(t *testing.T) {
	mem := memfetch.New()
	urls := []string{"a", "b", "c"}
	for _, u := range urls {
		mem.Set(u, []byte(u+"-data"), "image/png")
	}
	c := newTestCache(t, mem)

	for _, u := range urls {
		mustResolve(t, c, u)
		mustResolve(t, c, u)
	}
	c.Clear()

	s := c.Stats()
	if s != (Stats{}) {
		t.Errorf("Stats() after Clear = %+v, want zero", s)
	}
	for _, u := range urls {
		if c.Has(u) {
			t.Errorf("Has(%q) = true after Clear", u)
		}
	}
	if live := c.handles.Live(); live != 0 {
		t.Errorf("live handles = %d, want 0", live)
	}
}

func TestSweep(t *testing.T) {
	mem := memfetch.New()
	mem.Set("old", []byte("old"), "image/png")
	mem.Set("new", []byte("new"), "image/png")
	clock := newFakeClock()
	c := newTestCache(t, mem, WithMaxAge(time.Minute), WithClock(clock.Now))

	mustResolve(t, c, "old")
	clock.Advance(45 * time.Second)
	mustResolve(t, c, "new")
	clock.Advance(30 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if c.Has("old") || !c.Has("new") {
		t.Error("Sweep() removed the wrong entries")
	}
	if s := c.Stats(); s.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", s.Expirations)
	}
	if n := c.Sweep(); n != 0 {
		t.Errorf("second Sweep() = %d, want 0", n)
	}
	checkAccounting(t, c)
}

func TestSweepLoop(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", []byte("data"), "image/png")
	clock := newFakeClock()
	c, err := New(
		WithFetcher(mem),
		WithClock(clock.Now),
		WithMaxAge(time.Second),
		WithSweepInterval(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	mustResolve(t, c, "u")
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(time.Second)
	for c.Stats().Entries != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep did not remove expired entry")
		}
		time.Sleep(time.Millisecond)
	}
	if s := c.Stats(); s.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", s.Expirations)
	}
}

func TestClose(t *testing.T) {
	mem := memfetch.New()
	mem.Set("u", []byte("data"), "image/png")
	c, err := New(WithFetcher(mem))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	h := mustResolve(t, c, "u")
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if _, err := c.Resolve(context.Background(), "u"); !errors.Is(err, ErrClosed) {
		t.Errorf("Resolve() after Close error = %v, want ErrClosed", err)
	}
	if _, _, ok := c.Open(h); ok {
		t.Error("Open() after Close ok = true")
	}
	if s := c.Stats(); s.Misses != 1 || s.Entries != 0 {
		t.Errorf("Stats() after Close = %+v, want counters kept and no entries", s)
	}
}
