package blobcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFetcher serves canned payloads and counts transfers. If blocked is
// set, Fetch waits for release (or context cancellation) before returning.
type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    int64

	blocked bool
	release chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		release:  make(chan struct{}),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	atomic.AddInt64(&f.calls, 1)

	f.mu.Lock()
	blocked := f.blocked
	f.mu.Unlock()

	if blocked {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if data, ok := f.payloads[url]; ok {
		return data, nil
	}
	return nil, errors.New("no payload configured")
}

func (f *fakeFetcher) calls64() int64 { return atomic.LoadInt64(&f.calls) }

func TestCache_AcquireCachesPayload(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/a.ogg"] = []byte("audio-bytes-a")

	cache := New(1024, WithFetcher(fetcher))

	h := cache.Acquire(context.Background(), "track-a", "http://example.com/a.ogg")
	if !h.Cached() {
		t.Fatal("expected payload to be cached")
	}
	if !bytes.Equal(h.Data, []byte("audio-bytes-a")) {
		t.Errorf("payload mismatch: got %q", h.Data)
	}
	if !cache.Contains("track-a") {
		t.Error("Contains returned false after successful acquire")
	}

	// A second acquire must not transfer again.
	h2 := cache.Acquire(context.Background(), "track-a", "http://example.com/a.ogg")
	if !h2.Cached() {
		t.Fatal("expected cache hit")
	}
	if got := fetcher.calls64(); got != 1 {
		t.Errorf("expected 1 transfer, got %d", got)
	}
}

func TestCache_ByteBudgetInvariant(t *testing.T) {
	const maxBytes = 100

	fetcher := newFakeFetcher()
	cache := New(maxBytes, WithFetcher(fetcher))

	sizes := []int{10, 40, 40, 30, 90, 5, 60, 100, 25}
	for i, size := range sizes {
		url := fmt.Sprintf("http://example.com/%d", i)
		fetcher.mu.Lock()
		fetcher.payloads[url] = make([]byte, size)
		fetcher.mu.Unlock()

		cache.Acquire(context.Background(), fmt.Sprintf("track-%d", i), url)

		if total := cache.Stats().TotalBytes; total > maxBytes {
			t.Fatalf("budget violated after insert %d: total=%d max=%d", i, total, maxBytes)
		}
	}
}

func TestCache_LRUEvictionOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	for _, name := range []string{"a", "b", "c", "d"} {
		fetcher.payloads["http://example.com/"+name] = make([]byte, 30)
	}

	cache := New(100, WithFetcher(fetcher))
	ctx := context.Background()

	cache.Acquire(ctx, "A", "http://example.com/a")
	cache.Acquire(ctx, "B", "http://example.com/b")
	cache.Acquire(ctx, "C", "http://example.com/c")

	// D (30 bytes) pushes the total to 120: only A, the least recently
	// used, must go.
	cache.Acquire(ctx, "D", "http://example.com/d")

	if cache.Contains("A") {
		t.Error("A should have been evicted first")
	}
	for _, id := range []string{"B", "C", "D"} {
		if !cache.Contains(id) {
			t.Errorf("%s should still be cached", id)
		}
	}
}

func TestCache_EvictionFreesRoomForLargePayload(t *testing.T) {
	const mb = 1024 * 1024

	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/a"] = make([]byte, 6*mb)
	fetcher.payloads["http://example.com/b"] = make([]byte, 6*mb)

	cache := New(10*mb, WithFetcher(fetcher))
	ctx := context.Background()

	cache.Acquire(ctx, "A", "http://example.com/a")
	cache.Acquire(ctx, "B", "http://example.com/b")

	if cache.Contains("A") {
		t.Error("A should have been evicted to make room for B")
	}
	if !cache.Contains("B") {
		t.Error("B should be cached")
	}
	if total := cache.Stats().TotalBytes; total != 6*mb {
		t.Errorf("total = %d, want %d", total, 6*mb)
	}
}

func TestCache_OversizedPayloadNotCached(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/big"] = make([]byte, 200)

	cache := New(100, WithFetcher(fetcher))

	h := cache.Acquire(context.Background(), "big", "http://example.com/big")
	if h.Cached() {
		t.Error("oversized payload must not be cached")
	}
	if len(h.Data) != 200 {
		t.Errorf("handle should still carry the payload, got %d bytes", len(h.Data))
	}
	if cache.Contains("big") {
		t.Error("oversized payload must not create an entry")
	}
	if total := cache.Stats().TotalBytes; total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

func TestCache_FetchFailureFallsBack(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["http://example.com/broken"] = errors.New("connection reset")

	cache := New(100, WithFetcher(fetcher))

	h := cache.Acquire(context.Background(), "broken", "http://example.com/broken")
	if h.Cached() {
		t.Error("failed transfer must not produce a cached handle")
	}
	if h.Source != "http://example.com/broken" {
		t.Errorf("fallback source = %q, want original URL", h.Source)
	}
	if !h.Resolvable() {
		t.Error("fallback handle should still be resolvable")
	}
	if cache.Contains("broken") {
		t.Error("failed transfer must not create an entry")
	}
}

func TestCache_ConcurrentAcquireSharesTransfer(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/x"] = []byte("shared-payload")
	fetcher.blocked = true

	cache := New(1024, WithFetcher(fetcher))

	const callers = 5
	handles := make([]Handle, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = cache.Acquire(context.Background(), "X", "http://example.com/x")
		}(i)
	}

	// Give all callers time to join the pending operation, then let the
	// single transfer finish.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	if got := fetcher.calls64(); got != 1 {
		t.Errorf("expected exactly 1 transfer, got %d", got)
	}
	for i, h := range handles {
		if !h.Cached() {
			t.Errorf("caller %d: expected cached handle", i)
		}
		if !bytes.Equal(h.Data, []byte("shared-payload")) {
			t.Errorf("caller %d: payload mismatch", i)
		}
	}
}

func TestCache_CancelSettlesFallback(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/x"] = []byte("never-delivered")
	fetcher.blocked = true

	cache := New(1024, WithFetcher(fetcher))

	done := make(chan Handle, 1)
	go func() {
		done <- cache.Acquire(context.Background(), "trackX", "http://example.com/x")
	}()

	time.Sleep(50 * time.Millisecond)
	cache.Cancel("trackX")

	select {
	case h := <-done:
		if h.Cached() {
			t.Error("cancelled transfer must not produce a cached handle")
		}
		if h.Source != "http://example.com/x" {
			t.Errorf("fallback source = %q, want original URL", h.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not settle after cancel")
	}

	if cache.Contains("trackX") {
		t.Error("cancelled transfer must not create an entry")
	}
}

func TestCache_ReleaseRemovesEntry(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/a"] = make([]byte, 40)

	cache := New(100, WithFetcher(fetcher))
	cache.Acquire(context.Background(), "A", "http://example.com/a")

	cache.Release("A")
	if cache.Contains("A") {
		t.Error("entry still present after release")
	}
	if total := cache.Stats().TotalBytes; total != 0 {
		t.Errorf("total = %d after release, want 0", total)
	}

	// Releasing an absent key is a no-op.
	cache.Release("A")
}

func TestCache_ClearCancelsAndEmpties(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/a"] = make([]byte, 10)
	fetcher.payloads["http://example.com/b"] = make([]byte, 10)

	cache := New(100, WithFetcher(fetcher))
	ctx := context.Background()
	cache.Acquire(ctx, "A", "http://example.com/a")
	cache.Acquire(ctx, "B", "http://example.com/b")

	cache.Clear()

	stats := cache.Stats()
	if stats.EntryCount != 0 || stats.TotalBytes != 0 {
		t.Errorf("cache not empty after clear: count=%d total=%d",
			stats.EntryCount, stats.TotalBytes)
	}
}

func TestCache_StatsSnapshot(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.payloads["http://example.com/a"] = make([]byte, 25)
	fetcher.payloads["http://example.com/b"] = make([]byte, 35)

	cache := New(100, WithFetcher(fetcher))
	ctx := context.Background()

	cache.Acquire(ctx, "A", "http://example.com/a")
	cache.Acquire(ctx, "B", "http://example.com/b")
	cache.Acquire(ctx, "A", "http://example.com/a") // hit, promotes A

	stats := cache.Stats()
	if stats.TotalBytes != 60 {
		t.Errorf("TotalBytes = %d, want 60", stats.TotalBytes)
	}
	if stats.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2", stats.EntryCount)
	}
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("hits=%d misses=%d, want 1/2", stats.Hits, stats.Misses)
	}
	if len(stats.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(stats.Entries))
	}
	// Most recently used first.
	if stats.Entries[0].TrackID != "A" {
		t.Errorf("most recent entry = %s, want A", stats.Entries[0].TrackID)
	}
}
