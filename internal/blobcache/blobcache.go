// Package blobcache provides the session-scoped audio payload cache.
//
// The cache holds downloaded track payloads in memory under a byte budget,
// evicting the least recently used entries when a new payload does not fit.
// Concurrent requests for the same track share a single in-flight transfer,
// and any transfer failure degrades to a fallback handle pointing at the
// original source rather than an error.
package blobcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Cache is an in-memory, byte-budgeted LRU cache of track payloads.
// All exported methods are safe for concurrent use. The entry table, the
// pending-operation table, and the running byte total are owned exclusively
// by the cache and only change through these methods.
type Cache struct {
	maxBytes int64

	mu       sync.Mutex
	total    int64
	entries  map[string]*list.Element
	eviction *list.List
	pending  map[string]*pendingOp

	fetcher Fetcher
	logger  *log.Logger

	stats struct {
		hits      int64
		misses    int64
		evictions int64
	}
}

// entry is a cached payload. lastAccessed drives LRU ordering together with
// the eviction list position.
type entry struct {
	trackID      string
	data         []byte
	size         int64
	lastAccessed time.Time
}

// pendingOp is the single in-flight transfer for a track. Joiners wait on
// done; the settled handle is readable once done is closed.
type pendingOp struct {
	trackID string
	cancel  context.CancelFunc
	done    chan struct{}
	handle  Handle
}

// Option configures a Cache.
type Option func(*Cache)

// WithFetcher sets the transfer layer used on cache misses.
func WithFetcher(f Fetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a blob cache with the given byte budget.
func New(maxBytes int64, opts ...Option) *Cache {
	c := &Cache{
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		eviction: list.New(),
		pending:  make(map[string]*pendingOp),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = NewHTTPFetcher(0)
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c
}

// Acquire returns a handle for the track's audio payload. A cached track is
// returned immediately and its recency updated. If a transfer for the track
// is already in flight the caller joins it and observes the same settled
// handle. Otherwise a new transfer starts from sourceURL.
//
// Acquire never fails: a transfer error, a cancellation, or an oversized
// payload all settle to a handle the caller can still resolve against the
// original source.
func (c *Cache) Acquire(ctx context.Context, trackID, sourceURL string) Handle {
	c.mu.Lock()

	if elem, ok := c.entries[trackID]; ok {
		c.eviction.MoveToFront(elem)
		ent := elem.Value.(*entry)
		ent.lastAccessed = time.Now()
		c.stats.hits++
		h := Handle{TrackID: trackID, Source: sourceURL, Data: ent.data, cached: true}
		c.mu.Unlock()
		return h
	}

	if op, ok := c.pending[trackID]; ok {
		c.mu.Unlock()
		return c.await(ctx, op, sourceURL)
	}

	c.stats.misses++

	// The transfer's lifetime is owned by the cache, not by the first
	// caller: a caller that stops waiting must not kill a transfer other
	// callers have joined. Cancellation happens through Cancel or Clear.
	opCtx, cancel := context.WithCancel(context.Background())
	op := &pendingOp{
		trackID: trackID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.pending[trackID] = op
	c.mu.Unlock()

	go c.transfer(opCtx, op, sourceURL)

	return c.await(ctx, op, sourceURL)
}

// await blocks until the shared operation settles or the caller's context is
// done. Abandoning the wait does not affect the transfer.
func (c *Cache) await(ctx context.Context, op *pendingOp, sourceURL string) Handle {
	select {
	case <-op.done:
		return op.handle
	case <-ctx.Done():
		return Handle{TrackID: op.trackID, Source: sourceURL}
	}
}

// transfer runs the remote fetch and settles the pending operation.
func (c *Cache) transfer(ctx context.Context, op *pendingOp, sourceURL string) {
	data, err := c.fetcher.Fetch(ctx, sourceURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, op.trackID)

	if err != nil {
		c.logger.Debug("track transfer failed, using source fallback",
			"track", op.trackID, "err", err)
		op.handle = Handle{TrackID: op.trackID, Source: sourceURL}
		close(op.done)
		return
	}

	size := int64(len(data))
	if size > c.maxBytes {
		c.logger.Debug("payload exceeds cache budget, returning uncached",
			"track", op.trackID, "size", size, "max", c.maxBytes)
		op.handle = Handle{TrackID: op.trackID, Source: sourceURL, Data: data}
		close(op.done)
		return
	}

	for c.total+size > c.maxBytes && c.eviction.Len() > 0 {
		c.evictOldest()
	}

	ent := &entry{
		trackID:      op.trackID,
		data:         data,
		size:         size,
		lastAccessed: time.Now(),
	}
	c.entries[op.trackID] = c.eviction.PushFront(ent)
	c.total += size

	op.handle = Handle{TrackID: op.trackID, Source: sourceURL, Data: data, cached: true}
	close(op.done)
}

// Release removes a track's entry from the cache.
func (c *Cache) Release(trackID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[trackID]; ok {
		c.removeElement(elem)
	}
}

// Cancel signals the in-flight transfer for trackID, if any. The transfer
// layer observes the signal at its next checkpoint and the shared handle
// settles to the source fallback. An already-settled operation is unaffected.
func (c *Cache) Cancel(trackID string) {
	c.mu.Lock()
	op, ok := c.pending[trackID]
	c.mu.Unlock()

	if ok {
		op.cancel()
	}
}

// Clear cancels every pending transfer and drops every entry, resetting the
// byte total to zero.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, op := range c.pending {
		op.cancel()
	}
	c.entries = make(map[string]*list.Element)
	c.eviction.Init()
	c.total = 0
}

// Contains reports whether a completed payload for trackID is cached.
// It does not update recency.
func (c *Cache) Contains(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[trackID]
	return ok
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	elem := c.eviction.Back()
	if elem == nil {
		return
	}
	ent := elem.Value.(*entry)
	c.logger.Debug("evicting track", "track", ent.trackID, "size", ent.size)
	c.removeElement(elem)
	c.stats.evictions++
}

// removeElement drops an entry and its bytes. Caller holds the lock.
func (c *Cache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.entries, ent.trackID)
	c.total -= ent.size
}
