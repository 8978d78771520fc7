package blobcache

import "time"

// Stats is a point-in-time snapshot of cache state and counters.
type Stats struct {
	TotalBytes int64
	MaxBytes   int64
	EntryCount int

	Hits      int64
	Misses    int64
	Evictions int64

	Entries []EntryStat
}

// EntryStat describes one resident payload.
type EntryStat struct {
	TrackID      string
	SizeBytes    int64
	LastAccessed time.Time
}

// Stats returns a snapshot of the cache. Entries are ordered from most to
// least recently used.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalBytes: c.total,
		MaxBytes:   c.maxBytes,
		EntryCount: len(c.entries),
		Hits:       c.stats.hits,
		Misses:     c.stats.misses,
		Evictions:  c.stats.evictions,
		Entries:    make([]EntryStat, 0, len(c.entries)),
	}

	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		ent := elem.Value.(*entry)
		s.Entries = append(s.Entries, EntryStat{
			TrackID:      ent.trackID,
			SizeBytes:    ent.size,
			LastAccessed: ent.lastAccessed,
		})
	}
	return s
}
