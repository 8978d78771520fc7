package blobcache

// Handle is a resolvable reference to a track's audio. A cached handle
// carries the payload bytes; an uncached handle only carries the original
// source, and the player streams from there instead.
type Handle struct {
	TrackID string
	Source  string
	Data    []byte

	cached bool
}

// Cached reports whether the payload is resident in the cache. A handle may
// carry Data while Cached is false when the payload was too large to keep.
func (h Handle) Cached() bool { return h.cached }

// Resolvable reports whether the handle can produce audio at all, either
// from the payload or by streaming the source.
func (h Handle) Resolvable() bool { return len(h.Data) > 0 || h.Source != "" }
