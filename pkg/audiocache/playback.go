package audiocache

import (
	"context"

	"github.com/waveline/waveline/internal/blobcache"
)

// AcquireTrack returns a playable handle for the track, caching the payload
// when it fits the budget. It never fails: on any transfer problem the
// handle falls back to streaming sourceURL directly.
func (ac *AudioCache) AcquireTrack(ctx context.Context, trackID, sourceURL string) blobcache.Handle {
	return ac.blobs.Acquire(ctx, trackID, sourceURL)
}

// ReleaseTrack drops the track's cached payload, typically when playback
// stops.
func (ac *AudioCache) ReleaseTrack(trackID string) {
	ac.blobs.Release(trackID)
}

// CancelTrack cancels an in-flight acquire for the track, if any. Waiters
// settle to the source fallback.
func (ac *AudioCache) CancelTrack(trackID string) {
	ac.blobs.Cancel(trackID)
}

// IsTrackCached reports whether the track's payload is resident, without
// touching recency. Used for UI state.
func (ac *AudioCache) IsTrackCached(trackID string) bool {
	return ac.blobs.Contains(trackID)
}
