package audiocache

import (
	"context"

	"github.com/waveline/waveline/internal/store"
)

// CacheSearchResults writes one results page through to the durable store,
// using the TTL from the current settings. A disabled toggle or a denied
// quota gate makes this a silent no-op; session-only mode reports
// store.ErrUnavailable.
func (ac *AudioCache) CacheSearchResults(ctx context.Context, q store.SearchQuery, items []store.SearchItem, total int) error {
	if ac.store == nil {
		return store.ErrUnavailable
	}
	return ac.store.PutSearchResults(ctx, q, items, total, ac.settings.Get().SearchTTL())
}

// LookupSearchResults returns the cached page for q, or store.ErrNotFound.
func (ac *AudioCache) LookupSearchResults(ctx context.Context, q store.SearchQuery) (*store.SearchResultRecord, error) {
	if ac.store == nil {
		return nil, store.ErrUnavailable
	}
	return ac.store.GetSearchResults(ctx, q)
}

// CacheTrackMetadata upserts one track's metadata record.
func (ac *AudioCache) CacheTrackMetadata(ctx context.Context, rec store.AudioMetadata) error {
	if ac.store == nil {
		return store.ErrUnavailable
	}
	return ac.store.PutAudioMetadata(ctx, rec)
}

// LookupTrackMetadata returns one track's metadata record.
func (ac *AudioCache) LookupTrackMetadata(ctx context.Context, trackID string) (*store.AudioMetadata, error) {
	if ac.store == nil {
		return nil, store.ErrUnavailable
	}
	return ac.store.GetAudioMetadata(ctx, trackID)
}

// AllTrackMetadata lists every cached metadata record.
func (ac *AudioCache) AllTrackMetadata(ctx context.Context) ([]store.AudioMetadata, error) {
	if ac.store == nil {
		return nil, store.ErrUnavailable
	}
	return ac.store.GetAllAudioMetadata(ctx)
}

// SetPreference upserts a user preference, last write wins.
func (ac *AudioCache) SetPreference(ctx context.Context, key string, value any) error {
	if ac.store == nil {
		return store.ErrUnavailable
	}
	return ac.store.SetPreference(ctx, key, value)
}

// GetPreference reads a user preference into out.
func (ac *AudioCache) GetPreference(ctx context.Context, key string, out any) error {
	if ac.store == nil {
		return store.ErrUnavailable
	}
	return ac.store.GetPreference(ctx, key, out)
}
