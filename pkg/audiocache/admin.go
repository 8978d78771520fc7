package audiocache

import (
	"context"

	"github.com/waveline/waveline/internal/blobcache"
	"github.com/waveline/waveline/internal/quota"
	"github.com/waveline/waveline/internal/settings"
	"github.com/waveline/waveline/internal/store"
)

// StorageStats aggregates blob-cache and per-collection store state for the
// settings UI.
type StorageStats struct {
	Blob        blobcache.Stats
	Collections store.Counts
	SessionOnly bool
}

// Settings returns the current cache settings.
func (ac *AudioCache) Settings() settings.Settings {
	return ac.settings.Get()
}

// UpdateSettings merges a sparse update into the settings; the result binds
// durable-store behavior immediately.
func (ac *AudioCache) UpdateSettings(ctx context.Context, p settings.Partial) (settings.Settings, error) {
	return ac.settings.Update(ctx, p)
}

// SubscribeSettings registers a callback for applied settings updates.
func (ac *AudioCache) SubscribeSettings(fn func(settings.Settings)) func() {
	return ac.settings.Subscribe(fn)
}

// StorageStats returns blob-cache stats plus per-collection row counts.
func (ac *AudioCache) StorageStats(ctx context.Context) (StorageStats, error) {
	stats := StorageStats{
		Blob:        ac.blobs.Stats(),
		SessionOnly: ac.store == nil,
	}
	if ac.store == nil {
		return stats, nil
	}
	counts, err := ac.store.Counts(ctx)
	if err != nil {
		return stats, err
	}
	stats.Collections = counts
	return stats, nil
}

// StorageQuota returns the host storage usage estimate.
func (ac *AudioCache) StorageQuota(ctx context.Context) quota.Usage {
	return ac.monitor.Estimate(ctx)
}

// CleanupExpired removes expired search results now.
func (ac *AudioCache) CleanupExpired(ctx context.Context) (int64, error) {
	if ac.store == nil {
		return 0, store.ErrUnavailable
	}
	return ac.store.CleanupExpired(ctx)
}

// CleanupOldest sheds the oldest fraction of the search-results and
// metadata collections.
func (ac *AudioCache) CleanupOldest(ctx context.Context, fraction float64) (int64, error) {
	if ac.store == nil {
		return 0, store.ErrUnavailable
	}
	return ac.store.CleanupOldest(ctx, fraction)
}

// ClearAll empties the blob cache and, when available, every durable
// collection.
func (ac *AudioCache) ClearAll(ctx context.Context) error {
	ac.blobs.Clear()
	if ac.store == nil {
		return nil
	}
	return ac.store.Clear(ctx)
}
