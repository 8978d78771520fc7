package store

import (
	"context"
	"fmt"
	"math"
)

// CleanupExpired deletes every search-results record past its expiry and
// returns how many rows were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM search_results WHERE expires_at <= ?", s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("unable to delete expired search results: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("removed expired search results", "rows", n)
	}
	return n, nil
}

// CleanupOldest deletes the oldest ceil(count*fraction) records, by cache
// time, from the search-results and audio-metadata collections
// independently. Preferences are never touched.
func (s *Store) CleanupOldest(ctx context.Context, fraction float64) (int64, error) {
	if fraction <= 0 {
		return 0, nil
	}
	if fraction > 1 {
		fraction = 1
	}

	var removed int64
	for _, table := range []string{"search_results", "audio_metadata"} {
		n, err := s.deleteOldest(ctx, table, fraction)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if removed > 0 {
		s.logger.Info("removed oldest cached records", "fraction", fraction, "rows", removed)
		s.vacuum(ctx)
	}
	return removed, nil
}

// vacuum returns freed pages to the filesystem so a quota estimate taken
// after cleanup actually shows reduced usage. Truncation alone is not
// enough under WAL journaling: the freed pages land in the -wal file and
// stay there until a checkpoint, so the on-disk total would not shrink.
func (s *Store) vacuum(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
		s.logger.Debug("incremental vacuum failed", "err", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Debug("wal checkpoint failed", "err", err)
	}
}

func (s *Store) deleteOldest(ctx context.Context, table string, fraction float64) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("unable to count %s: %w", table, err)
	}
	if count == 0 {
		return 0, nil
	}

	limit := int64(math.Ceil(float64(count) * fraction))
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (
			SELECT id FROM %s ORDER BY cached_at ASC LIMIT ?
		)`, table, table), limit)
	if err != nil {
		return 0, fmt.Errorf("unable to delete oldest from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear empties all three collections, including persisted settings.
func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{"search_results", "audio_metadata", "preferences"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("unable to clear %s: %w", table, err)
		}
	}
	s.vacuum(ctx)
	s.logger.Info("durable store cleared")
	return nil
}
