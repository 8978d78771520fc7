package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PutAudioMetadata upserts the metadata record for one track. CachedAt is
// stamped by the store. No-op when metadata caching is disabled or the quota
// gate denies the write.
func (s *Store) PutAudioMetadata(ctx context.Context, rec AudioMetadata) error {
	if s.policy != nil && !s.policy.MetadataCachingEnabled() {
		return nil
	}
	if !s.allowWrite(ctx) {
		s.logger.Warn("audio metadata not cached, quota gate denied write", "track", rec.ID)
		return nil
	}

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("unable to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO audio_metadata
			(id, name, category, tags, is_previewable, audio_url, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Category, string(tags),
		boolToInt(rec.IsPreviewable), rec.AudioURL,
		rec.CreatedAt.Unix(), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("unable to upsert audio metadata: %w", err)
	}
	return nil
}

// GetAudioMetadata returns the metadata record for one track.
func (s *Store) GetAudioMetadata(ctx context.Context, id string) (*AudioMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, tags, is_previewable, audio_url, created_at, cached_at
		FROM audio_metadata WHERE id = ?`, id)

	rec, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetAllAudioMetadata lists every cached metadata record, most recently
// cached first.
func (s *Store) GetAllAudioMetadata(ctx context.Context) ([]AudioMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, tags, is_previewable, audio_url, created_at, cached_at
		FROM audio_metadata ORDER BY cached_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("unable to list audio metadata: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var records []AudioMetadata
	for rows.Next() {
		rec, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to iterate audio metadata: %w", err)
	}
	return records, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*AudioMetadata, error) {
	var (
		rec                 AudioMetadata
		tags                string
		previewable         int
		createdAt, cachedAt int64
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Category, &tags,
		&previewable, &rec.AudioURL, &createdAt, &cachedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("unable to unmarshal tags: %w", err)
	}
	rec.IsPreviewable = previewable != 0
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.CachedAt = time.Unix(cachedAt, 0)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
