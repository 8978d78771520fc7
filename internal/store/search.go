package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PutSearchResults caches one results page under its canonical key. It is a
// no-op when search-results caching is disabled or the quota gate denies the
// write.
func (s *Store) PutSearchResults(ctx context.Context, q SearchQuery, items []SearchItem, total int, ttl time.Duration) error {
	if s.policy != nil && !s.policy.SearchCachingEnabled() {
		return nil
	}
	if !s.allowWrite(ctx) {
		s.logger.Warn("search results not cached, quota gate denied write",
			"query", q.Query, "page", q.Page)
		return nil
	}

	payload, err := s.encodeItems(items)
	if err != nil {
		return err
	}
	filters, err := json.Marshal(canonicalFilters(q.Filters))
	if err != nil {
		return fmt.Errorf("unable to marshal filters: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO search_results
			(id, query, filters, sort, page, results, total, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		SearchKey(q), q.Query, string(filters), q.Sort, q.Page,
		payload, total, now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("unable to insert search results: %w", err)
	}
	return nil
}

// GetSearchResults looks up the cached page for q. A record found past its
// expiry is deleted as a side effect and reported as ErrNotFound.
func (s *Store) GetSearchResults(ctx context.Context, q SearchQuery) (*SearchResultRecord, error) {
	id := SearchKey(q)

	var (
		payload             []byte
		total               int
		cachedAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT results, total, cached_at, expires_at FROM search_results WHERE id = ?", id,
	).Scan(&payload, &total, &cachedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query search results: %w", err)
	}

	if !s.now().Before(time.Unix(expiresAt, 0)) {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM search_results WHERE id = ?", id); err != nil {
			s.logger.Warn("unable to delete expired search results", "id", id, "err", err)
		}
		return nil, ErrNotFound
	}

	items, err := s.decodeItems(payload)
	if err != nil {
		return nil, err
	}

	return &SearchResultRecord{
		ID:        id,
		Query:     q,
		Items:     items,
		Total:     total,
		CachedAt:  time.Unix(cachedAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}, nil
}
