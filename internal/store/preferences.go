package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// settingsPreferenceKey is the reserved row holding the cache settings
// themselves. The user-preferences toggle does not apply to it: disabling
// preference caching must not make the settings (including that same
// toggle) unpersistable.
const settingsPreferenceKey = "waveline.cache_settings"

// SetPreference upserts a user preference, stored as JSON, last write wins.
// No-op when preference caching is disabled or the quota gate denies the
// write.
func (s *Store) SetPreference(ctx context.Context, key string, value any) error {
	if key == settingsPreferenceKey {
		return fmt.Errorf("preference key %q is reserved", key)
	}
	if s.policy != nil && !s.policy.PreferencesCachingEnabled() {
		return nil
	}
	if !s.allowWrite(ctx) {
		s.logger.Warn("preference not cached, quota gate denied write", "key", key)
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("unable to marshal preference %q: %w", key, err)
	}
	return s.writePreference(ctx, key, raw)
}

// GetPreference reads a preference into out, which must be a pointer.
func (s *Store) GetPreference(ctx context.Context, key string, out any) error {
	raw, err := s.readPreference(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unable to unmarshal preference %q: %w", key, err)
	}
	return nil
}

// SaveSettings persists the serialized cache settings under the reserved
// preference row. Unlike user preferences it is not subject to the
// preferences toggle, only to the quota gate.
func (s *Store) SaveSettings(ctx context.Context, raw []byte) error {
	if !s.allowWrite(ctx) {
		s.logger.Warn("settings not persisted, quota gate denied write")
		return nil
	}
	return s.writePreference(ctx, settingsPreferenceKey, raw)
}

// LoadSettings returns the serialized cache settings, or ErrNotFound when
// none have been persisted yet.
func (s *Store) LoadSettings(ctx context.Context) ([]byte, error) {
	return s.readPreference(ctx, settingsPreferenceKey)
}

func (s *Store) writePreference(ctx context.Context, key string, raw []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO preferences (key, value, updated_at)
		VALUES (?, ?, ?)`,
		key, string(raw), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("unable to upsert preference %q: %w", key, err)
	}
	return nil
}

func (s *Store) readPreference(ctx context.Context, key string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM preferences WHERE key = ?", key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query preference %q: %w", key, err)
	}
	return []byte(raw), nil
}
