// Package store implements the durable, schema-versioned structured store:
// search-result pages, per-track audio metadata, and user preferences, each
// an independently keyed SQLite collection in one database file.
//
// Concurrent access from multiple processes sharing the database file is not
// coordinated. The store assumes a single owning process; a second process
// opening the same file is unsupported.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the database file created under the data directory.
const DBFileName = "waveline.db"

// Gate authorizes durable writes. A denied write is silently skipped by the
// caller, never an error.
type Gate interface {
	Allow(ctx context.Context) bool
}

// Policy exposes the user toggles consulted before each durable write.
type Policy interface {
	SearchCachingEnabled() bool
	MetadataCachingEnabled() bool
	PreferencesCachingEnabled() bool
}

// Store is the durable structured store. Safe for concurrent use; all
// synchronization is delegated to database/sql and SQLite.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	gate   Gate
	policy Policy

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// now is swapped out by tests exercising TTL expiry.
	now func() time.Time
}

// migrations are applied in order; PRAGMA user_version records how far a
// database has been migrated.
var migrations = []string{
	`CREATE TABLE search_results (
		id         TEXT PRIMARY KEY,
		query      TEXT NOT NULL,
		filters    TEXT NOT NULL,
		sort       TEXT NOT NULL,
		page       INTEGER NOT NULL,
		results    BLOB NOT NULL,
		total      INTEGER NOT NULL,
		cached_at  INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX idx_search_results_cached_at ON search_results (cached_at);
	CREATE INDEX idx_search_results_expires_at ON search_results (expires_at);

	CREATE TABLE audio_metadata (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		category       TEXT NOT NULL DEFAULT '',
		tags           TEXT NOT NULL DEFAULT '[]',
		is_previewable INTEGER NOT NULL DEFAULT 0,
		audio_url      TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		cached_at      INTEGER NOT NULL
	);
	CREATE INDEX idx_audio_metadata_cached_at ON audio_metadata (cached_at);

	CREATE TABLE preferences (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
}

// Open opens (or creates) the store under dataDir and migrates the schema.
// An error here means the durable tier is unavailable; callers degrade to
// session-only operation.
func Open(dataDir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.configurePragmas(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}

	s.encoder, err = zstd.NewWriter(nil)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("unable to create zstd encoder: %w", err)
	}
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("unable to create zstd decoder: %w", err)
	}

	logger.Debug("durable store opened", "path", dbPath)
	return s, nil
}

// SetGate installs the quota gate. Called once during wiring, before the
// store sees concurrent traffic.
func (s *Store) SetGate(g Gate) { s.gate = g }

// SetPolicy installs the settings toggles. Called once during wiring.
func (s *Store) SetPolicy(p Policy) { s.policy = p }

// Close releases the database and codec resources.
func (s *Store) Close() error {
	if s.encoder != nil {
		s.encoder.Close() //nolint:errcheck
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("unable to close database: %w", err)
	}
	return nil
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		// auto_vacuum must be set before the first table exists; on an
		// already-migrated database it is a no-op.
		"PRAGMA auto_vacuum = INCREMENTAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("unable to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("unable to read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)",
			version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("unable to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("unable to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("unable to commit migration %d: %w", i+1, err)
		}
		s.logger.Debug("applied schema migration", "version", i+1)
	}
	return nil
}

// allowWrite runs the quota gate. A nil gate allows everything.
func (s *Store) allowWrite(ctx context.Context) bool {
	if s.gate == nil {
		return true
	}
	return s.gate.Allow(ctx)
}

// Counts returns per-collection row counts. The internal settings row is
// not a user preference and is excluded from the preferences count.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	queries := []struct {
		table string
		dst   *int64
	}{
		{"search_results", &c.SearchResults},
		{"audio_metadata", &c.AudioMetadata},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("unable to count %s: %w", q.table, err)
		}
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM preferences WHERE key != ?", settingsPreferenceKey,
	).Scan(&c.Preferences); err != nil {
		return Counts{}, fmt.Errorf("unable to count preferences: %w", err)
	}
	return c, nil
}
