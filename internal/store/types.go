package store

import (
	"errors"
	"time"
)

// Common errors for store operations
var (
	// ErrNotFound is returned when a record does not exist or has expired.
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable is returned when the durable store never opened and
	// the client is running in session-only mode.
	ErrUnavailable = errors.New("store: unavailable")
)

// SearchQuery is the composite key of one cached results page: what was
// searched, how it was filtered and sorted, and which page.
type SearchQuery struct {
	Query   string
	Filters Filters
	Sort    string
	Page    int
}

// Filters narrows a search. The zero value means unfiltered.
type Filters struct {
	Category     string   `json:"category,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	PreviewsOnly bool     `json:"previews_only,omitempty"`
}

// SearchItem is one track in a cached results page.
type SearchItem struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	IsPreviewable bool      `json:"is_previewable"`
	AudioURL      string    `json:"audio_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SearchResultRecord is a cached results page. A record is logically
// present only while ExpiresAt is in the future; expired records are
// deleted when a read finds them.
type SearchResultRecord struct {
	ID        string
	Query     SearchQuery
	Items     []SearchItem
	Total     int
	CachedAt  time.Time
	ExpiresAt time.Time
}

// AudioMetadata is the per-track metadata record. Re-caching a track
// overwrites the row in place; no history is kept.
type AudioMetadata struct {
	ID            string
	Name          string
	Category      string
	Tags          []string
	IsPreviewable bool
	AudioURL      string
	CreatedAt     time.Time
	CachedAt      time.Time
}

// Counts holds per-collection row counts for storage stats.
type Counts struct {
	SearchResults int64
	AudioMetadata int64
	Preferences   int64
}
