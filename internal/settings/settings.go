// Package settings holds the user-configurable cache settings and the
// controller that persists them and answers toggle queries for the rest of
// the cache core.
package settings

import (
	"fmt"
	"time"
)

// Bounds and defaults for the numeric settings.
const (
	MinSearchTTLHours     = 1
	MaxSearchTTLHours     = 168 // one week
	DefaultSearchTTLHours = 24

	MinStorageUsagePercent     = 50
	MaxStorageUsagePercentCap  = 95
	DefaultStorageUsagePercent = 85
)

// Settings are the user-facing cache toggles and thresholds. Environment
// variables override persisted values at load time.
type Settings struct {
	EnableSearchResultsCaching   bool `json:"enable_search_results_caching" env:"WAVELINE_CACHE_SEARCH_RESULTS"`
	EnableAudioMetadataCaching   bool `json:"enable_audio_metadata_caching" env:"WAVELINE_CACHE_AUDIO_METADATA"`
	EnableUserPreferencesCaching bool `json:"enable_user_preferences_caching" env:"WAVELINE_CACHE_USER_PREFERENCES"`
	SearchResultsTTLHours        int  `json:"search_results_ttl_hours" env:"WAVELINE_CACHE_SEARCH_TTL_HOURS"`
	AutoCleanupEnabled           bool `json:"auto_cleanup_enabled" env:"WAVELINE_CACHE_AUTO_CLEANUP"`
	MaxStorageUsagePercent       int  `json:"max_storage_usage_percent" env:"WAVELINE_CACHE_MAX_USAGE_PERCENT"`
}

// Defaults returns the settings used when nothing has been persisted:
// everything cached, one-day search TTL, cleanup at 85% usage.
func Defaults() Settings {
	return Settings{
		EnableSearchResultsCaching:   true,
		EnableAudioMetadataCaching:   true,
		EnableUserPreferencesCaching: true,
		SearchResultsTTLHours:        DefaultSearchTTLHours,
		AutoCleanupEnabled:           true,
		MaxStorageUsagePercent:       DefaultStorageUsagePercent,
	}
}

// Validate rejects out-of-bounds values.
func (s Settings) Validate() error {
	if s.SearchResultsTTLHours < MinSearchTTLHours || s.SearchResultsTTLHours > MaxSearchTTLHours {
		return fmt.Errorf("search results TTL must be between %d and %d hours, got %d",
			MinSearchTTLHours, MaxSearchTTLHours, s.SearchResultsTTLHours)
	}
	if s.MaxStorageUsagePercent < MinStorageUsagePercent || s.MaxStorageUsagePercent > MaxStorageUsagePercentCap {
		return fmt.Errorf("max storage usage must be between %d and %d percent, got %d",
			MinStorageUsagePercent, MaxStorageUsagePercentCap, s.MaxStorageUsagePercent)
	}
	return nil
}

// clamp forces out-of-bounds values back into range. Used when loading, so
// a corrupted or stale persisted record cannot wedge the cache.
func (s Settings) clamp() Settings {
	if s.SearchResultsTTLHours < MinSearchTTLHours {
		s.SearchResultsTTLHours = MinSearchTTLHours
	}
	if s.SearchResultsTTLHours > MaxSearchTTLHours {
		s.SearchResultsTTLHours = MaxSearchTTLHours
	}
	if s.MaxStorageUsagePercent < MinStorageUsagePercent {
		s.MaxStorageUsagePercent = MinStorageUsagePercent
	}
	if s.MaxStorageUsagePercent > MaxStorageUsagePercentCap {
		s.MaxStorageUsagePercent = MaxStorageUsagePercentCap
	}
	return s
}

// SearchTTL returns the search-results TTL as a duration.
func (s Settings) SearchTTL() time.Duration {
	return time.Duration(s.SearchResultsTTLHours) * time.Hour
}

// Partial is a sparse settings update; nil fields keep their current value.
type Partial struct {
	EnableSearchResultsCaching   *bool `json:"enable_search_results_caching,omitempty"`
	EnableAudioMetadataCaching   *bool `json:"enable_audio_metadata_caching,omitempty"`
	EnableUserPreferencesCaching *bool `json:"enable_user_preferences_caching,omitempty"`
	SearchResultsTTLHours        *int  `json:"search_results_ttl_hours,omitempty"`
	AutoCleanupEnabled           *bool `json:"auto_cleanup_enabled,omitempty"`
	MaxStorageUsagePercent       *int  `json:"max_storage_usage_percent,omitempty"`
}

func (p Partial) apply(s Settings) Settings {
	if p.EnableSearchResultsCaching != nil {
		s.EnableSearchResultsCaching = *p.EnableSearchResultsCaching
	}
	if p.EnableAudioMetadataCaching != nil {
		s.EnableAudioMetadataCaching = *p.EnableAudioMetadataCaching
	}
	if p.EnableUserPreferencesCaching != nil {
		s.EnableUserPreferencesCaching = *p.EnableUserPreferencesCaching
	}
	if p.SearchResultsTTLHours != nil {
		s.SearchResultsTTLHours = *p.SearchResultsTTLHours
	}
	if p.AutoCleanupEnabled != nil {
		s.AutoCleanupEnabled = *p.AutoCleanupEnabled
	}
	if p.MaxStorageUsagePercent != nil {
		s.MaxStorageUsagePercent = *p.MaxStorageUsagePercent
	}
	return s
}
