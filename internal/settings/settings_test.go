package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/waveline/waveline/internal/store"
)

type memoryStore struct {
	raw      []byte
	saveErr  error
	saveHits int
}

func (m *memoryStore) SaveSettings(_ context.Context, raw []byte) error {
	m.saveHits++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.raw = raw
	return nil
}

func (m *memoryStore) LoadSettings(context.Context) ([]byte, error) {
	if m.raw == nil {
		return nil, store.ErrNotFound
	}
	return m.raw, nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestDefaults(t *testing.T) {
	s := Defaults()
	if !s.EnableSearchResultsCaching || !s.EnableAudioMetadataCaching ||
		!s.EnableUserPreferencesCaching || !s.AutoCleanupEnabled {
		t.Error("all caching toggles should default to enabled")
	}
	if s.SearchResultsTTLHours != DefaultSearchTTLHours {
		t.Errorf("TTL = %d, want %d", s.SearchResultsTTLHours, DefaultSearchTTLHours)
	}
	if s.MaxStorageUsagePercent != DefaultStorageUsagePercent {
		t.Errorf("max usage = %d, want %d", s.MaxStorageUsagePercent, DefaultStorageUsagePercent)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestSettings_ValidateBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"ttl lower bound", func(s *Settings) { s.SearchResultsTTLHours = 1 }, false},
		{"ttl upper bound", func(s *Settings) { s.SearchResultsTTLHours = 168 }, false},
		{"ttl too small", func(s *Settings) { s.SearchResultsTTLHours = 0 }, true},
		{"ttl too large", func(s *Settings) { s.SearchResultsTTLHours = 169 }, true},
		{"usage lower bound", func(s *Settings) { s.MaxStorageUsagePercent = 50 }, false},
		{"usage upper bound", func(s *Settings) { s.MaxStorageUsagePercent = 95 }, false},
		{"usage too small", func(s *Settings) { s.MaxStorageUsagePercent = 49 }, true},
		{"usage too large", func(s *Settings) { s.MaxStorageUsagePercent = 96 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestController_DefaultsWithoutStore(t *testing.T) {
	c := NewController(context.Background(), nil, nil)
	if c.Get() != Defaults() {
		t.Errorf("Get() = %+v, want defaults", c.Get())
	}
}

func TestController_LoadsPersistedSettings(t *testing.T) {
	persisted := Defaults()
	persisted.EnableSearchResultsCaching = false
	persisted.SearchResultsTTLHours = 48
	raw, _ := json.Marshal(persisted)

	c := NewController(context.Background(), &memoryStore{raw: raw}, nil)

	got := c.Get()
	if got.EnableSearchResultsCaching {
		t.Error("persisted toggle should be honored")
	}
	if got.SearchResultsTTLHours != 48 {
		t.Errorf("TTL = %d, want 48", got.SearchResultsTTLHours)
	}
}

func TestController_ClampsCorruptPersistedValues(t *testing.T) {
	raw := []byte(`{"search_results_ttl_hours": 9999, "max_storage_usage_percent": 10}`)
	c := NewController(context.Background(), &memoryStore{raw: raw}, nil)

	got := c.Get()
	if got.SearchResultsTTLHours != MaxSearchTTLHours {
		t.Errorf("TTL = %d, want clamped to %d", got.SearchResultsTTLHours, MaxSearchTTLHours)
	}
	if got.MaxStorageUsagePercent != MinStorageUsagePercent {
		t.Errorf("max usage = %d, want clamped to %d", got.MaxStorageUsagePercent, MinStorageUsagePercent)
	}
}

func TestController_UpdateMergesAndPersists(t *testing.T) {
	ms := &memoryStore{}
	c := NewController(context.Background(), ms, nil)

	updated, err := c.Update(context.Background(), Partial{
		EnableAudioMetadataCaching: boolPtr(false),
		SearchResultsTTLHours:      intPtr(72),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.EnableAudioMetadataCaching {
		t.Error("toggle should be updated")
	}
	if updated.SearchResultsTTLHours != 72 {
		t.Errorf("TTL = %d, want 72", updated.SearchResultsTTLHours)
	}
	if !updated.EnableSearchResultsCaching {
		t.Error("untouched fields must keep their values")
	}
	if ms.saveHits != 1 {
		t.Errorf("saveHits = %d, want 1", ms.saveHits)
	}

	// The snapshot is live immediately.
	if c.MetadataCachingEnabled() {
		t.Error("policy view should observe the update immediately")
	}
}

func TestController_UpdateRejectsOutOfBounds(t *testing.T) {
	c := NewController(context.Background(), nil, nil)

	_, err := c.Update(context.Background(), Partial{SearchResultsTTLHours: intPtr(0)})
	if err == nil {
		t.Fatal("out-of-bounds update should fail")
	}
	if c.Get().SearchResultsTTLHours != DefaultSearchTTLHours {
		t.Error("failed update must not change the snapshot")
	}
}

func TestController_PersistFailureKeepsSnapshot(t *testing.T) {
	ms := &memoryStore{saveErr: errors.New("disk full")}
	c := NewController(context.Background(), ms, nil)

	updated, err := c.Update(context.Background(), Partial{AutoCleanupEnabled: boolPtr(false)})
	if err != nil {
		t.Fatalf("persist failure should not fail the update: %v", err)
	}
	if updated.AutoCleanupEnabled || c.AutoCleanupEnabled() {
		t.Error("snapshot should reflect the update despite persist failure")
	}
}

func TestController_Subscribe(t *testing.T) {
	c := NewController(context.Background(), nil, nil)

	var seen []Settings
	cancel := c.Subscribe(func(s Settings) { seen = append(seen, s) })

	if _, err := c.Update(context.Background(), Partial{AutoCleanupEnabled: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0].AutoCleanupEnabled {
		t.Errorf("subscriber should observe the applied update, got %+v", seen)
	}

	cancel()
	if _, err := c.Update(context.Background(), Partial{AutoCleanupEnabled: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Error("cancelled subscriber must not be notified")
	}
}
