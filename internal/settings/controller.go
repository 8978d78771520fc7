package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"

	"github.com/waveline/waveline/internal/store"
)

// PersistentStore is the slice of the durable store the controller needs.
// A nil store leaves the controller fully functional but session-only.
type PersistentStore interface {
	SaveSettings(ctx context.Context, raw []byte) error
	LoadSettings(ctx context.Context) ([]byte, error)
}

// Controller owns the current settings snapshot. Reads are cheap and
// lock-protected; updates merge, validate, persist, and notify subscribers.
// Durable-store operations observe an update as soon as it returns.
type Controller struct {
	mu      sync.RWMutex
	current Settings
	subs    map[int]func(Settings)
	nextSub int

	store  PersistentStore
	logger *log.Logger
}

// NewController loads persisted settings (falling back to defaults) and
// applies environment overrides.
func NewController(ctx context.Context, ps PersistentStore, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}

	c := &Controller{
		current: Defaults(),
		subs:    make(map[int]func(Settings)),
		store:   ps,
		logger:  logger,
	}

	if ps != nil {
		raw, err := ps.LoadSettings(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// First run, defaults stand.
		case err != nil:
			logger.Warn("unable to load cache settings, using defaults", "err", err)
		default:
			var s Settings
			if err := json.Unmarshal(raw, &s); err != nil {
				logger.Warn("persisted cache settings corrupted, using defaults", "err", err)
			} else {
				c.current = s.clamp()
			}
		}
	}

	// Environment overrides persisted values; variables that are unset
	// leave the loaded fields alone.
	if err := env.Parse(&c.current); err != nil {
		logger.Warn("invalid cache settings in environment", "err", err)
	}
	c.current = c.current.clamp()

	return c
}

// Get returns the current settings snapshot.
func (c *Controller) Get() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Update merges the partial into the current settings, validates, persists,
// and notifies subscribers. The merged settings take effect for durable
// writes immediately, even if persisting them fails.
func (c *Controller) Update(ctx context.Context, p Partial) (Settings, error) {
	c.mu.Lock()
	merged := p.apply(c.current)
	if err := merged.Validate(); err != nil {
		c.mu.Unlock()
		return c.Get(), fmt.Errorf("invalid settings update: %w", err)
	}
	c.current = merged
	subs := make([]func(Settings), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	if c.store != nil {
		raw, err := json.Marshal(merged)
		if err != nil {
			return merged, fmt.Errorf("unable to marshal settings: %w", err)
		}
		if err := c.store.SaveSettings(ctx, raw); err != nil {
			c.logger.Warn("unable to persist cache settings", "err", err)
		}
	}

	for _, fn := range subs {
		fn(merged)
	}
	return merged, nil
}

// Subscribe registers a callback invoked after every applied update. The
// returned function cancels the subscription.
func (c *Controller) Subscribe(fn func(Settings)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// The methods below let the controller stand in for the store's write
// policy and the quota monitor's threshold source.

func (c *Controller) SearchCachingEnabled() bool {
	return c.Get().EnableSearchResultsCaching
}

func (c *Controller) MetadataCachingEnabled() bool {
	return c.Get().EnableAudioMetadataCaching
}

func (c *Controller) PreferencesCachingEnabled() bool {
	return c.Get().EnableUserPreferencesCaching
}

func (c *Controller) MaxStorageUsagePercent() int {
	return c.Get().MaxStorageUsagePercent
}

func (c *Controller) AutoCleanupEnabled() bool {
	return c.Get().AutoCleanupEnabled
}
