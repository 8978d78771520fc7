// Package audiocache wires the waveline cache core together behind one
// facade: the session blob cache for playable audio, the durable structured
// store for search results, track metadata, and preferences, the quota gate
// in front of every durable write, and the settings controller consulted by
// all of them.
//
// Construct an AudioCache once at startup and pass it to the collaborators
// that need it; there are no package-level instances.
package audiocache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/waveline/waveline/internal/blobcache"
	"github.com/waveline/waveline/internal/quota"
	"github.com/waveline/waveline/internal/settings"
	"github.com/waveline/waveline/internal/store"
)

const (
	// DefaultMaxBlobBytes is the session blob cache budget (100MB).
	DefaultMaxBlobBytes = 100 * 1024 * 1024

	// DefaultCleanupInterval is how often expired search results are swept
	// in the background.
	DefaultCleanupInterval = 15 * time.Minute
)

// Options configures an AudioCache.
type Options struct {
	// DataDir holds the durable store. Empty uses the user cache dir.
	DataDir string

	// MaxBlobBytes is the blob cache budget. Zero uses the default.
	MaxBlobBytes int64

	// Fetcher overrides the transfer layer. Nil uses HTTP.
	Fetcher blobcache.Fetcher

	// Logger for all components. Nil uses log.Default().
	Logger *log.Logger

	// CleanupInterval for the background expiry sweep. Zero uses the
	// default; negative disables the sweep.
	CleanupInterval time.Duration

	// QuotaBudgetBytes pins the storage budget instead of asking the
	// filesystem. Zero derives it from the host.
	QuotaBudgetBytes int64
}

// AudioCache is the cache core facade. All methods are safe for concurrent
// use. When the durable store failed to open the blob cache keeps working
// and every structured operation reports store.ErrUnavailable.
type AudioCache struct {
	blobs    *blobcache.Cache
	store    *store.Store // nil in session-only mode
	settings *settings.Controller
	monitor  *quota.Monitor
	logger   *log.Logger

	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup
	closeOnce   sync.Once
}

// New builds the cache core. A durable-store failure is not fatal: the
// cache comes up in session-only mode and says so in the log.
func New(ctx context.Context, opts Options) (*AudioCache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("unable to resolve cache directory: %w", err)
		}
		dataDir = filepath.Join(base, "waveline")
	}

	st, err := store.Open(dataDir, logger)
	if err != nil {
		logger.Warn("durable store unavailable, continuing session-only", "err", err)
		st = nil
	}

	var ps settings.PersistentStore
	if st != nil {
		ps = st
	}
	ctrl := settings.NewController(ctx, ps, logger)

	var cleaner quota.Cleaner
	if st != nil {
		cleaner = st
	}
	monitor := quota.New(dataDir, cleaner, ctrl,
		quota.WithBudget(opts.QuotaBudgetBytes),
		quota.WithLogger(logger),
	)

	if st != nil {
		st.SetGate(monitor)
		st.SetPolicy(ctrl)
		if !monitor.RequestPersistence(ctx) {
			logger.Debug("host declined persistence request")
		}
	}

	maxBlob := opts.MaxBlobBytes
	if maxBlob <= 0 {
		maxBlob = DefaultMaxBlobBytes
	}
	blobOpts := []blobcache.Option{blobcache.WithLogger(logger)}
	if opts.Fetcher != nil {
		blobOpts = append(blobOpts, blobcache.WithFetcher(opts.Fetcher))
	}

	ac := &AudioCache{
		blobs:       blobcache.New(maxBlob, blobOpts...),
		store:       st,
		settings:    ctrl,
		monitor:     monitor,
		logger:      logger,
		cleanupStop: make(chan struct{}),
	}

	interval := opts.CleanupInterval
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	if st != nil && interval > 0 {
		ac.startCleanupLoop(interval)
	}
	return ac, nil
}

// Close stops background work and closes the durable store. The blob cache
// is session-scoped and simply dropped.
func (ac *AudioCache) Close() error {
	var err error
	ac.closeOnce.Do(func() {
		close(ac.cleanupStop)
		ac.cleanupWg.Wait()
		ac.blobs.Clear()
		if ac.store != nil {
			err = ac.store.Close()
		}
	})
	return err
}

// SessionOnly reports whether the durable store is unavailable.
func (ac *AudioCache) SessionOnly() bool { return ac.store == nil }

// startCleanupLoop sweeps expired search results on a timer. The quota gate
// handles pressure-driven cleanup; this loop only keeps the store tidy.
func (ac *AudioCache) startCleanupLoop(interval time.Duration) {
	ac.cleanupWg.Add(1)
	go func() {
		defer ac.cleanupWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !ac.settings.AutoCleanupEnabled() {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := ac.store.CleanupExpired(ctx); err != nil {
					ac.logger.Warn("background cleanup failed", "err", err)
				}
				cancel()
			case <-ac.cleanupStop:
				return
			}
		}
	}()
}
