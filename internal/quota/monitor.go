// Package quota watches how much storage the durable store occupies and
// gates durable writes behind tiered, adaptive cleanup.
package quota

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

const (
	// CriticalUsagePercent is the hard ceiling: at or above it the pending
	// write is denied and aggressive cleanup runs.
	CriticalUsagePercent = 95.0

	// DefaultWarnPercent applies when no threshold source is wired.
	DefaultWarnPercent = 85

	// oldestCleanupFraction is how much of each collection the critical
	// tier sheds, oldest first.
	oldestCleanupFraction = 0.1
)

// Usage is a snapshot of storage occupancy. Known is false when the host
// offers no usable introspection; callers then assume usage is fine.
type Usage struct {
	UsedBytes      int64
	TotalBytes     int64
	AvailableBytes int64
	UsedPercent    float64
	Known          bool
}

// Cleaner is the cleanup surface of the durable store.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
	CleanupOldest(ctx context.Context, fraction float64) (int64, error)
}

// ThresholdSource supplies the user-configurable pieces of quota policy.
type ThresholdSource interface {
	MaxStorageUsagePercent() int
	AutoCleanupEnabled() bool
}

// Monitor estimates store storage usage and implements the quota gate
// consulted before every durable write.
type Monitor struct {
	dir         string
	budgetBytes int64
	cleaner     Cleaner
	thresholds  ThresholdSource
	logger      *log.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBudget pins the storage budget instead of deriving it from the
// filesystem. Mostly useful for tests and constrained deployments.
func WithBudget(bytes int64) Option {
	return func(m *Monitor) { m.budgetBytes = bytes }
}

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor for the store living under dir. cleaner and
// thresholds may be nil: a nil cleaner disables adaptive cleanup, a nil
// thresholds source falls back to defaults.
func New(dir string, cleaner Cleaner, thresholds ThresholdSource, opts ...Option) *Monitor {
	m := &Monitor{
		dir:        dir,
		cleaner:    cleaner,
		thresholds: thresholds,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m
}

// Estimate reports current storage occupancy. Used bytes come from walking
// the store directory; the ceiling is either the pinned budget or what the
// filesystem reports it could still grant.
func (m *Monitor) Estimate(ctx context.Context) Usage {
	used, err := m.dirSize(ctx)
	if err != nil {
		m.logger.Debug("unable to measure store directory", "dir", m.dir, "err", err)
		return Usage{}
	}

	total := m.budgetBytes
	if total <= 0 {
		avail, ok := filesystemAvailable(m.dir)
		if !ok {
			// No introspection on this host: assume ok.
			return Usage{UsedBytes: used}
		}
		total = used + avail
	}
	if total <= 0 {
		return Usage{UsedBytes: used}
	}

	u := Usage{
		UsedBytes:      used,
		TotalBytes:     total,
		AvailableBytes: total - used,
		UsedPercent:    float64(used) / float64(total) * 100,
		Known:          true,
	}
	if u.AvailableBytes < 0 {
		u.AvailableBytes = 0
	}
	return u
}

// Check is the gate run before every durable write. At critical usage it
// runs expiry cleanup plus oldest-record shedding and denies the write; at
// the warn threshold it runs expiry cleanup and allows; below that it
// simply allows. Unknown usage always allows.
func (m *Monitor) Check(ctx context.Context) bool {
	u := m.Estimate(ctx)
	if !u.Known {
		return true
	}

	switch {
	case u.UsedPercent >= CriticalUsagePercent:
		m.logger.Warn("storage critically full, denying durable write",
			"used", humanize.Bytes(uint64(u.UsedBytes)),
			"percent", u.UsedPercent)
		m.cleanup(ctx, true)
		return false

	case u.UsedPercent >= float64(m.warnPercent()):
		m.logger.Warn("storage usage above threshold",
			"used", humanize.Bytes(uint64(u.UsedBytes)),
			"percent", u.UsedPercent)
		m.cleanup(ctx, false)
		return true

	default:
		return true
	}
}

// Allow makes Monitor satisfy the store's write gate.
func (m *Monitor) Allow(ctx context.Context) bool { return m.Check(ctx) }

// RequestPersistence asks, best effort, that the store directory stay
// durable under storage pressure. On this platform that amounts to probing
// that the directory accepts a synced write. Failure is non-fatal.
func (m *Monitor) RequestPersistence(ctx context.Context) bool {
	probe := filepath.Join(m.dir, ".persist")
	f, err := os.Create(probe)
	if err != nil {
		m.logger.Debug("persistence probe failed", "err", err)
		return false
	}
	_, werr := f.WriteString("waveline")
	serr := f.Sync()
	f.Close()        //nolint:errcheck
	os.Remove(probe) //nolint:errcheck

	if werr != nil || serr != nil {
		m.logger.Debug("persistence probe failed", "write", werr, "sync", serr)
		return false
	}
	return true
}

func (m *Monitor) warnPercent() int {
	if m.thresholds == nil {
		return DefaultWarnPercent
	}
	return m.thresholds.MaxStorageUsagePercent()
}

// cleanup runs the adaptive tiers. Skipped entirely when the user disabled
// automatic cleanup; the gate decision itself is unaffected.
func (m *Monitor) cleanup(ctx context.Context, critical bool) {
	if m.cleaner == nil {
		return
	}
	if m.thresholds != nil && !m.thresholds.AutoCleanupEnabled() {
		m.logger.Debug("automatic cleanup disabled, skipping")
		return
	}

	if n, err := m.cleaner.CleanupExpired(ctx); err != nil {
		m.logger.Warn("expiry cleanup failed", "err", err)
	} else if n > 0 {
		m.logger.Info("expiry cleanup removed records", "rows", n)
	}

	if !critical {
		return
	}
	if n, err := m.cleaner.CleanupOldest(ctx, oldestCleanupFraction); err != nil {
		m.logger.Warn("oldest-record cleanup failed", "err", err)
	} else if n > 0 {
		m.logger.Info("oldest-record cleanup removed records", "rows", n)
	}
}

// dirSize sums regular file sizes under the store directory.
func (m *Monitor) dirSize(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
