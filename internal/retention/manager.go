package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-telemetry/internal/metrics"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
)

// DefaultRetentionDays applies when Purge is called with 0
const DefaultRetentionDays = 90

// Config controls the purge horizons. SampleDays of 0 disables sample purging.
type Config struct {
	EventDays  int
	SampleDays int
}

// Manager deletes old resolved events and, optionally, old samples
type Manager struct {
	store   storage.EventStore
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager creates a retention manager
func NewManager(store storage.EventStore, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EventDays <= 0 {
		cfg.EventDays = DefaultRetentionDays
	}
	return &Manager{
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("retention"),
		metrics: m,
		now:     time.Now,
	}
}

func (m *Manager) horizon(days int) time.Time {
	return m.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// Purge removes resolved events older than days. 0 uses the configured default.
// Unresolved events and the daily rollup are never touched.
func (m *Manager) Purge(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d", days)
	}
	if days == 0 {
		days = m.cfg.EventDays
	}

	before := m.horizon(days)
	n, err := m.store.PurgeResolved(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge resolved events: %w", err)
	}

	m.metrics.EventsPurged(n)
	m.logger.Info("purged resolved error events",
		zap.Int64("deleted", n),
		zap.Int("older_than_days", days),
		zap.Time("before", before),
	)
	return n, nil
}

// PurgeSamples removes probe, system, metric and api error rows older than days.
// 0 uses the configured sample horizon; when that is also 0 nothing is deleted.
func (m *Manager) PurgeSamples(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d", days)
	}
	if days == 0 {
		days = m.cfg.SampleDays
	}
	if days == 0 {
		return 0, nil
	}

	before := m.horizon(days)
	n, err := m.store.PurgeSamples(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge samples: %w", err)
	}

	m.metrics.SamplesPurged(n)
	m.logger.Info("purged samples",
		zap.Int64("deleted", n),
		zap.Int("older_than_days", days),
	)
	return n, nil
}

// Run executes both purges with their configured horizons
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.Purge(ctx, 0); err != nil {
		return err
	}
	_, err := m.PurgeSamples(ctx, 0)
	return err
}

// EventDays returns the default event horizon used when Purge gets 0
func (m *Manager) EventDays() int {
	return m.cfg.EventDays
}
