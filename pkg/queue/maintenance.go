package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gestium/flowmail/pkg/log"
	"github.com/gestium/flowmail/pkg/persistence"
)

// MaintenanceConfig tunes the periodic queue sweeps.
type MaintenanceConfig struct {
	// ReclaimCron schedules the stuck-job sweep.
	ReclaimCron string
	// StuckAfter is how long a job may sit in SENDING before its claim
	// is considered abandoned.
	StuckAfter time.Duration
	// MaxAttempts mirrors the worker's retry bound; a reclaimed attempt
	// counts as a failed one.
	MaxAttempts int
	// RetentionCron schedules the delivery log retention sweep.
	RetentionCron string
	// Retention is how long delivery log entries are kept.
	Retention time.Duration
}

func (c MaintenanceConfig) withDefaults() MaintenanceConfig {
	if c.ReclaimCron == "" {
		c.ReclaimCron = "*/5 * * * *"
	}

	if c.StuckAfter <= 0 {
		c.StuckAfter = 10 * time.Minute
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}

	if c.RetentionCron == "" {
		c.RetentionCron = "30 3 * * *"
	}

	if c.Retention <= 0 {
		c.Retention = 90 * 24 * time.Hour
	}

	return c
}

// Maintenance runs the cron-driven sweeps: reclaiming jobs whose worker
// died mid-delivery and purging delivery log entries past retention.
type Maintenance struct {
	jobs        persistence.JobRepository
	deliveryLog persistence.DeliveryLogRepository
	config      MaintenanceConfig
	logger      *slog.Logger
	cron        *cron.Cron
	now         func() time.Time
}

func NewMaintenance(
	jobs persistence.JobRepository,
	deliveryLog persistence.DeliveryLogRepository,
	config MaintenanceConfig,
	logger *slog.Logger,
) *Maintenance {
	return &Maintenance{
		jobs:        jobs,
		deliveryLog: deliveryLog,
		config:      config.withDefaults(),
		logger:      log.WithModule(logger, "queue-maintenance"),
		now:         time.Now,
	}
}

// Start registers and starts the sweeps. The cron scheduler skips a
// sweep that is still running from the previous tick.
func (m *Maintenance) Start(ctx context.Context) error {
	m.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := m.cron.AddFunc(m.config.ReclaimCron, func() {
		m.ReclaimStuck(ctx)
	})
	if err != nil {
		return err
	}

	_, err = m.cron.AddFunc(m.config.RetentionCron, func() {
		m.PurgeDeliveryLog(ctx)
	})
	if err != nil {
		return err
	}

	m.cron.Start()
	m.logger.InfoContext(ctx, "Maintenance sweeps started",
		"reclaim_cron", m.config.ReclaimCron, "retention_cron", m.config.RetentionCron)

	return nil
}

// Stop halts the scheduler. Running sweeps finish.
func (m *Maintenance) Stop(ctx context.Context) {
	if m.cron != nil {
		stopCtx := m.cron.Stop()
		<-stopCtx.Done()
	}

	m.logger.InfoContext(ctx, "Maintenance sweeps stopped")
}

// ReclaimStuck returns abandoned SENDING jobs to the queue, counting the
// interrupted delivery as a failed attempt.
func (m *Maintenance) ReclaimStuck(ctx context.Context) {
	cutoff := m.now().UTC().Add(-m.config.StuckAfter)

	reclaimed, err := m.jobs.ReclaimStuck(ctx, cutoff, m.config.MaxAttempts)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to reclaim stuck jobs", "error", err)

		return
	}

	if reclaimed > 0 {
		m.logger.WarnContext(ctx, "Reclaimed stuck jobs", "count", reclaimed, "stuck_after", m.config.StuckAfter.String())
	}
}

// PurgeDeliveryLog removes delivery log entries past retention.
func (m *Maintenance) PurgeDeliveryLog(ctx context.Context) {
	cutoff := m.now().UTC().Add(-m.config.Retention)

	purged, err := m.deliveryLog.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to purge delivery log", "error", err)

		return
	}

	if purged > 0 {
		m.logger.InfoContext(ctx, "Purged delivery log entries", "count", purged)
	}
}
