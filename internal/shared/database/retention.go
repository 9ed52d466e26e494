package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention periodically deletes events older than a fixed age.
type Retention struct {
	db       *DB
	schedule string
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRetention prepares a purge job. schedule is a standard five-field cron
// expression, e.g. "0 * * * *" for hourly.
func NewRetention(db *DB, schedule string, maxAge time.Duration, logger *slog.Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", maxAge)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		db:       db,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger.With("component", "event_retention"),
		cron:     cron.New(),
	}, nil
}

// Start schedules the purge.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, func() { r.Purge(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule purge: %w", err)
	}
	r.cron.Start()
	r.running = true

	r.logger.Info("event retention started", "schedule", r.schedule, "max_age", r.maxAge)
	return nil
}

// Purge runs one purge cycle and returns the number of deleted rows.
func (r *Retention) Purge(ctx context.Context) int64 {
	deleted, err := r.db.PurgeEvents(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		r.logger.Error("event purge failed", "error", err)
		return 0
	}
	if deleted > 0 {
		r.logger.Info("event purge completed", "deleted_count", deleted)
	}
	return deleted
}

// Stop stops the schedule and waits for a running purge.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		<-r.cron.Stop().Done()
		r.running = false
	}
}
