package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the backup sync job on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler wires the sync job into a cron runner. The schedule accepts
// standard cron expressions and descriptors like "@every 15m".
func NewScheduler(syncer *Syncer, schedule string, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		syncer.Run(ctx)
	}); err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins scheduled runs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("backup sync scheduler started")
	s.cron.Start()
}

// Stop halts scheduling. A run already in flight finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("backup sync scheduler stopped")
}
