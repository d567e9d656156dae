package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

// Scheduler drives the monitor tick at a fixed interval. SingletonMode
// guarantees a slow tick never overlaps the next one; the per-rule
// in-flight markers cover workers that outlive their tick.
type Scheduler struct {
	cron     *gocron.Scheduler
	monitor  *Monitor
	interval time.Duration
}

// NewScheduler creates a scheduler for the monitor
func NewScheduler(monitor *Monitor, interval time.Duration) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		monitor:  monitor,
		interval: interval,
	}
}

// Start begins ticking in the background
func (s *Scheduler) Start(ctx context.Context) error {
	job, err := s.cron.Every(s.interval).SingletonMode().Do(func() {
		if err := s.monitor.Tick(ctx); err != nil {
			logger.Error("Monitor tick failed",
				logger.ErrorField(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule monitor tick: %w", err)
	}

	logger.Info("Monitor scheduler started",
		logger.Duration("interval", s.interval),
		logger.Time("next_run", job.NextRun()),
	)

	s.cron.StartAsync()
	return nil
}

// Stop stops the scheduler and waits for a running tick to finish
func (s *Scheduler) Stop() {
	s.cron.Stop()
	logger.Info("Monitor scheduler stopped")
}
