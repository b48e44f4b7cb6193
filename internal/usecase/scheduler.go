package usecase

import (
	"context"
	"log/slog"
	"time"

	"TxnPipeline/internal/ports"
)

// Scheduler wires the cron-like driver to one pipeline run: ingest the day's
// files into staging, then push the batch through the gate. Retrying a run is
// safe; the gate is idempotent over the same staged batch.
type Scheduler struct {
	driver ports.Scheduler
	feed   ports.Feed
	gate   *Gate
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, feed ports.Feed, gate *Gate, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, feed: feed, gate: gate, logger: logger}
}

// RunOnce executes a single ingest-then-gate cycle.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) error {
	if s.feed != nil {
		staged, err := s.feed.Ingest(ctx, trigger)
		if err != nil {
			// Staging keeps whatever a previous ingest left; the gate can
			// still drain it even when today's files are unreadable.
			s.logger.Error("ingest failed, gating previously staged records only", "error", err)
		} else {
			s.logger.Info("ingest complete", "staged", staged)
		}
	}

	_, err := s.gate.Run(ctx, trigger.UTC())
	return err
}

// Start registers the run with the provided scheduler driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.gate == nil {
		return nil
	}

	job := func(trigger time.Time) {
		_ = s.RunOnce(ctx, trigger)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
