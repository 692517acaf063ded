// Package scheduler starts backfill jobs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/robfig/cron"
)

// Starter launches a backfill job.
type Starter interface {
	Start(ctx context.Context, opts model.BackfillOptions) (string, error)
}

// Schedule returns the next activation strictly after the given time.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseSchedule accepts a six-field cron spec with seconds, or a descriptor
// such as "@daily" or "@every 6h".
func ParseSchedule(spec string) (Schedule, error) {
	sched, err := cron.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse backfill schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler fires a backfill with fixed options on every activation.
type Scheduler struct {
	schedule Schedule
	jobs     Starter
	opts     model.BackfillOptions
	logger   *slog.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

// New creates a scheduler. Now and After default to the wall clock.
func New(schedule Schedule, jobs Starter, opts model.BackfillOptions, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		schedule: schedule,
		jobs:     jobs,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}
}

// WithClock replaces the clock used to compute and wait for activations.
func (s *Scheduler) WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) *Scheduler {
	s.now = now
	s.after = after
	return s
}

// Run blocks until ctx is done, starting a job at each activation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		next := s.schedule.Next(now)
		if next.IsZero() {
			return errors.New("backfill schedule has no future activations")
		}
		s.logger.Debug("next scheduled backfill", "at", next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(now)):
		}
		s.Tick(ctx)
	}
}

// Tick starts one job. A job already in progress is logged and left alone.
func (s *Scheduler) Tick(ctx context.Context) {
	id, err := s.jobs.Start(ctx, s.opts)
	switch {
	case errors.Is(err, model.ErrJobRunning):
		s.logger.Info("scheduled backfill skipped, job already running", "error", err)
	case err != nil:
		s.logger.Error("scheduled backfill failed to start", "error", err)
	default:
		s.logger.Info("scheduled backfill started", "job_id", id)
	}
}
