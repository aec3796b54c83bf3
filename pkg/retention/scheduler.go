package retention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Sweeper on a cron schedule. Overlapping runs are skipped and
// panics are recovered.
type Scheduler struct {
	sweeper  *Sweeper
	days     int
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewScheduler validates schedule (standard cron or descriptor such as "@hourly").
func NewScheduler(sweeper *Sweeper, retentionDays int, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	return &Scheduler{
		sweeper:  sweeper,
		days:     retentionDays,
		schedule: schedule,
		logger:   logger.With("module", "retention_scheduler", "schedule", schedule),
	}, nil
}

// Start registers the job, triggers one sweep immediately in the background and starts
// the cron loop. With retention disabled it does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.days <= 0 {
		s.logger.InfoContext(ctx, "Retention disabled")

		return nil
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	runCtx := context.WithoutCancel(ctx)

	id, err := s.cron.AddFunc(s.schedule, func() {
		s.sweeper.Sweep(runCtx, s.days)
	})
	if err != nil {
		return fmt.Errorf("failed to add retention job: %w", err)
	}

	go s.cron.Entry(id).WrappedJob.Run()

	s.cron.Start()

	s.logger.InfoContext(ctx, "Retention scheduler started", "retention_days", s.days)

	return nil
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
