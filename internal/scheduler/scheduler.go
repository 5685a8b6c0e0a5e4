package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"qback/internal/logging"
)

// Job is a unit of scheduled work
type Job func(ctx context.Context) error

// Scheduler runs periodic re-backtesting jobs on a cron schedule
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger.WithField("component", "scheduler"),
	}
}

// AddJob registers a named job under a cron expression. Job failures
// are logged and do not stop the schedule.
func (s *Scheduler) AddJob(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.WithField("job", name).Info("scheduled job starting")
		if err := job(context.Background()); err != nil {
			s.logger.WithField("job", name).WithError(err).Error("scheduled job failed")
			return
		}
		s.logger.WithField("job", name).Info("scheduled job completed")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	return nil
}

// Start begins executing scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
