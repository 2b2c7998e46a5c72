/**
 * @description
 * Cron scheduler for the reminder sweep over stale pending withdrawal requests.
 */
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shako/savings-service/internal/app"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	service    *app.Service
	logger     *slog.Logger
	schedule   string
	pendingAge time.Duration
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *app.Service, logger *slog.Logger, schedule string, pendingAge time.Duration) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:       c,
		service:    service,
		logger:     logger,
		schedule:   schedule,
		pendingAge: pendingAge,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runReminderSweep); err != nil {
		s.logger.Error("failed to schedule reminder sweep", "error", err)
	} else {
		s.logger.Info("scheduled reminder sweep", "schedule", s.schedule, "pending_age", s.pendingAge.String())
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runReminderSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := s.service.RemindPendingWithdrawals(ctx, s.pendingAge)
	if err != nil {
		s.logger.Error("reminder sweep failed", "error", err)
		return
	}
	s.logger.Info("reminder sweep complete",
		"individual_reminders", result.IndividualReminders,
		"group_reminders", result.GroupReminders,
		"publish_failures", result.PublishFailures,
	)
}
