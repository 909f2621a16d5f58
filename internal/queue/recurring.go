package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"convertd/internal/logging"
)

// ParseCron validates a standard five-field cron expression (or a @descriptor)
// and returns its schedule. Schedules are evaluated in UTC.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NextFire returns the first fire time strictly after now.
func NextFire(expr string, now time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.UTC()), nil
}

func validateTrigger(trigger Trigger) error {
	if strings.TrimSpace(trigger.ID) == "" {
		return fmt.Errorf("trigger id is required")
	}
	if strings.TrimSpace(string(trigger.JobType)) == "" {
		return fmt.Errorf("trigger %s: job type is required", trigger.ID)
	}
	return nil
}

// triggerEnqueueOptions builds the options of a job fired by trigger. Firings
// share the trigger id as group key so they never overlap.
func triggerEnqueueOptions(s settings, trigger Trigger) EnqueueOptions {
	return s.resolve(EnqueueOptions{
		Priority:    trigger.Priority,
		MaxAttempts: trigger.MaxAttempts,
		GroupKey:    trigger.ID,
	})
}

// RecurringRunner polls a queue for due triggers.
type RecurringRunner struct {
	queue    Queue
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecurringRunner builds a runner that checks for due triggers every interval.
func NewRecurringRunner(q Queue, interval time.Duration, logger *slog.Logger) *RecurringRunner {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &RecurringRunner{
		queue:    q,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "recurring"),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (r *RecurringRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick fires every due trigger once.
func (r *RecurringRunner) Tick(ctx context.Context) {
	ids, err := r.queue.FireDue(ctx, r.now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(r.logger, "recurring trigger poll failed", "recurring_poll_failed",
			logging.String(logging.FieldErrorHint, "check queue backend connectivity"),
			logging.String(logging.FieldImpact, "scheduled jobs fire late"),
			logging.Error(err),
		)
		return
	}
	if len(ids) > 0 {
		r.logger.Info("recurring triggers fired",
			logging.String(logging.FieldEventType, "recurring_fired"),
			logging.Int("count", len(ids)),
		)
	}
}

// SetClock replaces the time source used to decide which triggers are due.
func (r *RecurringRunner) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}
