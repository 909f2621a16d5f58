package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"convertd/internal/conversion"
	"convertd/internal/logging"
	"convertd/internal/notifications"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/services"
)

// Worker handles scheduled-trigger jobs.
type Worker struct {
	records   *records.Store
	submitter *conversion.Submitter
	notifier  *notifications.Enqueuer
	logger    *slog.Logger
	now       func() time.Time
}

var _ queue.Handler = (*Worker)(nil)

// NewWorker builds the trigger handler. notifier may be nil.
func NewWorker(store *records.Store, submitter *conversion.Submitter, notifier *notifications.Enqueuer, logger *slog.Logger) *Worker {
	return &Worker{
		records:   store,
		submitter: submitter,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "scheduler"),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for last-run stamps.
func (w *Worker) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Handle submits one conversion for a fired schedule.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var trigger Trigger
	if err := job.Decode(&trigger); err != nil {
		return queue.Permanent(services.Wrap(services.ErrValidation, "scheduler", "decode", "", err))
	}
	logger := logging.WithContext(ctx, w.logger).With(
		logging.String(logging.FieldTriggerID, job.TriggerID),
		logging.String("scheduled_job_id", trigger.ScheduledJobID),
	)

	sched, err := w.records.GetScheduledJob(ctx, trigger.ScheduledJobID)
	if errors.Is(err, records.ErrNotFound) {
		logger.Info("schedule removed; trigger ignored", logging.String(logging.FieldEventType, "schedule_missing"))
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "load schedule", "", err)
	}
	if !sched.Active {
		logger.Info("schedule paused; trigger ignored", logging.String(logging.FieldEventType, "schedule_inactive"))
		return nil
	}

	file, err := w.records.GetSourceFile(ctx, sched.AccountID, sched.FileID)
	if errors.Is(err, records.ErrNotFound) {
		return queue.Permanent(services.Wrap(services.ErrNotFound, "scheduler", "source file", "file not found for scheduled job", err))
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "source file", "", err)
	}

	conv, err := w.submitter.Submit(ctx, conversion.Request{
		AccountID:     sched.AccountID,
		FileID:        file.ID,
		TargetFormat:  sched.TargetFormat,
		Options:       sched.Options,
		NotifyAddress: sched.NotifyAddress,
	})
	if err != nil {
		if !services.Retryable(err) {
			return queue.Permanent(err)
		}
		return err
	}
	if err := w.records.TouchLastRun(ctx, sched.ID, w.now()); err != nil {
		logger.Warn("last run not recorded", logging.Error(err))
	}
	logger.Info("scheduled conversion submitted",
		logging.String(logging.FieldConversionID, conv.ID),
		logging.String(logging.FieldJobID, conv.JobID),
		logging.String(logging.FieldEventType, "schedule_fired"),
	)

	if sched.NotifyAddress != "" && w.notifier != nil {
		_, err := w.notifier.Enqueue(ctx, sched.NotifyAddress, notifications.KindScheduledJobRan, notifications.ScheduledJobRan{
			JobName:      sched.Name,
			FileName:     file.Name,
			Format:       sched.TargetFormat,
			ConversionID: conv.ID,
		})
		if err != nil {
			logging.WarnWithContext(logger, "scheduled job notice not enqueued", "notification_enqueue_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "user is not emailed about this run"),
			)
		}
	}
	return nil
}
