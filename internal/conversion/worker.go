package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"convertd/internal/config"
	"convertd/internal/dispatch"
	"convertd/internal/logging"
	"convertd/internal/notifications"
	"convertd/internal/objectstore"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/services"
)

// Progress checkpoints reported to status pollers.
const (
	ProgressDispatching = 10
	ProgressDispatched  = 90
	ProgressDone        = 100
)

// Dispatcher runs one conversion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// URLSigner mints time-limited download references.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ URLSigner = (objectstore.Store)(nil)

// Worker is the conversion queue handler.
type Worker struct {
	records     *records.Store
	dispatcher  Dispatcher
	signer      URLSigner
	notifier    *notifications.Enqueuer
	appURL      string
	downloadTTL time.Duration
	timeout     time.Duration
	logger      *slog.Logger
}

var _ queue.Handler = (*Worker)(nil)

// NewWorker wires the handler from configuration.
func NewWorker(cfg *config.Config, store *records.Store, dispatcher Dispatcher, signer URLSigner, notifier *notifications.Enqueuer, logger *slog.Logger) *Worker {
	w := &Worker{
		records:     store,
		dispatcher:  dispatcher,
		signer:      signer,
		notifier:    notifier,
		downloadTTL: time.Hour,
		logger:      logging.NewComponentLogger(logger, "conversion"),
	}
	if cfg != nil {
		w.appURL = strings.TrimRight(cfg.Mail.AppURL, "/")
		if ttl := cfg.Storage.DownloadExpiry(); ttl > 0 {
			w.downloadTTL = ttl
		}
		w.timeout = time.Duration(cfg.Workers.ConversionTimeout) * time.Second
	}
	return w
}

// RetryURL is where a failure notice sends the user.
func (w *Worker) RetryURL() string { return w.appURL + "/dashboard/convert" }

// Handle processes one conversion delivery.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var payload Job
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(services.Wrap(services.ErrValidation, "conversion", "decode", "", err))
	}
	ctx = services.WithConversionID(ctx, payload.ConversionID)
	logger := logging.WithContext(ctx, w.logger)

	claimed, current, err := w.records.MarkProcessing(ctx, payload.ConversionID, records.Lease{
		JobID:   job.ID,
		Token:   job.LeaseToken,
		Attempt: job.AttemptsMade,
	})
	if errors.Is(err, records.ErrNotFound) {
		return queue.Permanent(services.Wrap(services.ErrNotFound, "conversion", "claim", "conversion record missing", err))
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, "conversion", "claim", "", err)
	}
	if !claimed {
		logger.Info("conversion already settled; acknowledging delivery",
			logging.String("status", string(current.Status)),
			logging.String(logging.FieldEventType, "conversion_redelivery_skipped"),
		)
		return nil
	}
	token := job.LeaseToken

	logger.Info("conversion started",
		logging.String("source_format", payload.SourceFormat),
		logging.String("target_format", payload.TargetFormat),
		logging.Int(logging.FieldAttempt, job.AttemptsMade),
		logging.String(logging.FieldEventType, "conversion_started"),
	)
	w.setProgress(ctx, logger, payload.ConversionID, token, ProgressDispatching)

	runCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	started := time.Now()
	result, err := w.dispatcher.Dispatch(runCtx, payload.dispatchRequest())
	if err != nil {
		return w.fail(ctx, logger, job, payload, token, err)
	}
	w.setProgress(ctx, logger, payload.ConversionID, token, ProgressDispatched)

	ok, err := w.records.MarkComplete(ctx, payload.ConversionID, token, result.Size)
	if err != nil {
		return services.Wrap(services.ErrTransient, "conversion", "complete", "", err)
	}
	if !ok {
		logging.WarnWithContext(logger, "conversion ownership lost before completion", "conversion_lease_lost",
			logging.String(logging.FieldImpact, "result kept by the delivery that owns the record"),
		)
		return nil
	}
	logger.Info("conversion complete",
		logging.String("strategy", string(result.Strategy)),
		logging.Int64("output_size", result.Size),
		logging.Duration("duration", time.Since(started)),
		logging.String(logging.FieldEventType, "conversion_complete"),
	)

	w.addInApp(ctx, logger, &records.Notification{
		AccountID: payload.AccountID,
		Title:     "Conversion complete",
		Message:   fmt.Sprintf("Your file is ready to download (%s)", strings.ToUpper(payload.TargetFormat)),
		Kind:      records.KindSuccess,
	})
	if payload.NotifyAddress != "" {
		w.notifyComplete(ctx, logger, payload)
	}
	w.setProgress(ctx, logger, payload.ConversionID, token, ProgressDone)
	return nil
}

// fail records a failed attempt. Terminal errors and last attempts write
// FAILED; anything else keeps the record PROCESSING for the next delivery.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *queue.Job, payload Job, token string, cause error) error {
	retryable := services.Retryable(cause)
	message := cause.Error()

	if retryable && !job.FinalAttempt() {
		if err := w.records.RecordAttemptError(ctx, payload.ConversionID, token, message); err != nil {
			logger.Warn("failed to record attempt error", logging.Error(err))
		}
		return cause
	}

	ok, err := w.records.MarkFailed(ctx, payload.ConversionID, token, message)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to persist conversion failure", "conversion_fail_write_failed",
			logging.Error(err),
			logging.String("cause", message),
			logging.String(logging.FieldErrorHint, "check record store connectivity"),
		)
	}
	if ok {
		logging.ErrorWithContext(logger, "conversion failed", "conversion_failed",
			logging.Error(cause),
			logging.String("error_kind", services.Kind(cause)),
			logging.Int(logging.FieldAttempt, job.AttemptsMade),
		)
		w.addInApp(ctx, logger, &records.Notification{
			AccountID: payload.AccountID,
			Title:     "Conversion failed",
			Message:   message,
			Kind:      records.KindError,
		})
		if payload.NotifyAddress != "" {
			w.notifyFailed(ctx, logger, payload, message)
		}
	}

	if !retryable {
		return queue.Permanent(cause)
	}
	return cause
}

func (w *Worker) setProgress(ctx context.Context, logger *slog.Logger, id, token string, progress int) {
	if err := w.records.SetProgress(ctx, id, token, progress); err != nil {
		logger.Debug("progress update failed", logging.Int("progress", progress), logging.Error(err))
	}
}

func (w *Worker) addInApp(ctx context.Context, logger *slog.Logger, n *records.Notification) {
	if err := w.records.CreateNotification(ctx, n); err != nil {
		logging.WarnWithContext(logger, "in-app notification not stored", "inapp_notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "dashboard will not show this event"),
		)
	}
}

func (w *Worker) notifyComplete(ctx context.Context, logger *slog.Logger, payload Job) {
	if w.notifier == nil {
		return
	}
	url, err := w.signer.PresignGet(ctx, payload.OutputKey, w.downloadTTL)
	if err != nil {
		logging.WarnWithContext(logger, "download link not issued; completion mail skipped", "download_url_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "user is not emailed about this conversion"),
		)
		return
	}
	w.enqueue(ctx, logger, payload.NotifyAddress, notifications.KindConversionComplete, notifications.ConversionComplete{
		FileName:    payload.displayName(),
		Format:      payload.TargetFormat,
		DownloadURL: url,
	})
}

func (w *Worker) notifyFailed(ctx context.Context, logger *slog.Logger, payload Job, message string) {
	if w.notifier == nil {
		return
	}
	w.enqueue(ctx, logger, payload.NotifyAddress, notifications.KindConversionFailed, notifications.ConversionFailed{
		FileName: payload.displayName(),
		Error:    message,
		RetryURL: w.RetryURL(),
	})
}

func (w *Worker) enqueue(ctx context.Context, logger *slog.Logger, recipient string, kind notifications.Kind, payload any) {
	if _, err := w.notifier.Enqueue(ctx, recipient, kind, payload); err != nil {
		logging.WarnWithContext(logger, "notification enqueue failed", "notification_enqueue_failed",
			logging.String("kind", string(kind)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "user is not emailed about this conversion"),
		)
	}
}

// abandonedScanLimit bounds how many dead conversion jobs one sweep inspects.
const abandonedScanLimit = 100

// SettleAbandoned fails records whose conversion job reached the dead set
// without the worker writing an outcome, e.g. a crash or hang on the final
// attempt followed by lease reclaim. Settled records get the usual failure
// notices. Records already terminal are left alone.
func (w *Worker) SettleAbandoned(ctx context.Context, q queue.Queue) (int, error) {
	dead, err := q.ListDead(ctx, queue.TypeConversion, abandonedScanLimit)
	if err != nil {
		return 0, fmt.Errorf("list dead conversions: %w", err)
	}
	settled := 0
	for _, job := range dead {
		message := strings.TrimSpace(job.LastError)
		if message == "" {
			message = "conversion abandoned"
		}
		ok, err := w.records.FailAbandoned(ctx, job.ID, message)
		if err != nil {
			return settled, err
		}
		if !ok {
			continue
		}
		settled++

		var payload Job
		if err := job.Decode(&payload); err != nil {
			w.logger.Warn("abandoned conversion payload unreadable; notices skipped",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			continue
		}
		logger := logging.WithContext(services.WithConversionID(ctx, payload.ConversionID), w.logger)
		logging.ErrorWithContext(logger, "conversion abandoned", "conversion_abandoned",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("cause", message),
			logging.Int(logging.FieldAttempt, job.AttemptsMade),
		)
		w.addInApp(ctx, logger, &records.Notification{
			AccountID: payload.AccountID,
			Title:     "Conversion failed",
			Message:   message,
			Kind:      records.KindError,
		})
		if payload.NotifyAddress != "" {
			w.notifyFailed(ctx, logger, payload, message)
		}
	}
	return settled, nil
}
