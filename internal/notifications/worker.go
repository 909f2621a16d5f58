package notifications

import (
	"context"
	"log/slog"
	"strings"

	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/services"
)

// Worker consumes notification jobs.
type Worker struct {
	transport Transport
	appURL    string
	logger    *slog.Logger
}

var _ queue.Handler = (*Worker)(nil)

// NewWorker builds a worker that renders links against appURL.
func NewWorker(transport Transport, appURL string, logger *slog.Logger) *Worker {
	return &Worker{
		transport: transport,
		appURL:    strings.TrimRight(appURL, "/"),
		logger:    logging.NewComponentLogger(logger, "notifications"),
	}
}

// Handle renders and sends one notification. Malformed jobs are permanent
// failures; delivery errors retry.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var n Job
	if err := job.Decode(&n); err != nil {
		return queue.Permanent(services.Wrap(services.ErrValidation, "notify", "decode", "", err))
	}
	msg, err := Render(n, w.appURL)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := w.transport.Send(ctx, msg); err != nil {
		if !services.Retryable(err) {
			return queue.Permanent(err)
		}
		return err
	}
	logging.WithContext(ctx, w.logger).Info("notification sent",
		logging.String("kind", string(n.Kind)),
		logging.String("recipient", n.Recipient),
		logging.String(logging.FieldEventType, "notification_sent"),
	)
	return nil
}
