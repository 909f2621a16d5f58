package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"convertd/internal/queue"
)

// Kind selects the template and payload shape of a notification.
type Kind string

const (
	KindConversionComplete Kind = "conversion_complete"
	KindConversionFailed   Kind = "conversion_failed"
	KindScheduledJobRan    Kind = "scheduled_job_ran"
	KindWeeklyDigest       Kind = "weekly_digest"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindConversionComplete, KindConversionFailed, KindScheduledJobRan, KindWeeklyDigest}

// Known reports whether k has a template.
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Job is the notification queue payload.
type Job struct {
	Recipient string          `json:"recipient"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// ConversionComplete announces a finished conversion.
type ConversionComplete struct {
	FileName    string `json:"fileName"`
	Format      string `json:"format"`
	DownloadURL string `json:"downloadUrl"`
}

// ConversionFailed announces a conversion that will not be retried.
type ConversionFailed struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
	RetryURL string `json:"retryUrl"`
}

// ScheduledJobRan announces that a schedule fired and queued a conversion.
type ScheduledJobRan struct {
	JobName      string `json:"jobName"`
	FileName     string `json:"fileName,omitempty"`
	Format       string `json:"format"`
	ConversionID string `json:"conversionId"`
}

// WeeklyDigest summarises an account's last seven days.
type WeeklyDigest struct {
	Total       int    `json:"total"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	StorageUsed string `json:"storageUsed"`
}

// Enqueuer places notification jobs on the queue.
type Enqueuer struct {
	queue       queue.Queue
	maxAttempts int
}

// NewEnqueuer builds an enqueuer. maxAttempts <= 0 uses the queue default.
func NewEnqueuer(q queue.Queue, maxAttempts int) *Enqueuer {
	return &Enqueuer{queue: q, maxAttempts: maxAttempts}
}

// Enqueue validates the request and adds a notification job.
func (e *Enqueuer) Enqueue(ctx context.Context, recipient string, kind Kind, payload any) (string, error) {
	if e == nil || e.queue == nil {
		return "", errors.New("notifications: enqueuer has no queue")
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", errors.New("notifications: recipient is required")
	}
	if !kind.Known() {
		return "", fmt.Errorf("notifications: unknown kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("notifications: encode %s payload: %w", kind, err)
	}
	return e.queue.Enqueue(ctx, queue.TypeNotification, Job{
		Recipient: recipient,
		Kind:      kind,
		Payload:   raw,
	}, queue.EnqueueOptions{MaxAttempts: e.maxAttempts})
}
