package api

import (
	"encoding/json"
	"time"

	"convertd/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueJob describes a queue envelope in a transport-friendly format.
type QueueJob struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	TriggerID    string          `json:"triggerId,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	RunAt        string          `json:"runAt,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	FinishedAt   string          `json:"finishedAt,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// QueueStats maps job type to per-status counts.
type QueueStats map[string]map[string]int

// FileRequest registers an uploaded (or about to be uploaded) source file.
type FileRequest struct {
	Name   string `json:"name" validate:"required,max=255"`
	Format string `json:"format" validate:"omitempty,alphanum,max=10"`
	Key    string `json:"key" validate:"omitempty,max=1024"`
	Size   int64  `json:"size" validate:"gte=0"`
}

// UploadURL is a time-limited upload reference.
type UploadURL struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresAt string `json:"expiresAt"`
}

// OptionsRequest tunes a conversion.
type OptionsRequest struct {
	Quality    int    `json:"quality" validate:"gte=0,lte=100"`
	Resolution string `json:"resolution" validate:"omitempty,max=16"`
}

// ConversionRequest submits a conversion.
type ConversionRequest struct {
	FileID        string         `json:"fileId" validate:"required"`
	TargetFormat  string         `json:"targetFormat" validate:"required,alphanum,max=10"`
	Options       OptionsRequest `json:"options"`
	NotifyAddress string         `json:"notifyAddress" validate:"omitempty,email"`
}

// ConversionView is a conversion plus its download link once complete.
type ConversionView struct {
	ID               string `json:"id"`
	FileID           string `json:"fileId"`
	SourceFormat     string `json:"sourceFormat"`
	TargetFormat     string `json:"targetFormat"`
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	Attempt          int    `json:"attempt"`
	JobID            string `json:"jobId,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	LastAttemptError string `json:"lastAttemptError,omitempty"`
	OutputSize       *int64 `json:"outputSize,omitempty"`
	DownloadURL      string `json:"downloadUrl,omitempty"`
	CreatedAt        string `json:"createdAt"`
	StartedAt        string `json:"startedAt,omitempty"`
	CompletedAt      string `json:"completedAt,omitempty"`
}

// ScheduleRequest creates a recurring conversion.
type ScheduleRequest struct {
	FileID        string         `json:"fileId" validate:"required"`
	Name          string         `json:"name" validate:"required,max=120"`
	TargetFormat  string         `json:"targetFormat" validate:"required,alphanum,max=10"`
	Schedule      string         `json:"schedule" validate:"required,max=120"`
	Options       OptionsRequest `json:"options"`
	NotifyAddress string         `json:"notifyAddress" validate:"omitempty,email"`
}

// DigestRequest asks for a weekly summary mail.
type DigestRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// DigestResponse reports the enqueued digest.
type DigestResponse struct {
	JobID       string `json:"jobId"`
	Total       int    `json:"total"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	StorageUsed string `json:"storageUsed"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromQueueJob converts a queue envelope into its DTO.
func FromQueueJob(job *queue.Job) QueueJob {
	if job == nil {
		return QueueJob{}
	}
	return QueueJob{
		ID:           job.ID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		Priority:     job.Priority,
		AttemptsMade: job.AttemptsMade,
		MaxAttempts:  job.MaxAttempts,
		TriggerID:    job.TriggerID,
		LastError:    job.LastError,
		RunAt:        formatTime(job.RunAt),
		CreatedAt:    formatTime(job.CreatedAt),
		FinishedAt:   formatTimePtr(job.FinishedAt),
		Payload:      job.Payload,
	}
}
