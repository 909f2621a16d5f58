package records

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a record does not exist or belongs to another
// account.
var ErrNotFound = errors.New("record not found")

// ConversionStatus is the lifecycle state of a conversion record.
type ConversionStatus string

const (
	StatusPending    ConversionStatus = "PENDING"
	StatusProcessing ConversionStatus = "PROCESSING"
	StatusComplete   ConversionStatus = "COMPLETE"
	StatusFailed     ConversionStatus = "FAILED"
	StatusCancelled  ConversionStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s ConversionStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseConversionStatus accepts any casing.
func ParseConversionStatus(value string) (ConversionStatus, bool) {
	status := ConversionStatus(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case StatusPending, StatusProcessing, StatusComplete, StatusFailed, StatusCancelled:
		return status, true
	}
	return "", false
}

// Options tunes a conversion.
type Options struct {
	Quality    int    `json:"quality,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// SourceFile is an uploaded object owned by an account.
type SourceFile struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Key       string    `json:"key"`
	Format    string    `json:"format"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversion tracks one transcoding request.
type Conversion struct {
	ID               string           `json:"id"`
	AccountID        string           `json:"accountId"`
	FileID           string           `json:"fileId"`
	SourceFormat     string           `json:"sourceFormat"`
	TargetFormat     string           `json:"targetFormat"`
	OutputKey        string           `json:"outputKey"`
	Options          Options          `json:"options"`
	Status           ConversionStatus `json:"status"`
	NotifyAddress    string           `json:"notifyAddress,omitempty"`
	JobID            string           `json:"jobId,omitempty"`
	LeaseToken       string           `json:"-"`
	Attempt          int              `json:"attempt"`
	Progress         int              `json:"progress"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	LastAttemptError string           `json:"lastAttemptError,omitempty"`
	OutputSize       *int64           `json:"outputSize,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	StartedAt        *time.Time       `json:"startedAt,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}

// Lease identifies the queue delivery that owns a conversion while it runs.
type Lease struct {
	JobID   string
	Token   string
	Attempt int
}

// ConversionFilter narrows ListConversions.
type ConversionFilter struct {
	AccountID string
	Status    ConversionStatus
	Limit     int
}

// ConversionStats summarises an account's activity over a window.
type ConversionStats struct {
	Total       int   `json:"total"`
	Succeeded   int   `json:"succeeded"`
	Failed      int   `json:"failed"`
	StorageUsed int64 `json:"storageUsed"`
}

// ScheduledJob is a recurring conversion request bound to a queue trigger.
type ScheduledJob struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"accountId"`
	FileID        string     `json:"fileId"`
	Name          string     `json:"name"`
	TargetFormat  string     `json:"targetFormat"`
	Options       Options    `json:"options"`
	Cron          string     `json:"cron"`
	TriggerID     string     `json:"triggerId"`
	NotifyAddress string     `json:"notifyAddress,omitempty"`
	Active        bool       `json:"active"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// NotificationKind classifies an in-app notification.
type NotificationKind string

const (
	KindSuccess NotificationKind = "success"
	KindError   NotificationKind = "error"
	KindInfo    NotificationKind = "info"
)

// Notification is an in-app message shown on the account dashboard.
type Notification struct {
	ID        string           `json:"id"`
	AccountID string           `json:"accountId"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}
