package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type names a job stream. Each worker pool leases from exactly one type.
type Type string

const (
	TypeConversion       Type = "conversion"
	TypeScheduledTrigger Type = "scheduled-trigger"
	TypeNotification     Type = "notification"
)

// Status is the queue-level lifecycle of a job envelope.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{StatusWaiting, StatusActive, StatusCompleted, StatusFailed}

// AllStatuses returns every queue status in display order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string to a Status, returning false if unknown.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, status := range allStatuses {
		if string(status) == normalized {
			return status, true
		}
	}
	return "", false
}

// ParseType converts a string to a job Type, returning false if unknown.
func ParseType(value string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(value))) {
	case TypeConversion:
		return TypeConversion, true
	case TypeScheduledTrigger:
		return TypeScheduledTrigger, true
	case TypeNotification:
		return TypeNotification, true
	}
	return "", false
}

const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"

	DefaultMaxAttempts = 3
	DefaultBackoffBase = 5 * time.Second
	DefaultPriority    = 50

	DefaultCompletedRetention = 100
	DefaultFailedRetention    = 500
)

// Backoff describes how long a failed job waits before its next attempt.
type Backoff struct {
	Kind string        `json:"kind"`
	Base time.Duration `json:"base"`
}

// DefaultBackoff doubles from a five second base.
func DefaultBackoff() Backoff {
	return Backoff{Kind: BackoffExponential, Base: DefaultBackoffBase}
}

// Delay returns the wait before the next attempt after attemptsMade failures.
// Exponential delays are base, 2*base, 4*base and so on.
func (b Backoff) Delay(attemptsMade int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if b.Kind == BackoffFixed {
		return base
	}
	shift := attemptsMade - 1
	if shift > 20 {
		shift = 20
	}
	return base << shift
}

func (b Backoff) normalized() Backoff {
	if b.Kind != BackoffFixed {
		b.Kind = BackoffExponential
	}
	if b.Base <= 0 {
		b.Base = DefaultBackoffBase
	}
	return b
}

// EnqueueOptions tunes a single enqueue. Zero values take the queue defaults.
type EnqueueOptions struct {
	// Priority orders ready jobs; lower values lease first.
	Priority    int
	MaxAttempts int
	Backoff     Backoff
	Delay       time.Duration
	// GroupKey limits delivery to one active job per key.
	GroupKey string
}

// Job is the queue envelope. It is owned by the queue while in flight.
type Job struct {
	ID             string
	Type           Type
	Payload        json.RawMessage
	Priority       int
	Status         Status
	AttemptsMade   int
	MaxAttempts    int
	Backoff        Backoff
	GroupKey       string
	TriggerID      string
	RunAt          time.Time
	LeaseOwner     string
	LeaseToken     string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if j == nil || len(j.Payload) == 0 {
		return errors.New("job payload is empty")
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// FinalAttempt reports whether a failure of the current attempt exhausts the
// retry budget.
func (j *Job) FinalAttempt() bool {
	return j != nil && j.AttemptsMade >= j.MaxAttempts
}

// Outcome reports what Fail did with a job.
type Outcome struct {
	Dead      bool
	NextRunAt time.Time
}

// Trigger is a recurring registration that enqueues a template job on a cron
// schedule.
type Trigger struct {
	ID          string
	Cron        string
	JobType     Type
	Payload     json.RawMessage
	Priority    int
	MaxAttempts int
	NextRunAt   time.Time
	LastFiredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when a lease expired or was taken over before
	// the holder acknowledged it.
	ErrLeaseLost = errors.New("job lease lost")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Fail moves the job to the dead set
// regardless of remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	const limit = 4000
	if len(msg) > limit {
		msg = msg[:limit]
	}
	return msg
}
