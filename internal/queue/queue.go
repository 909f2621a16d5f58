package queue

import (
	"context"
	"fmt"
	"time"

	"convertd/internal/config"
)

// Queue is the contract every backend provides. Workers depend on this
// interface only.
type Queue interface {
	// Enqueue persists a job and returns its id.
	Enqueue(ctx context.Context, jobType Type, payload any, opts EnqueueOptions) (string, error)
	// Lease hands the next ready job of jobType to owner for leaseFor. It
	// returns nil without error when nothing is ready.
	Lease(ctx context.Context, jobType Type, owner string, leaseFor time.Duration) (*Job, error)
	// Extend pushes the lease expiry of a held job forward.
	Extend(ctx context.Context, job *Job, leaseFor time.Duration) error
	// Complete acknowledges a held job.
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed attempt and either schedules a retry or moves the
	// job to the dead set.
	Fail(ctx context.Context, job *Job, cause error) (Outcome, error)
	// ReclaimExpired returns expired leases to waiting, or to the dead set
	// when their attempts are exhausted.
	ReclaimExpired(ctx context.Context) (int, error)

	Get(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context) (map[Type]map[Status]int, error)
	ListDead(ctx context.Context, jobType Type, limit int) ([]*Job, error)
	RetryDead(ctx context.Context, ids ...string) (int, error)

	// RegisterRecurring upserts a trigger by id. Re-registering with the same
	// cron keeps the pending fire time.
	RegisterRecurring(ctx context.Context, trigger Trigger) error
	// RemoveRecurring deletes a trigger; in-flight jobs are untouched.
	RemoveRecurring(ctx context.Context, id string) (bool, error)
	ListRecurring(ctx context.Context) ([]Trigger, error)
	// FireDue enqueues one job for every trigger due at now and advances its
	// next fire time. It returns the enqueued job ids.
	FireDue(ctx context.Context, now time.Time) ([]string, error)

	Close() error
}

type settings struct {
	now                func() time.Time
	maxAttempts        int
	backoff            Backoff
	completedRetention int
	failedRetention    int
}

func defaultSettings() settings {
	return settings{
		now:                time.Now,
		maxAttempts:        DefaultMaxAttempts,
		backoff:            DefaultBackoff(),
		completedRetention: DefaultCompletedRetention,
		failedRetention:    DefaultFailedRetention,
	}
}

func (s settings) clock() time.Time {
	return s.now().UTC()
}

// resolve fills enqueue defaults.
func (s settings) resolve(opts EnqueueOptions) EnqueueOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = s.maxAttempts
	}
	if opts.Backoff.Base <= 0 && opts.Backoff.Kind == "" {
		opts.Backoff = s.backoff
	}
	opts.Backoff = opts.Backoff.normalized()
	if opts.Priority <= 0 {
		opts.Priority = DefaultPriority
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return opts
}

// Option customizes a backend.
type Option func(*settings)

// WithClock replaces the time source. Tests use it to step through backoff.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetention bounds how many completed and dead jobs are kept per type.
func WithRetention(completed, failed int) Option {
	return func(s *settings) {
		if completed > 0 {
			s.completedRetention = completed
		}
		if failed > 0 {
			s.failedRetention = failed
		}
	}
}

// WithDefaults sets the attempt budget and backoff applied when an enqueue
// leaves them unset.
func WithDefaults(maxAttempts int, backoff Backoff) Option {
	return func(s *settings) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff.Base > 0 {
			s.backoff = backoff.normalized()
		}
	}
}

// Open builds the backend selected by cfg.Queue.Backend.
func Open(cfg *config.Config, opts ...Option) (Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue: config is required")
	}
	base := []Option{
		WithDefaults(cfg.Queue.MaxAttempts, Backoff{Kind: BackoffExponential, Base: cfg.Queue.BackoffBase()}),
		WithRetention(cfg.Queue.CompletedRetention, cfg.Queue.FailedRetention),
	}
	opts = append(base, opts...)
	switch cfg.Queue.Backend {
	case config.QueueRedis:
		return OpenRedis(cfg.Queue.RedisURL, cfg.Queue.RedisPrefix, opts...)
	case config.QueueSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQL(cfg.QueueDBPath(), opts...)
	default:
		return nil, fmt.Errorf("queue: unknown backend %q", cfg.Queue.Backend)
	}
}
