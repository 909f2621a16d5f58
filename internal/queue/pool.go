package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"convertd/internal/logging"
	"convertd/internal/services"
)

// Handler processes one leased job. Returning nil acknowledges it; any error
// counts as a failed attempt. Wrap deterministic failures with Permanent.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

// PoolOptions sizes and paces a Pool.
type PoolOptions struct {
	Concurrency  int
	LeaseFor     time.Duration
	Heartbeat    time.Duration
	PollInterval time.Duration
	// Owner identifies this process in lease records.
	Owner string
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.LeaseFor <= 0 {
		o.LeaseFor = 2 * time.Minute
	}
	if o.Heartbeat <= 0 || o.Heartbeat >= o.LeaseFor {
		o.Heartbeat = o.LeaseFor / 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Owner == "" {
		host, _ := os.Hostname()
		o.Owner = fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()[:8])
	}
	return o
}

// Pool leases jobs of one type and runs up to Concurrency handlers at once.
type Pool struct {
	queue   Queue
	jobType Type
	handler Handler
	opts    PoolOptions
	sem     *semaphore.Weighted
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewPool builds a pool for jobType.
func NewPool(q Queue, jobType Type, handler Handler, opts PoolOptions, logger *slog.Logger) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		queue:   q,
		jobType: jobType,
		handler: handler,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		logger: logging.NewComponentLogger(logger, "pool").With(
			logging.String(logging.FieldJobType, string(jobType)),
		),
	}
}

// Run leases one job per free slot until ctx is cancelled, then waits for
// in-flight handlers to finish.
func (p *Pool) Run(ctx context.Context) error {
	defer p.wg.Wait()
	// Handlers outlive shutdown so leases are acknowledged rather than expired.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		job, err := p.queue.Lease(ctx, p.jobType, p.opts.Owner, p.opts.LeaseFor)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("failed to lease job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_lease_failed"),
				logging.String(logging.FieldErrorHint, "check queue backend access"),
			)
			if !sleepCtx(ctx, p.opts.PollInterval) {
				return nil
			}
			continue
		}
		if job == nil {
			p.sem.Release(1)
			if !sleepCtx(ctx, p.opts.PollInterval) {
				return nil
			}
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.process(handlerCtx, job)
		}()
	}
}

// ProcessOne leases and handles a single job synchronously. It reports
// whether a job was available.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.queue.Lease(ctx, p.jobType, p.opts.Owner, p.opts.LeaseFor)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.process(ctx, job)
	return true, nil
}

func (p *Pool) process(ctx context.Context, job *Job) {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, string(job.Type))
	logger := logging.WithContext(ctx, p.logger).With(logging.Int(logging.FieldAttempt, job.AttemptsMade))
	if job.TriggerID != "" {
		logger = logger.With(logging.String(logging.FieldTriggerID, job.TriggerID))
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go p.heartbeat(hbCtx, &hbWG, job, logger)

	started := time.Now()
	handleErr := p.safeHandle(ctx, job)
	stopHeartbeat()
	hbWG.Wait()

	if handleErr == nil {
		if err := p.queue.Complete(ctx, job); err != nil {
			logging.WarnWithContext(logger, "job acknowledgement failed", "job_ack_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "job may be delivered again after its lease expires"),
				logging.String(logging.FieldImpact, "duplicate processing possible"),
			)
			return
		}
		logger.Debug("job completed", logging.Duration("duration", time.Since(started)))
		return
	}

	outcome, err := p.queue.Fail(ctx, job, handleErr)
	if err != nil {
		logging.WarnWithContext(logger, "job failure could not be recorded", "job_fail_record_failed",
			logging.Error(err),
			logging.String("handler_error", handleErr.Error()),
			logging.String(logging.FieldErrorHint, "job may be delivered again after its lease expires"),
		)
		return
	}
	if outcome.Dead {
		logging.ErrorWithContext(logger, "job moved to dead set", "job_dead",
			logging.Error(handleErr),
			logging.Bool("permanent", IsPermanent(handleErr)),
			logging.String(logging.FieldErrorHint, "inspect with 'convertd queue dead' and retry once fixed"),
		)
		return
	}
	logging.WarnWithContext(logger, "job attempt failed; retry scheduled", "job_retry_scheduled",
		logging.Error(handleErr),
		logging.Time("next_run_at", outcome.NextRunAt),
		logging.String(logging.FieldImpact, "job delayed until next attempt"),
	)
}

func (p *Pool) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panic",
				logging.String(logging.FieldEventType, "handler_panic"),
				logging.String(logging.FieldJobID, job.ID),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, job)
}

func (p *Pool) heartbeat(ctx context.Context, wg *sync.WaitGroup, job *Job, logger *slog.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(p.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Extend(ctx, job, p.opts.LeaseFor); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("lease heartbeat failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "lease_heartbeat_failed"),
					logging.Bool("lease_lost", errors.Is(err, ErrLeaseLost)),
				)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
