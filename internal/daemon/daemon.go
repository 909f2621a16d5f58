package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"convertd/internal/api"
	"convertd/internal/config"
	"convertd/internal/conversion"
	"convertd/internal/deps"
	"convertd/internal/dispatch"
	"convertd/internal/logging"
	"convertd/internal/notifications"
	"convertd/internal/objectstore"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/scheduling"
)

// Daemon runs the worker pools and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	queue   queue.Queue
	records *records.Store

	converter *conversion.Worker
	pools     []*queue.Pool
	recurring *queue.RecurringRunner
	api       *api.Server

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	Queue        api.QueueStats
	Dependencies []deps.Status
}

// New constructs a daemon with initialized handlers and pools.
func New(cfg *config.Config, q queue.Queue, store *records.Store, objects objectstore.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || q == nil || store == nil || objects == nil {
		return nil, errors.New("daemon requires config, queue, record store, and object store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewEnqueuer(q, cfg.Workers.NotificationMaxAttempts)
	submitter := conversion.NewSubmitter(store, q, cfg.Queue.MaxAttempts)
	submitter.SetLogger(logger)
	schedules := scheduling.NewManager(store, q, cfg.Queue.MaxAttempts)

	dispatcher := dispatch.New(cfg, objects, logger)
	converter := conversion.NewWorker(cfg, store, dispatcher, objects, notifier, logger)
	scheduler := scheduling.NewWorker(store, submitter, notifier, logger)
	mailer := notifications.NewWorker(notifications.NewTransport(cfg.Mail, logger), cfg.Mail.AppURL, logger)

	owner := ownerID()
	poolOpts := func(concurrency int) queue.PoolOptions {
		return queue.PoolOptions{
			Concurrency:  concurrency,
			LeaseFor:     cfg.Queue.Lease(),
			Heartbeat:    cfg.Queue.Heartbeat(),
			PollInterval: cfg.Queue.PollInterval(),
			Owner:        owner,
		}
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		queue:     q,
		records:   store,
		converter: converter,
		pools: []*queue.Pool{
			queue.NewPool(q, queue.TypeConversion, converter, poolOpts(cfg.Workers.ConversionConcurrency), logger),
			queue.NewPool(q, queue.TypeScheduledTrigger, scheduler, poolOpts(cfg.Workers.SchedulerConcurrency), logger),
			queue.NewPool(q, queue.TypeNotification, mailer, poolOpts(cfg.Workers.NotificationConcurrency), logger),
		},
		recurring: queue.NewRecurringRunner(q, cfg.Queue.RecurringInterval(), logger),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}

	server, err := api.New(api.Deps{
		Config:    cfg,
		Records:   store,
		Queue:     q,
		Objects:   objects,
		Submitter: submitter,
		Schedules: schedules,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create api: %w", err)
	}
	d.api = server
	return d, nil
}

// Run acquires the lock and blocks until ctx is cancelled or a component
// fails. In-flight handlers are drained before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another convertd daemon instance is already running")
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("convertd daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("conversion_workers", d.cfg.Workers.ConversionConcurrency),
		logging.Int("scheduler_workers", d.cfg.Workers.SchedulerConcurrency),
		logging.Int("notification_workers", d.cfg.Workers.NotificationConcurrency),
		logging.String(logging.FieldEventType, "daemon_started"),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, pool := range d.pools {
		group.Go(func() error { return pool.Run(groupCtx) })
	}
	group.Go(func() error { return d.recurring.Run(groupCtx) })
	group.Go(func() error { return d.reclaimLoop(groupCtx) })
	group.Go(func() error { return d.api.Start(groupCtx) })

	err = group.Wait()
	d.logger.Info("convertd daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// Running reports whether Run holds the lock.
func (d *Daemon) Running() bool { return d.running.Load() }

// APIAddr reports the bound API address once listening.
func (d *Daemon) APIAddr() string { return d.api.Addr() }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
	if stats, err := api.NewQueueService(d.queue).Stats(ctx); err == nil {
		status.Queue = stats
	}
	return status
}

// reclaimLoop returns expired leases to the queue on a fixed interval and
// fails conversions whose jobs died without a recorded outcome.
func (d *Daemon) reclaimLoop(ctx context.Context) error {
	interval := d.cfg.Queue.ReclaimInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := d.queue.ReclaimExpired(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.WarnWithContext(d.logger, "lease reclaim failed", "lease_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue backend connectivity"),
			)
			continue
		}
		if n > 0 {
			d.logger.Info("expired leases reclaimed",
				logging.Int("count", n),
				logging.String(logging.FieldEventType, "lease_reclaimed"),
			)
		}
		d.settleAbandoned(ctx)
	}
}

func (d *Daemon) settleAbandoned(ctx context.Context) {
	settled, err := d.converter.SettleAbandoned(ctx, d.queue)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "abandoned conversion sweep failed", "conversion_settle_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check record store connectivity"),
		)
		return
	}
	if settled > 0 {
		d.logger.Info("abandoned conversions failed",
			logging.Int("count", settled),
			logging.String(logging.FieldEventType, "conversion_settled"),
		)
	}
}

func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "convertd"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}
