package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type newJob struct {
	id        string
	jobType   Type
	payload   []byte
	opts      EnqueueOptions
	triggerID string
	now       time.Time
}

func insertJob(ctx context.Context, db execer, job newJob) error {
	_, err := db.ExecContext(ctx, `INSERT INTO jobs (
		id, type, payload, priority, status, attempts_made, max_attempts,
		backoff_kind, backoff_base_ms, group_key, trigger_id, run_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, 'waiting', 0, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.id,
		string(job.jobType),
		string(job.payload),
		job.opts.Priority,
		job.opts.MaxAttempts,
		job.opts.Backoff.Kind,
		job.opts.Backoff.Base.Milliseconds(),
		nullableString(job.opts.GroupKey),
		nullableString(job.triggerID),
		toMillis(job.now.Add(job.opts.Delay)),
		toMillis(job.now),
		toMillis(job.now),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Enqueue persists a waiting job.
func (s *SQLStore) Enqueue(ctx context.Context, jobType Type, payload any, opts EnqueueOptions) (string, error) {
	if strings.TrimSpace(string(jobType)) == "" {
		return "", errors.New("job type is required")
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	job := newJob{
		id:      uuid.NewString(),
		jobType: jobType,
		payload: data,
		opts:    s.settings.resolve(opts),
		now:     s.settings.clock(),
	}
	ctx = ensureContext(ctx)
	if err := retryOnBusy(ctx, func() error { return insertJob(ctx, s.db, job) }); err != nil {
		return "", err
	}
	return job.id, nil
}

// Lease claims the highest priority ready job of jobType. Jobs whose group
// already has an active member are skipped.
func (s *SQLStore) Lease(ctx context.Context, jobType Type, owner string, leaseFor time.Duration) (*Job, error) {
	if leaseFor <= 0 {
		return nil, errors.New("lease duration must be positive")
	}
	ctx = ensureContext(ctx)
	now := s.settings.clock()
	token := uuid.NewString()
	query := `UPDATE jobs
		SET status = 'active',
			attempts_made = attempts_made + 1,
			lease_owner = ?,
			lease_token = ?,
			lease_expires_at = ?,
			updated_at = ?
		WHERE status = 'waiting' AND id = (
			SELECT j.id FROM jobs j
			WHERE j.type = ? AND j.status = 'waiting' AND j.run_at <= ?
				AND (j.group_key IS NULL OR NOT EXISTS (
					SELECT 1 FROM jobs a WHERE a.group_key = j.group_key AND a.status = 'active'
				))
			ORDER BY j.priority ASC, j.run_at ASC, j.created_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns

	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query,
			owner, token, toMillis(now.Add(leaseFor)), toMillis(now),
			string(jobType), toMillis(now),
		)
		leased, scanErr := scanJob(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		job = leased
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease %s job: %w", jobType, err)
	}
	return job, nil
}

// Extend moves the lease expiry forward while the holder keeps working.
func (s *SQLStore) Extend(ctx context.Context, job *Job, leaseFor time.Duration) error {
	if job == nil {
		return errors.New("job is required")
	}
	now := s.settings.clock()
	expires := now.Add(leaseFor)
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND lease_token = ? AND status = 'active'`,
		toMillis(expires), toMillis(now), job.ID, job.LeaseToken,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if err := s.expectOne(ctx, res, job.ID); err != nil {
		return err
	}
	job.LeaseExpiresAt = &expires
	return nil
}

// Complete acknowledges the job and prunes old completed entries.
func (s *SQLStore) Complete(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	now := s.settings.clock()
	res, err := s.execWithRetry(ctx, `UPDATE jobs
		SET status = 'completed', lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
			finished_at = ?, updated_at = ?
		WHERE id = ? AND lease_token = ? AND status = 'active'`,
		toMillis(now), toMillis(now), job.ID, job.LeaseToken,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if err := s.expectOne(ctx, res, job.ID); err != nil {
		return err
	}
	job.Status = StatusCompleted
	job.FinishedAt = &now
	return s.prune(ctx, job.Type, StatusCompleted, s.settings.completedRetention)
}

// Fail records a failed attempt. Permanent errors and exhausted budgets move
// the job to the dead set; anything else waits out its backoff.
func (s *SQLStore) Fail(ctx context.Context, job *Job, cause error) (Outcome, error) {
	if job == nil {
		return Outcome{}, errors.New("job is required")
	}
	now := s.settings.clock()
	message := errorText(cause)
	if IsPermanent(cause) || job.FinalAttempt() {
		res, err := s.execWithRetry(ctx, `UPDATE jobs
			SET status = 'failed', lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
				last_error = ?, finished_at = ?, updated_at = ?
			WHERE id = ? AND lease_token = ? AND status = 'active'`,
			message, toMillis(now), toMillis(now), job.ID, job.LeaseToken,
		)
		if err != nil {
			return Outcome{}, fmt.Errorf("fail job: %w", err)
		}
		if err := s.expectOne(ctx, res, job.ID); err != nil {
			return Outcome{}, err
		}
		job.Status = StatusFailed
		job.LastError = message
		job.FinishedAt = &now
		if err := s.prune(ctx, job.Type, StatusFailed, s.settings.failedRetention); err != nil {
			return Outcome{Dead: true}, err
		}
		return Outcome{Dead: true}, nil
	}

	next := now.Add(job.Backoff.Delay(job.AttemptsMade))
	res, err := s.execWithRetry(ctx, `UPDATE jobs
		SET status = 'waiting', lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
			last_error = ?, run_at = ?, updated_at = ?
		WHERE id = ? AND lease_token = ? AND status = 'active'`,
		message, toMillis(next), toMillis(now), job.ID, job.LeaseToken,
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("requeue job: %w", err)
	}
	if err := s.expectOne(ctx, res, job.ID); err != nil {
		return Outcome{}, err
	}
	job.Status = StatusWaiting
	job.LastError = message
	job.RunAt = next
	return Outcome{NextRunAt: next}, nil
}

// ReclaimExpired releases leases whose holders stopped heartbeating.
func (s *SQLStore) ReclaimExpired(ctx context.Context) (int, error) {
	now := toMillis(s.settings.clock())
	var reclaimed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		reclaimed = 0
		dead, err := tx.ExecContext(ctx, `UPDATE jobs
			SET status = 'failed', lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
				last_error = 'lease expired after final attempt', finished_at = ?, updated_at = ?
			WHERE status = 'active' AND lease_expires_at <= ? AND attempts_made >= max_attempts`,
			now, now, now,
		)
		if err != nil {
			return err
		}
		requeued, err := tx.ExecContext(ctx, `UPDATE jobs
			SET status = 'waiting', lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
				last_error = 'lease expired', run_at = ?, updated_at = ?
			WHERE status = 'active' AND lease_expires_at <= ?`,
			now, now, now,
		)
		if err != nil {
			return err
		}
		deadCount, _ := dead.RowsAffected()
		requeuedCount, _ := requeued.RowsAffected()
		reclaimed = deadCount + requeuedCount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	if reclaimed > 0 {
		for _, jobType := range []Type{TypeConversion, TypeScheduledTrigger, TypeNotification} {
			if err := s.prune(ctx, jobType, StatusFailed, s.settings.failedRetention); err != nil {
				return int(reclaimed), err
			}
		}
	}
	return int(reclaimed), nil
}

// Get fetches a job by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Stats returns job counts grouped by type and status.
func (s *SQLStore) Stats(ctx context.Context) (map[Type]map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT type, status, COUNT(1) FROM jobs GROUP BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Type]map[Status]int)
	for rows.Next() {
		var (
			jobType string
			status  string
			count   int
		)
		if err := rows.Scan(&jobType, &status, &count); err != nil {
			return nil, err
		}
		byStatus, ok := stats[Type(jobType)]
		if !ok {
			byStatus = make(map[Status]int)
			stats[Type(jobType)] = byStatus
		}
		byStatus[Status(status)] = count
	}
	return stats, rows.Err()
}

// ListDead returns dead jobs newest first. An empty jobType lists every type.
func (s *SQLStore) ListDead(ctx context.Context, jobType Type, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs
		WHERE status = 'failed' AND (? = '' OR type = ?)
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, string(jobType), string(jobType), limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RetryDead moves dead jobs back to waiting with a fresh attempt budget.
func (s *SQLStore) RetryDead(ctx context.Context, ids ...string) (int, error) {
	now := toMillis(s.settings.clock())
	total := 0
	for _, id := range ids {
		res, err := s.execWithRetry(ctx, `UPDATE jobs
			SET status = 'waiting', attempts_made = 0, run_at = ?, finished_at = NULL, updated_at = ?
			WHERE id = ? AND status = 'failed'`, now, now, id)
		if err != nil {
			return total, fmt.Errorf("retry dead job %s: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			total += int(affected)
		}
	}
	return total, nil
}

// expectOne turns a zero-row CAS update into ErrLeaseLost or ErrJobNotFound.
func (s *SQLStore) expectOne(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); errors.Is(err, ErrJobNotFound) {
		return ErrJobNotFound
	}
	return ErrLeaseLost
}

// prune keeps the newest keep jobs in a finished status for jobType.
func (s *SQLStore) prune(ctx context.Context, jobType Type, status Status, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.execWithRetry(ctx, `DELETE FROM jobs
		WHERE type = ? AND status = ? AND id NOT IN (
			SELECT id FROM jobs WHERE type = ? AND status = ?
			ORDER BY finished_at DESC, id DESC
			LIMIT ?
		)`, string(jobType), string(status), string(jobType), string(status), keep)
	if err != nil {
		return fmt.Errorf("prune %s %s jobs: %w", jobType, status, err)
	}
	return nil
}
