package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

const jobColumns = `id, type, payload, priority, status, attempts_made, max_attempts,
	backoff_kind, backoff_base_ms, group_key, trigger_id, run_at, lease_owner, lease_token,
	lease_expires_at, last_error, created_at, updated_at, finished_at`

const triggerColumns = `id, cron, job_type, payload, priority, max_attempts, next_run_at,
	last_fired_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job            Job
		jobType        string
		status         string
		payload        string
		backoffKind    string
		backoffBaseMS  int64
		groupKey       sql.NullString
		triggerID      sql.NullString
		runAt          int64
		leaseOwner     sql.NullString
		leaseToken     sql.NullString
		leaseExpiresAt sql.NullInt64
		lastError      sql.NullString
		createdAt      int64
		updatedAt      int64
		finishedAt     sql.NullInt64
	)
	if err := scanner.Scan(
		&job.ID,
		&jobType,
		&payload,
		&job.Priority,
		&status,
		&job.AttemptsMade,
		&job.MaxAttempts,
		&backoffKind,
		&backoffBaseMS,
		&groupKey,
		&triggerID,
		&runAt,
		&leaseOwner,
		&leaseToken,
		&leaseExpiresAt,
		&lastError,
		&createdAt,
		&updatedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.Type = Type(jobType)
	job.Status = Status(status)
	job.Payload = json.RawMessage(payload)
	job.Backoff = Backoff{Kind: backoffKind, Base: time.Duration(backoffBaseMS) * time.Millisecond}
	job.GroupKey = groupKey.String
	job.TriggerID = triggerID.String
	job.RunAt = fromMillis(runAt)
	job.LeaseOwner = leaseOwner.String
	job.LeaseToken = leaseToken.String
	job.LeaseExpiresAt = nullableTime(leaseExpiresAt)
	job.LastError = lastError.String
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	job.FinishedAt = nullableTime(finishedAt)
	return &job, nil
}

func scanTrigger(scanner rowScanner) (Trigger, error) {
	var (
		trigger     Trigger
		jobType     string
		payload     string
		nextRunAt   int64
		lastFiredAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	if err := scanner.Scan(
		&trigger.ID,
		&trigger.Cron,
		&jobType,
		&payload,
		&trigger.Priority,
		&trigger.MaxAttempts,
		&nextRunAt,
		&lastFiredAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Trigger{}, err
	}
	trigger.JobType = Type(jobType)
	trigger.Payload = json.RawMessage(payload)
	trigger.NextRunAt = fromMillis(nextRunAt)
	trigger.LastFiredAt = nullableTime(lastFiredAt)
	trigger.CreatedAt = fromMillis(createdAt)
	trigger.UpdatedAt = fromMillis(updatedAt)
	return trigger, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
