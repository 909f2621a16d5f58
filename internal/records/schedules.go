package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const scheduledJobColumns = `id, account_id, file_id, name, target_format, options, cron, trigger_id,
	notify_address, active, last_run_at, created_at`

// CreateScheduledJob inserts an active schedule.
func (s *Store) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job == nil {
		return errors.New("scheduled job is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock()
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO scheduled_jobs (`+scheduledJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		job.ID, job.AccountID, job.FileID, job.Name, job.TargetFormat, string(options), job.Cron,
		job.TriggerID, nullableString(job.NotifyAddress), boolInt(job.Active), toMillis(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert scheduled job: %w", err)
	}
	return nil
}

// GetScheduledJob loads a schedule by id.
func (s *Store) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job, err := scanScheduledJob(s.queryRow(ctx, `SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return job, nil
}

// ListScheduledJobs returns schedules oldest first. An empty accountID lists
// every account.
func (s *Store) ListScheduledJobs(ctx context.Context, accountID string) ([]*ScheduledJob, error) {
	rows, err := s.query(ctx, `SELECT `+scheduledJobColumns+` FROM scheduled_jobs
		WHERE (? = '' OR account_id = ?) ORDER BY created_at, id`, accountID, accountID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetScheduledJobActive toggles a schedule.
func (s *Store) SetScheduledJobActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, `UPDATE scheduled_jobs SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set scheduled job active: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DeleteScheduledJob removes a schedule owned by accountID.
func (s *Store) DeleteScheduledJob(ctx context.Context, accountID, id string) error {
	res, err := s.exec(ctx, `DELETE FROM scheduled_jobs WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return fmt.Errorf("delete scheduled job: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// TouchLastRun records when a schedule last produced a conversion.
func (s *Store) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE scheduled_jobs SET last_run_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("touch last run: %w", err)
	}
	return nil
}

func scanScheduledJob(scanner rowScanner) (*ScheduledJob, error) {
	var (
		job           ScheduledJob
		options       string
		notifyAddress sql.NullString
		active        int
		lastRunAt     sql.NullInt64
		createdAt     int64
	)
	if err := scanner.Scan(
		&job.ID,
		&job.AccountID,
		&job.FileID,
		&job.Name,
		&job.TargetFormat,
		&options,
		&job.Cron,
		&job.TriggerID,
		&notifyAddress,
		&active,
		&lastRunAt,
		&createdAt,
	); err != nil {
		return nil, err
	}
	if options != "" {
		if err := json.Unmarshal([]byte(options), &job.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	job.NotifyAddress = notifyAddress.String
	job.Active = active != 0
	job.LastRunAt = nullableTime(lastRunAt)
	job.CreatedAt = fromMillis(createdAt)
	return &job, nil
}
