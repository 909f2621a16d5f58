package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RegisterRecurring upserts a trigger. The pending fire time survives a
// re-registration with an unchanged cron expression.
func (s *SQLStore) RegisterRecurring(ctx context.Context, trigger Trigger) error {
	if err := validateTrigger(trigger); err != nil {
		return err
	}
	now := s.settings.clock()
	next, err := NextFire(trigger.Cron, now)
	if err != nil {
		return err
	}
	payload, err := marshalPayload(trigger.Payload)
	if err != nil {
		return err
	}
	priority := trigger.Priority
	if priority <= 0 {
		priority = DefaultPriority
	}
	_, err = s.execWithRetry(ctx, `INSERT INTO recurring_triggers (
		id, cron, job_type, payload, priority, max_attempts, next_run_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		job_type = excluded.job_type,
		payload = excluded.payload,
		priority = excluded.priority,
		max_attempts = excluded.max_attempts,
		next_run_at = CASE WHEN recurring_triggers.cron = excluded.cron
			THEN recurring_triggers.next_run_at ELSE excluded.next_run_at END,
		cron = excluded.cron,
		updated_at = excluded.updated_at`,
		trigger.ID, trigger.Cron, string(trigger.JobType), string(payload), priority,
		trigger.MaxAttempts, toMillis(next), toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("register trigger %s: %w", trigger.ID, err)
	}
	return nil
}

// RemoveRecurring deletes a trigger and reports whether it existed.
func (s *SQLStore) RemoveRecurring(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM recurring_triggers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove trigger %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListRecurring returns triggers ordered by next fire time.
func (s *SQLStore) ListRecurring(ctx context.Context) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+triggerColumns+` FROM recurring_triggers ORDER BY next_run_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, trigger)
	}
	return triggers, rows.Err()
}

// FireDue enqueues one job per due trigger. A trigger that missed several
// firings fires once and jumps to its next future slot.
func (s *SQLStore) FireDue(ctx context.Context, now time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	now = now.UTC()
	rows, err := s.db.QueryContext(ctx, `SELECT `+triggerColumns+` FROM recurring_triggers WHERE next_run_at <= ? ORDER BY next_run_at, id`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("select due triggers: %w", err)
	}
	var due []Trigger
	for rows.Next() {
		trigger, scanErr := scanTrigger(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		due = append(due, trigger)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	var fired []string
	for _, trigger := range due {
		next, err := NextFire(trigger.Cron, now)
		if err != nil {
			return fired, fmt.Errorf("trigger %s: %w", trigger.ID, err)
		}
		jobID := uuid.NewString()
		claimed := false
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			claimed = false
			res, err := tx.ExecContext(ctx, `UPDATE recurring_triggers
				SET next_run_at = ?, last_fired_at = ?, updated_at = ?
				WHERE id = ? AND next_run_at = ?`,
				toMillis(next), toMillis(now), toMillis(now), trigger.ID, toMillis(trigger.NextRunAt),
			)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				return nil
			}
			claimed = true
			return insertJob(ctx, tx, newJob{
				id:        jobID,
				jobType:   trigger.JobType,
				payload:   trigger.Payload,
				opts:      triggerEnqueueOptions(s.settings, trigger),
				triggerID: trigger.ID,
				now:       now,
			})
		})
		if err != nil {
			return fired, fmt.Errorf("fire trigger %s: %w", trigger.ID, err)
		}
		if claimed {
			fired = append(fired, jobID)
		}
	}
	return fired, nil
}
