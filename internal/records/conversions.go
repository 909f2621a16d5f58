package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const conversionColumns = `id, account_id, file_id, source_format, target_format, output_key, options,
	status, notify_address, job_id, lease_token, attempt, progress, error_message, last_attempt_error,
	output_size, created_at, started_at, completed_at`

// CreateConversion inserts a PENDING record.
func (s *Store) CreateConversion(ctx context.Context, conv *Conversion) error {
	if conv == nil {
		return errors.New("conversion is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.clock()
	}
	conv.Status = StatusPending
	options, err := json.Marshal(conv.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO conversions (
		id, account_id, file_id, source_format, target_format, output_key, options, status,
		notify_address, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.AccountID, conv.FileID, conv.SourceFormat, conv.TargetFormat, conv.OutputKey,
		string(options), string(conv.Status), nullableString(conv.NotifyAddress), toMillis(conv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

// AttachJob records the queue job carrying a conversion.
func (s *Store) AttachJob(ctx context.Context, id, jobID string) error {
	_, err := s.exec(ctx, `UPDATE conversions SET job_id = ? WHERE id = ? AND job_id IS NULL`, jobID, id)
	if err != nil {
		return fmt.Errorf("attach job: %w", err)
	}
	return nil
}

// GetConversion loads a conversion by id.
func (s *Store) GetConversion(ctx context.Context, id string) (*Conversion, error) {
	return s.getConversion(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE id = ?`, id)
}

// GetConversionForAccount loads a conversion owned by accountID.
func (s *Store) GetConversionForAccount(ctx context.Context, accountID, id string) (*Conversion, error) {
	return s.getConversion(ctx, `SELECT `+conversionColumns+` FROM conversions WHERE id = ? AND account_id = ?`, id, accountID)
}

func (s *Store) getConversion(ctx context.Context, query string, args ...any) (*Conversion, error) {
	conv, err := scanConversion(s.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion: %w", err)
	}
	return conv, nil
}

// ListConversions returns conversions newest first.
func (s *Store) ListConversions(ctx context.Context, filter ConversionFilter) ([]*Conversion, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + conversionColumns + ` FROM conversions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()
	var out []*Conversion
	for rows.Next() {
		conv, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// MarkProcessing claims a conversion for a queue delivery. PENDING and
// PROCESSING records are (re)claimed; the returned bool is false when the
// record is already terminal, in which case current holds its state.
func (s *Store) MarkProcessing(ctx context.Context, id string, lease Lease) (bool, *Conversion, error) {
	now := s.clock()
	res, err := s.exec(ctx, `UPDATE conversions
		SET status = 'PROCESSING', started_at = ?, job_id = ?, lease_token = ?, attempt = ?
		WHERE id = ? AND status IN ('PENDING', 'PROCESSING')`,
		toMillis(now), lease.JobID, lease.Token, lease.Attempt, id,
	)
	if err != nil {
		return false, nil, fmt.Errorf("mark processing: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, nil, err
	}
	current, err := s.GetConversion(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return ok, current, nil
}

// MarkComplete finishes a conversion owned by token.
func (s *Store) MarkComplete(ctx context.Context, id, token string, outputSize int64) (bool, error) {
	now := s.clock()
	res, err := s.exec(ctx, `UPDATE conversions
		SET status = 'COMPLETE', output_size = ?, completed_at = ?, error_message = NULL
		WHERE id = ? AND status = 'PROCESSING' AND lease_token = ?`,
		outputSize, toMillis(now), id, token,
	)
	if err != nil {
		return false, fmt.Errorf("mark complete: %w", err)
	}
	return affected(res)
}

// MarkFailed records the terminal error of a conversion owned by token.
func (s *Store) MarkFailed(ctx context.Context, id, token, message string) (bool, error) {
	now := s.clock()
	if strings.TrimSpace(message) == "" {
		message = "conversion failed"
	}
	res, err := s.exec(ctx, `UPDATE conversions
		SET status = 'FAILED', error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'PROCESSING' AND lease_token = ?`,
		message, toMillis(now), id, token,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return affected(res)
}

// FailAbandoned settles a conversion whose queue job died without the worker
// writing an outcome. Only PENDING or PROCESSING records bound to jobID move.
func (s *Store) FailAbandoned(ctx context.Context, jobID, message string) (bool, error) {
	if strings.TrimSpace(jobID) == "" {
		return false, nil
	}
	if strings.TrimSpace(message) == "" {
		message = "conversion abandoned"
	}
	now := s.clock()
	res, err := s.exec(ctx, `UPDATE conversions
		SET status = 'FAILED', error_message = ?, completed_at = ?
		WHERE job_id = ? AND status IN ('PENDING', 'PROCESSING')`,
		message, toMillis(now), jobID,
	)
	if err != nil {
		return false, fmt.Errorf("fail abandoned: %w", err)
	}
	return affected(res)
}

// RecordAttemptError stores the advisory error of a non-final attempt.
func (s *Store) RecordAttemptError(ctx context.Context, id, token, message string) error {
	_, err := s.exec(ctx, `UPDATE conversions SET last_attempt_error = ?
		WHERE id = ? AND status = 'PROCESSING' AND lease_token = ?`, message, id, token)
	if err != nil {
		return fmt.Errorf("record attempt error: %w", err)
	}
	return nil
}

// SetProgress updates the progress checkpoint of a conversion owned by token.
func (s *Store) SetProgress(ctx context.Context, id, token string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.exec(ctx, `UPDATE conversions SET progress = ?
		WHERE id = ? AND lease_token = ? AND status IN ('PROCESSING', 'COMPLETE', 'FAILED')`, progress, id, token)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// CancelConversion moves a PENDING conversion to CANCELLED.
func (s *Store) CancelConversion(ctx context.Context, accountID, id string) (bool, error) {
	now := s.clock()
	res, err := s.exec(ctx, `UPDATE conversions SET status = 'CANCELLED', completed_at = ?
		WHERE id = ? AND account_id = ? AND status = 'PENDING'`, toMillis(now), id, accountID)
	if err != nil {
		return false, fmt.Errorf("cancel conversion: %w", err)
	}
	ok, err := affected(res)
	if err != nil || ok {
		return ok, err
	}
	if _, err := s.GetConversionForAccount(ctx, accountID, id); err != nil {
		return false, err
	}
	return false, nil
}

// Stats summarises conversions created since the given time. StorageUsed is
// the all-time footprint of the account's sources and outputs.
func (s *Store) Stats(ctx context.Context, accountID string, since time.Time) (ConversionStats, error) {
	var stats ConversionStats
	var succeeded, failed sql.NullInt64
	err := s.queryRow(ctx, `SELECT COUNT(1),
			SUM(CASE WHEN status = 'COMPLETE' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END)
		FROM conversions WHERE account_id = ? AND created_at >= ?`,
		accountID, toMillis(since),
	).Scan(&stats.Total, &succeeded, &failed)
	if err != nil {
		return stats, fmt.Errorf("conversion stats: %w", err)
	}
	stats.Succeeded = int(succeeded.Int64)
	stats.Failed = int(failed.Int64)

	var sources, outputs sql.NullInt64
	if err := s.queryRow(ctx, `SELECT SUM(size) FROM source_files WHERE account_id = ?`, accountID).Scan(&sources); err != nil {
		return stats, fmt.Errorf("source storage: %w", err)
	}
	if err := s.queryRow(ctx, `SELECT SUM(output_size) FROM conversions WHERE account_id = ? AND status = 'COMPLETE'`, accountID).Scan(&outputs); err != nil {
		return stats, fmt.Errorf("output storage: %w", err)
	}
	stats.StorageUsed = sources.Int64 + outputs.Int64
	return stats, nil
}

func scanConversion(scanner rowScanner) (*Conversion, error) {
	var (
		conv             Conversion
		options          string
		status           string
		notifyAddress    sql.NullString
		jobID            sql.NullString
		leaseToken       sql.NullString
		errorMessage     sql.NullString
		lastAttemptError sql.NullString
		outputSize       sql.NullInt64
		createdAt        int64
		startedAt        sql.NullInt64
		completedAt      sql.NullInt64
	)
	if err := scanner.Scan(
		&conv.ID,
		&conv.AccountID,
		&conv.FileID,
		&conv.SourceFormat,
		&conv.TargetFormat,
		&conv.OutputKey,
		&options,
		&status,
		&notifyAddress,
		&jobID,
		&leaseToken,
		&conv.Attempt,
		&conv.Progress,
		&errorMessage,
		&lastAttemptError,
		&outputSize,
		&createdAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	if options != "" {
		if err := json.Unmarshal([]byte(options), &conv.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	conv.Status = ConversionStatus(status)
	conv.NotifyAddress = notifyAddress.String
	conv.JobID = jobID.String
	conv.LeaseToken = leaseToken.String
	conv.ErrorMessage = errorMessage.String
	conv.LastAttemptError = lastAttemptError.String
	if outputSize.Valid {
		size := outputSize.Int64
		conv.OutputSize = &size
	}
	conv.CreatedAt = fromMillis(createdAt)
	conv.StartedAt = nullableTime(startedAt)
	conv.CompletedAt = nullableTime(completedAt)
	return &conv, nil
}
