package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"convertd/internal/dispatch"
	"convertd/internal/logging"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/services"
)

// Request asks for one conversion of an uploaded file.
type Request struct {
	AccountID     string
	FileID        string
	TargetFormat  string
	Options       records.Options
	NotifyAddress string
}

// Submitter validates requests, creates PENDING records and enqueues them.
type Submitter struct {
	records     *records.Store
	queue       queue.Queue
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// NewSubmitter builds a submitter. maxAttempts <= 0 uses the queue default.
func NewSubmitter(store *records.Store, q queue.Queue, maxAttempts int) *Submitter {
	return &Submitter{records: store, queue: q, maxAttempts: maxAttempts, now: time.Now, logger: logging.NewNop()}
}

// SetLogger replaces the submitter's logger.
func (s *Submitter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logging.NewComponentLogger(logger, "submit")
	}
}

// SetClock replaces the time source used for output keys.
func (s *Submitter) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Priority maps options to a queue priority: the quality, or 50 when unset.
func Priority(opts records.Options) int {
	if opts.Quality > 0 {
		return opts.Quality
	}
	return queue.DefaultPriority
}

// ValidateOptions rejects out-of-range quality and malformed resolutions.
func ValidateOptions(opts records.Options) error {
	if opts.Quality < 0 || opts.Quality > 100 {
		return services.Wrap(services.ErrValidation, "submit", "options", "quality must be between 1 and 100", nil)
	}
	if strings.TrimSpace(opts.Resolution) != "" {
		if _, _, err := dispatch.ParseResolution(opts.Resolution); err != nil {
			return services.Wrap(services.ErrValidation, "submit", "options", "", err)
		}
	}
	return nil
}

// Submit creates a conversion and enqueues its job. The returned record
// carries the job id.
func (s *Submitter) Submit(ctx context.Context, req Request) (*records.Conversion, error) {
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.FileID) == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "request", "account and file are required", nil)
	}
	if err := ValidateOptions(req.Options); err != nil {
		return nil, err
	}

	file, err := s.records.GetSourceFile(ctx, req.AccountID, req.FileID)
	if errors.Is(err, records.ErrNotFound) {
		return nil, services.Wrap(services.ErrNotFound, "submit", "source file", req.FileID, err)
	}
	if err != nil {
		return nil, err
	}

	target := dispatch.NormalizeFormat(req.TargetFormat)
	if _, err := dispatch.Resolve(file.Format, target); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	conv := &records.Conversion{
		ID:            id,
		AccountID:     req.AccountID,
		FileID:        file.ID,
		SourceFormat:  file.Format,
		TargetFormat:  target,
		OutputKey:     OutputKey(req.AccountID, target, s.now(), uuid.NewString()),
		Options:       req.Options,
		NotifyAddress: strings.TrimSpace(req.NotifyAddress),
	}
	if err := s.records.CreateConversion(ctx, conv); err != nil {
		return nil, err
	}

	payload := Job{
		ConversionID:  conv.ID,
		AccountID:     conv.AccountID,
		FileID:        file.ID,
		FileName:      file.Name,
		SourceKey:     file.Key,
		SourceFormat:  file.Format,
		TargetFormat:  target,
		OutputKey:     conv.OutputKey,
		NotifyAddress: conv.NotifyAddress,
	}
	if req.Options != (records.Options{}) {
		opts := req.Options
		payload.Options = &opts
	}
	jobID, err := s.queue.Enqueue(ctx, queue.TypeConversion, payload, queue.EnqueueOptions{
		Priority:    Priority(req.Options),
		MaxAttempts: s.maxAttempts,
	})
	if err != nil {
		// A record with no job would sit in PENDING forever.
		_, _ = s.records.CancelConversion(context.WithoutCancel(ctx), conv.AccountID, conv.ID)
		return nil, fmt.Errorf("enqueue conversion: %w", err)
	}
	// MarkProcessing records the job id too, so a failed attach only delays it.
	if err := s.records.AttachJob(ctx, conv.ID, jobID); err != nil {
		logging.WithContext(services.WithConversionID(ctx, conv.ID), s.logger).Debug("job id not attached to conversion",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	}
	conv.JobID = jobID
	return conv, nil
}

// Cancel moves a PENDING conversion to CANCELLED. It reports false when the
// record has already been picked up or finished.
func (s *Submitter) Cancel(ctx context.Context, accountID, id string) (bool, error) {
	ok, err := s.records.CancelConversion(ctx, accountID, id)
	if errors.Is(err, records.ErrNotFound) {
		return false, services.Wrap(services.ErrNotFound, "cancel", "conversion", id, err)
	}
	return ok, err
}
