package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"convertd/internal/conversion"
	"convertd/internal/dispatch"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/services"
)

// Preset schedules accepted in place of a cron expression.
var presets = map[string]string{
	"DAILY":   "0 9 * * *",
	"WEEKLY":  "0 9 * * 1",
	"MONTHLY": "0 9 1 * *",
}

// Trigger is the payload of a scheduled-trigger job.
type Trigger struct {
	ScheduledJobID string `json:"scheduledJobId"`
	AccountID      string `json:"accountId"`
	FileID         string `json:"fileId"`
	TargetFormat   string `json:"targetFormat"`
}

// ResolveCron expands presets and validates the expression.
func ResolveCron(schedule string) (string, error) {
	schedule = strings.TrimSpace(schedule)
	if expr, ok := presets[strings.ToUpper(schedule)]; ok {
		return expr, nil
	}
	if _, err := queue.ParseCron(schedule); err != nil {
		return "", services.Wrap(services.ErrValidation, "schedule", "cron", "", err)
	}
	return schedule, nil
}

// CreateRequest describes a new schedule.
type CreateRequest struct {
	AccountID     string
	FileID        string
	Name          string
	TargetFormat  string
	Schedule      string
	Options       records.Options
	NotifyAddress string
}

// Manager keeps schedule records and queue triggers in step.
type Manager struct {
	records     *records.Store
	queue       queue.Queue
	maxAttempts int
}

// NewManager builds a manager. maxAttempts applies to fired trigger jobs;
// zero uses the queue default.
func NewManager(store *records.Store, q queue.Queue, maxAttempts int) *Manager {
	return &Manager{records: store, queue: q, maxAttempts: maxAttempts}
}

// Create validates and stores a schedule, then registers its trigger.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*records.ScheduledJob, error) {
	name := strings.TrimSpace(req.Name)
	if strings.TrimSpace(req.AccountID) == "" || strings.TrimSpace(req.FileID) == "" || name == "" {
		return nil, services.Wrap(services.ErrValidation, "schedule", "request", "account, file and name are required", nil)
	}
	expr, err := ResolveCron(req.Schedule)
	if err != nil {
		return nil, err
	}
	if err := conversion.ValidateOptions(req.Options); err != nil {
		return nil, err
	}
	file, err := m.records.GetSourceFile(ctx, req.AccountID, req.FileID)
	if errors.Is(err, records.ErrNotFound) {
		return nil, services.Wrap(services.ErrNotFound, "schedule", "source file", req.FileID, err)
	}
	if err != nil {
		return nil, err
	}
	target := dispatch.NormalizeFormat(req.TargetFormat)
	if _, err := dispatch.Resolve(file.Format, target); err != nil {
		return nil, err
	}

	job := &records.ScheduledJob{
		AccountID:     req.AccountID,
		FileID:        file.ID,
		Name:          name,
		TargetFormat:  target,
		Options:       req.Options,
		Cron:          expr,
		TriggerID:     "schedule-" + uuid.NewString(),
		NotifyAddress: strings.TrimSpace(req.NotifyAddress),
		Active:        true,
	}
	if err := m.records.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	if err := m.register(ctx, job); err != nil {
		_ = m.records.DeleteScheduledJob(context.WithoutCancel(ctx), job.AccountID, job.ID)
		return nil, err
	}
	return job, nil
}

// List returns the account's schedules. An empty accountID lists all.
func (m *Manager) List(ctx context.Context, accountID string) ([]*records.ScheduledJob, error) {
	return m.records.ListScheduledJobs(ctx, accountID)
}

// Get loads a schedule owned by accountID.
func (m *Manager) Get(ctx context.Context, accountID, id string) (*records.ScheduledJob, error) {
	job, err := m.records.GetScheduledJob(ctx, id)
	if err == nil && accountID != "" && job.AccountID != accountID {
		err = records.ErrNotFound
	}
	if errors.Is(err, records.ErrNotFound) {
		return nil, services.Wrap(services.ErrNotFound, "schedule", "get", id, err)
	}
	return job, err
}

// SetActive pauses or resumes a schedule. Resuming re-registers the trigger
// so the next fire is computed from now.
func (m *Manager) SetActive(ctx context.Context, accountID, id string, active bool) (*records.ScheduledJob, error) {
	job, err := m.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if err := m.records.SetScheduledJobActive(ctx, job.ID, active); err != nil {
		return nil, err
	}
	job.Active = active
	if active {
		err = m.register(ctx, job)
	} else {
		_, err = m.queue.RemoveRecurring(ctx, job.TriggerID)
	}
	if err != nil {
		return nil, fmt.Errorf("update trigger %s: %w", job.TriggerID, err)
	}
	return job, nil
}

// Delete deactivates a schedule, removes its trigger and deletes the record.
// Trigger jobs already queued ack without converting.
func (m *Manager) Delete(ctx context.Context, accountID, id string) error {
	job, err := m.Get(ctx, accountID, id)
	if err != nil {
		return err
	}
	if err := m.records.SetScheduledJobActive(ctx, job.ID, false); err != nil {
		return err
	}
	if _, err := m.queue.RemoveRecurring(ctx, job.TriggerID); err != nil {
		return fmt.Errorf("remove trigger %s: %w", job.TriggerID, err)
	}
	return m.records.DeleteScheduledJob(ctx, job.AccountID, job.ID)
}

func (m *Manager) register(ctx context.Context, job *records.ScheduledJob) error {
	payload, err := json.Marshal(Trigger{
		ScheduledJobID: job.ID,
		AccountID:      job.AccountID,
		FileID:         job.FileID,
		TargetFormat:   job.TargetFormat,
	})
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	return m.queue.RegisterRecurring(ctx, queue.Trigger{
		ID:          job.TriggerID,
		Cron:        job.Cron,
		JobType:     queue.TypeScheduledTrigger,
		Payload:     payload,
		Priority:    queue.DefaultPriority,
		MaxAttempts: m.maxAttempts,
	})
}
