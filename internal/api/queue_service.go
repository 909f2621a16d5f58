package api

import (
	"context"

	"convertd/internal/queue"
)

// QueueReader abstracts the queue operations needed for API queries.
type QueueReader interface {
	Stats(ctx context.Context) (map[queue.Type]map[queue.Status]int, error)
	ListDead(ctx context.Context, jobType queue.Type, limit int) ([]*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// Stats returns counts for every job type and status, zero-filled.
func (s *QueueService) Stats(ctx context.Context) (QueueStats, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	raw, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := QueueStats{}
	for _, jobType := range []queue.Type{queue.TypeConversion, queue.TypeScheduledTrigger, queue.TypeNotification} {
		counts := make(map[string]int, len(queue.AllStatuses()))
		for _, status := range queue.AllStatuses() {
			counts[string(status)] = raw[jobType][status]
		}
		out[string(jobType)] = counts
	}
	return out, nil
}

// Dead lists dead jobs, optionally of one type.
func (s *QueueService) Dead(ctx context.Context, jobType queue.Type, limit int) ([]QueueJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.ListDead(ctx, jobType, limit)
	if err != nil {
		return nil, err
	}
	out := make([]QueueJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromQueueJob(job))
	}
	return out, nil
}

// Describe fetches a single job.
func (s *QueueService) Describe(ctx context.Context, id string) (*QueueJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromQueueJob(job)
	return &dto, nil
}
