package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps jobs in hashes indexed by sorted sets. Every state change
// that must be atomic runs as a Lua script.
//
// Keys, all under the configured prefix:
//
//	job:<id>           job hash
//	waiting:<type>     zset by run_at (delayed and newly enqueued)
//	ready:<type>       zset by priority then run_at
//	leased:<type>      zset by lease expiry
//	completed:<type>   zset by finish time
//	failed:<type>      zset by finish time (dead set)
//	groups             hash group key -> active job id
//	trigger:<id>       trigger hash
//	triggers           zset of trigger ids by next fire time
type RedisStore struct {
	client   *redis.Client
	prefix   string
	settings settings
	owned    bool
}

var _ Queue = (*RedisStore)(nil)

var knownTypes = []Type{TypeConversion, TypeScheduledTrigger, TypeNotification}

// OpenRedis connects to the server at url (redis://host:port/db).
func OpenRedis(url, prefix string, opts ...Option) (*RedisStore, error) {
	options, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store := NewRedisStore(client, prefix, opts...)
	store.owned = true
	return store, nil
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "convertd"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	store := &RedisStore{client: client, prefix: prefix, settings: defaultSettings()}
	for _, opt := range opts {
		opt(&store.settings)
	}
	return store
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *RedisStore) jobKey(id string) string { return s.key("job", id) }

func (s *RedisStore) typeKey(kind string, jobType Type) string { return s.key(kind, string(jobType)) }

func ms(t time.Time) string { return strconv.FormatInt(toMillis(t), 10) }

// Enqueue stores the job hash and indexes it as waiting.
func (s *RedisStore) Enqueue(ctx context.Context, jobType Type, payload any, opts EnqueueOptions) (string, error) {
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
	runAt := job.now.Add(job.opts.Delay)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobKey(job.id), redisJobFields(job)...)
		pipe.ZAdd(ctx, s.typeKey("waiting", jobType), redis.Z{Score: float64(toMillis(runAt)), Member: job.id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	return job.id, nil
}

func redisJobFields(job newJob) []any {
	fields := []any{
		"id", job.id,
		"type", string(job.jobType),
		"payload", string(job.payload),
		"priority", job.opts.Priority,
		"status", string(StatusWaiting),
		"attempts_made", 0,
		"max_attempts", job.opts.MaxAttempts,
		"backoff_kind", job.opts.Backoff.Kind,
		"backoff_base_ms", job.opts.Backoff.Base.Milliseconds(),
		"run_at", ms(job.now.Add(job.opts.Delay)),
		"created_at", ms(job.now),
		"updated_at", ms(job.now),
	}
	if job.opts.GroupKey != "" {
		fields = append(fields, "group_key", job.opts.GroupKey)
	}
	if job.triggerID != "" {
		fields = append(fields, "trigger_id", job.triggerID)
	}
	return fields
}

// Lease promotes due waiting jobs and claims the first eligible ready one.
func (s *RedisStore) Lease(ctx context.Context, jobType Type, owner string, leaseFor time.Duration) (*Job, error) {
	if leaseFor <= 0 {
		return nil, errors.New("lease duration must be positive")
	}
	now := s.settings.clock()
	res, err := leaseScript.Run(ctx, s.client,
		[]string{
			s.typeKey("waiting", jobType),
			s.typeKey("ready", jobType),
			s.typeKey("leased", jobType),
			s.key("groups"),
		},
		ms(now), ms(now.Add(leaseFor)), owner, uuid.NewString(), s.prefix,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease %s job: %w", jobType, err)
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// Extend moves the lease expiry forward.
func (s *RedisStore) Extend(ctx context.Context, job *Job, leaseFor time.Duration) error {
	if job == nil {
		return errors.New("job is required")
	}
	now := s.settings.clock()
	expires := now.Add(leaseFor)
	n, err := extendScript.Run(ctx, s.client,
		[]string{s.jobKey(job.ID), s.typeKey("leased", job.Type)},
		job.LeaseToken, ms(expires), ms(now), job.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if n == 0 {
		return s.missing(ctx, job.ID)
	}
	job.LeaseExpiresAt = &expires
	return nil
}

// Complete acknowledges a held job.
func (s *RedisStore) Complete(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	now := s.settings.clock()
	n, err := completeScript.Run(ctx, s.client,
		[]string{
			s.jobKey(job.ID),
			s.typeKey("leased", job.Type),
			s.key("groups"),
			s.typeKey("completed", job.Type),
		},
		job.LeaseToken, ms(now), job.ID, s.settings.completedRetention, s.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n == 0 {
		return s.missing(ctx, job.ID)
	}
	job.Status = StatusCompleted
	job.FinishedAt = &now
	return nil
}

// Fail requeues with backoff or moves the job to the dead set.
func (s *RedisStore) Fail(ctx context.Context, job *Job, cause error) (Outcome, error) {
	if job == nil {
		return Outcome{}, errors.New("job is required")
	}
	now := s.settings.clock()
	dead := IsPermanent(cause) || job.FinalAttempt()
	next := now.Add(job.Backoff.Delay(job.AttemptsMade))
	deadFlag := "0"
	if dead {
		deadFlag = "1"
	}
	message := errorText(cause)
	n, err := failScript.Run(ctx, s.client,
		[]string{
			s.jobKey(job.ID),
			s.typeKey("leased", job.Type),
			s.key("groups"),
			s.typeKey("failed", job.Type),
			s.typeKey("waiting", job.Type),
		},
		job.LeaseToken, ms(now), job.ID, deadFlag, ms(next), message, s.settings.failedRetention, s.prefix,
	).Int()
	if err != nil {
		return Outcome{}, fmt.Errorf("fail job: %w", err)
	}
	if n == 0 {
		return Outcome{}, s.missing(ctx, job.ID)
	}
	job.LastError = message
	if dead {
		job.Status = StatusFailed
		job.FinishedAt = &now
		return Outcome{Dead: true}, nil
	}
	job.Status = StatusWaiting
	job.RunAt = next
	return Outcome{NextRunAt: next}, nil
}

// ReclaimExpired releases expired leases for every job type.
func (s *RedisStore) ReclaimExpired(ctx context.Context) (int, error) {
	now := s.settings.clock()
	total := 0
	for _, jobType := range knownTypes {
		n, err := reclaimScript.Run(ctx, s.client,
			[]string{
				s.typeKey("leased", jobType),
				s.key("groups"),
				s.typeKey("waiting", jobType),
				s.typeKey("failed", jobType),
			},
			ms(now), s.settings.failedRetention, s.prefix,
		).Int()
		if err != nil {
			return total, fmt.Errorf("reclaim %s leases: %w", jobType, err)
		}
		total += n
	}
	return total, nil
}

// Get loads a job hash.
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	values, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrJobNotFound
	}
	return parseJobHash(values), nil
}

// Stats counts index members per type and status.
func (s *RedisStore) Stats(ctx context.Context) (map[Type]map[Status]int, error) {
	stats := make(map[Type]map[Status]int)
	for _, jobType := range knownTypes {
		pipe := s.client.Pipeline()
		waiting := pipe.ZCard(ctx, s.typeKey("waiting", jobType))
		ready := pipe.ZCard(ctx, s.typeKey("ready", jobType))
		active := pipe.ZCard(ctx, s.typeKey("leased", jobType))
		completed := pipe.ZCard(ctx, s.typeKey("completed", jobType))
		failed := pipe.ZCard(ctx, s.typeKey("failed", jobType))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("queue stats: %w", err)
		}
		counts := map[Status]int{
			StatusWaiting:   int(waiting.Val() + ready.Val()),
			StatusActive:    int(active.Val()),
			StatusCompleted: int(completed.Val()),
			StatusFailed:    int(failed.Val()),
		}
		for status, count := range counts {
			if count == 0 {
				delete(counts, status)
			}
		}
		if len(counts) > 0 {
			stats[jobType] = counts
		}
	}
	return stats, nil
}

// ListDead returns dead jobs newest first.
func (s *RedisStore) ListDead(ctx context.Context, jobType Type, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	types := knownTypes
	if jobType != "" {
		types = []Type{jobType}
	}
	var jobs []*Job
	for _, t := range types {
		ids, err := s.client.ZRevRange(ctx, s.typeKey("failed", t), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("list dead jobs: %w", err)
		}
		for _, id := range ids {
			job, err := s.Get(ctx, id)
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return finishedMillis(jobs[i]) > finishedMillis(jobs[j])
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func finishedMillis(job *Job) int64 {
	if job.FinishedAt == nil {
		return 0
	}
	return toMillis(*job.FinishedAt)
}

// RetryDead moves dead jobs back to waiting with a fresh attempt budget.
func (s *RedisStore) RetryDead(ctx context.Context, ids ...string) (int, error) {
	now := s.settings.clock()
	total := 0
	for _, id := range ids {
		jobType, err := s.client.HGet(ctx, s.jobKey(id), "type").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("retry dead job %s: %w", id, err)
		}
		n, err := retryDeadScript.Run(ctx, s.client,
			[]string{s.jobKey(id), s.typeKey("failed", Type(jobType)), s.typeKey("waiting", Type(jobType))},
			id, ms(now),
		).Int()
		if err != nil {
			return total, fmt.Errorf("retry dead job %s: %w", id, err)
		}
		total += n
	}
	return total, nil
}

// RegisterRecurring upserts a trigger hash and its index entry.
func (s *RedisStore) RegisterRecurring(ctx context.Context, trigger Trigger) error {
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
	err = registerTriggerScript.Run(ctx, s.client,
		[]string{s.key("trigger", trigger.ID), s.key("triggers")},
		trigger.ID, trigger.Cron, string(trigger.JobType), string(payload), priority,
		trigger.MaxAttempts, ms(next), ms(now),
	).Err()
	if err != nil {
		return fmt.Errorf("register trigger %s: %w", trigger.ID, err)
	}
	return nil
}

// RemoveRecurring deletes a trigger.
func (s *RedisStore) RemoveRecurring(ctx context.Context, id string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.key("triggers"), id)
		pipe.Del(ctx, s.key("trigger", id))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove trigger %s: %w", id, err)
	}
	return removed.Val() > 0, nil
}

// ListRecurring returns triggers ordered by next fire time.
func (s *RedisStore) ListRecurring(ctx context.Context) ([]Trigger, error) {
	ids, err := s.client.ZRange(ctx, s.key("triggers"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return s.loadTriggers(ctx, ids)
}

func (s *RedisStore) loadTriggers(ctx context.Context, ids []string) ([]Trigger, error) {
	triggers := make([]Trigger, 0, len(ids))
	for _, id := range ids {
		values, err := s.client.HGetAll(ctx, s.key("trigger", id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load trigger %s: %w", id, err)
		}
		if len(values) == 0 {
			continue
		}
		triggers = append(triggers, parseTriggerHash(values))
	}
	return triggers, nil
}

// FireDue enqueues one job per due trigger.
func (s *RedisStore) FireDue(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	ids, err := s.client.ZRangeByScore(ctx, s.key("triggers"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(toMillis(now), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("select due triggers: %w", err)
	}
	due, err := s.loadTriggers(ctx, ids)
	if err != nil {
		return nil, err
	}

	var fired []string
	for _, trigger := range due {
		next, err := NextFire(trigger.Cron, now)
		if err != nil {
			return fired, fmt.Errorf("trigger %s: %w", trigger.ID, err)
		}
		job := newJob{
			id:        uuid.NewString(),
			jobType:   trigger.JobType,
			payload:   trigger.Payload,
			opts:      triggerEnqueueOptions(s.settings, trigger),
			triggerID: trigger.ID,
			now:       now,
		}
		args := []any{trigger.ID, ms(trigger.NextRunAt), ms(next), ms(now), job.id}
		args = append(args, redisJobFields(job)...)
		n, err := fireTriggerScript.Run(ctx, s.client,
			[]string{
				s.key("trigger", trigger.ID),
				s.key("triggers"),
				s.jobKey(job.id),
				s.typeKey("waiting", trigger.JobType),
			},
			args...,
		).Int()
		if err != nil {
			return fired, fmt.Errorf("fire trigger %s: %w", trigger.ID, err)
		}
		if n == 1 {
			fired = append(fired, job.id)
		}
	}
	return fired, nil
}

// Close releases the client when the store opened it.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) missing(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.jobKey(id)).Result()
	if err == nil && exists == 0 {
		return ErrJobNotFound
	}
	return ErrLeaseLost
}

func parseJobHash(values map[string]string) *Job {
	job := &Job{
		ID:           values["id"],
		Type:         Type(values["type"]),
		Payload:      []byte(values["payload"]),
		Priority:     atoi(values["priority"]),
		Status:       Status(values["status"]),
		AttemptsMade: atoi(values["attempts_made"]),
		MaxAttempts:  atoi(values["max_attempts"]),
		Backoff: Backoff{
			Kind: values["backoff_kind"],
			Base: time.Duration(atoi64(values["backoff_base_ms"])) * time.Millisecond,
		},
		GroupKey:   values["group_key"],
		TriggerID:  values["trigger_id"],
		RunAt:      fromMillis(atoi64(values["run_at"])),
		LeaseOwner: values["lease_owner"],
		LeaseToken: values["lease_token"],
		LastError:  values["last_error"],
		CreatedAt:  fromMillis(atoi64(values["created_at"])),
		UpdatedAt:  fromMillis(atoi64(values["updated_at"])),
	}
	job.LeaseExpiresAt = optionalMillis(values["lease_expires_at"])
	job.FinishedAt = optionalMillis(values["finished_at"])
	return job
}

func parseTriggerHash(values map[string]string) Trigger {
	return Trigger{
		ID:          values["id"],
		Cron:        values["cron"],
		JobType:     Type(values["job_type"]),
		Payload:     []byte(values["payload"]),
		Priority:    atoi(values["priority"]),
		MaxAttempts: atoi(values["max_attempts"]),
		NextRunAt:   fromMillis(atoi64(values["next_run_at"])),
		LastFiredAt: optionalMillis(values["last_fired_at"]),
		CreatedAt:   fromMillis(atoi64(values["created_at"])),
		UpdatedAt:   fromMillis(atoi64(values["updated_at"])),
	}
}

func optionalMillis(value string) *time.Time {
	if value == "" {
		return nil
	}
	t := fromMillis(atoi64(value))
	return &t
}

func atoi(value string) int {
	n, _ := strconv.Atoi(value)
	return n
}

func atoi64(value string) int64 {
	n, _ := strconv.ParseInt(value, 10, 64)
	return n
}
