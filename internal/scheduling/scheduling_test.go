package scheduling_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"convertd/internal/conversion"
	"convertd/internal/logging"
	"convertd/internal/notifications"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/scheduling"
	"convertd/internal/services"
	"convertd/internal/testsupport"
)

// Monday.
var start = time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)

type env struct {
	clock   *testsupport.Clock
	queue   queue.Queue
	records *records.Store
	manager *scheduling.Manager
	pool    *queue.Pool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(start)
	q := testsupport.MustOpenQueue(t, cfg, queue.WithClock(clock.Now))
	store := testsupport.MustOpenRecords(t, cfg)
	submitter := conversion.NewSubmitter(store, q, 0)
	submitter.SetClock(clock.Now)
	worker := scheduling.NewWorker(store, submitter, notifications.NewEnqueuer(q, 0), logging.NewNop())
	worker.SetClock(clock.Now)
	return &env{
		clock:   clock,
		queue:   q,
		records: store,
		manager: scheduling.NewManager(store, q, 0),
		pool:    queue.NewPool(q, queue.TypeScheduledTrigger, worker, queue.PoolOptions{Concurrency: 1}, logging.NewNop()),
	}
}

func (e *env) addFile(t *testing.T, account, name, format string) *records.SourceFile {
	t.Helper()
	file := &records.SourceFile{AccountID: account, Key: "users/" + account + "/uploads/" + name, Format: format, Name: name, Size: 10}
	if err := e.records.CreateSourceFile(context.Background(), file); err != nil {
		t.Fatalf("CreateSourceFile: %v", err)
	}
	return file
}

func (e *env) fire(t *testing.T) []string {
	t.Helper()
	ids, err := e.queue.FireDue(context.Background(), e.clock.Now())
	if err != nil {
		t.Fatalf("FireDue: %v", err)
	}
	return ids
}

func TestResolveCron(t *testing.T) {
	cases := map[string]string{
		"daily":        "0 9 * * *",
		"WEEKLY":       "0 9 * * 1",
		" Monthly ":    "0 9 1 * *",
		"*/15 * * * *": "*/15 * * * *",
	}
	for in, want := range cases {
		got, err := scheduling.ResolveCron(in)
		if err != nil || got != want {
			t.Fatalf("ResolveCron(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := scheduling.ResolveCron("every tuesday"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRegistersTrigger(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	file := e.addFile(t, "acct", "report.docx", "docx")

	job, err := e.manager.Create(ctx, scheduling.CreateRequest{
		AccountID:    "acct",
		FileID:       file.ID,
		Name:         "Nightly PDF",
		TargetFormat: "PDF",
		Schedule:     "DAILY",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(job.TriggerID, "schedule-") || job.Cron != "0 9 * * *" || !job.Active || job.TargetFormat != "pdf" {
		t.Fatalf("unexpected schedule %#v", job)
	}
	triggers, err := e.queue.ListRecurring(ctx)
	if err != nil {
		t.Fatalf("ListRecurring: %v", err)
	}
	if len(triggers) != 1 || triggers[0].ID != job.TriggerID || triggers[0].JobType != queue.TypeScheduledTrigger {
		t.Fatalf("unexpected triggers %#v", triggers)
	}
	if want := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC); !triggers[0].NextRunAt.Equal(want) {
		t.Fatalf("next run = %s, want %s", triggers[0].NextRunAt, want)
	}

	list, err := e.manager.List(ctx, "acct")
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %d, %v", len(list), err)
	}
}

func TestCreateRejectsInvalidSchedules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	file := e.addFile(t, "acct", "song.mp3", "mp3")

	cases := []struct {
		name string
		req  scheduling.CreateRequest
		want error
	}{
		{"bad cron", scheduling.CreateRequest{AccountID: "acct", FileID: file.ID, Name: "x", TargetFormat: "wav", Schedule: "sometimes"}, services.ErrValidation},
		{"missing name", scheduling.CreateRequest{AccountID: "acct", FileID: file.ID, TargetFormat: "wav", Schedule: "DAILY"}, services.ErrValidation},
		{"foreign file", scheduling.CreateRequest{AccountID: "other", FileID: file.ID, Name: "x", TargetFormat: "wav", Schedule: "DAILY"}, services.ErrNotFound},
		{"unsupported", scheduling.CreateRequest{AccountID: "acct", FileID: file.ID, Name: "x", TargetFormat: "pdf", Schedule: "DAILY"}, services.ErrUnsupported},
	}
	for _, tc := range cases {
		if _, err := e.manager.Create(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	triggers, err := e.queue.ListRecurring(ctx)
	if err != nil {
		t.Fatalf("ListRecurring: %v", err)
	}
	if len(triggers) != 0 {
		t.Fatalf("rejected schedules registered %d triggers", len(triggers))
	}
}

func TestTriggerSubmitsConversion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	file := e.addFile(t, "acct", "sheet.xlsx", "xlsx")
	sched, err := e.manager.Create(ctx, scheduling.CreateRequest{
		AccountID:     "acct",
		FileID:        file.ID,
		Name:          "Weekly CSV",
		TargetFormat:  "csv",
		Schedule:      "0 9 * * *",
		NotifyAddress: "owner@example.com",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if ids := e.fire(t); len(ids) != 0 {
		t.Fatalf("trigger fired early: %v", ids)
	}
	// Three missed days fire once.
	e.clock.Set(time.Date(2026, 3, 12, 9, 30, 0, 0, time.UTC))
	ids := e.fire(t)
	if len(ids) != 1 {
		t.Fatalf("expected a single firing, got %v", ids)
	}
	ok, err := e.pool.ProcessOne(ctx)
	if err != nil || !ok {
		t.Fatalf("ProcessOne = %v, %v", ok, err)
	}
	if job, err := e.queue.Get(ctx, ids[0]); err != nil || job.Status != queue.StatusCompleted || job.TriggerID != sched.TriggerID {
		t.Fatalf("trigger job not completed: %#v, %v", job, err)
	}

	convs, err := e.records.ListConversions(ctx, records.ConversionFilter{AccountID: "acct"})
	if err != nil {
		t.Fatalf("ListConversions: %v", err)
	}
	if len(convs) != 1 || convs[0].Status != records.StatusPending || convs[0].TargetFormat != "csv" || convs[0].JobID == "" {
		t.Fatalf("unexpected conversions %#v", convs)
	}
	stored, err := e.records.GetScheduledJob(ctx, sched.ID)
	if err != nil {
		t.Fatalf("GetScheduledJob: %v", err)
	}
	if stored.LastRunAt == nil || !stored.LastRunAt.Equal(e.clock.Now()) {
		t.Fatalf("last run not recorded: %v", stored.LastRunAt)
	}

	notice, err := e.queue.Lease(ctx, queue.TypeNotification, "test", time.Minute)
	if err != nil || notice == nil {
		t.Fatalf("expected notification job: %v", err)
	}
	var n notifications.Job
	if err := notice.Decode(&n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, err := notifications.Render(n, "https://app.example.com")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "Scheduled job ran: Weekly CSV" || !strings.Contains(msg.HTML, convs[0].ID) {
		t.Fatalf("unexpected notice %q", msg.Subject)
	}
}

func TestPausedScheduleIsIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	file := e.addFile(t, "acct", "a.png", "png")
	sched, err := e.manager.Create(ctx, scheduling.CreateRequest{AccountID: "acct", FileID: file.ID, Name: "thumbs", TargetFormat: "jpg", Schedule: "DAILY"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.clock.Advance(time.Hour)
	if ids := e.fire(t); len(ids) != 1 {
		t.Fatalf("expected firing, got %v", ids)
	}
	// Pausing after the fire: the queued trigger job must ack without converting.
	if _, err := e.manager.SetActive(ctx, "acct", sched.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if ok, err := e.pool.ProcessOne(ctx); err != nil || !ok {
		t.Fatalf("ProcessOne = %v, %v", ok, err)
	}
	convs, err := e.records.ListConversions(ctx, records.ConversionFilter{AccountID: "acct"})
	if err != nil || len(convs) != 0 {
		t.Fatalf("paused schedule converted: %d, %v", len(convs), err)
	}
	if triggers, _ := e.queue.ListRecurring(ctx); len(triggers) != 0 {
		t.Fatalf("pause should remove the trigger")
	}

	resumed, err := e.manager.SetActive(ctx, "acct", sched.ID, true)
	if err != nil || !resumed.Active {
		t.Fatalf("resume = %#v, %v", resumed, err)
	}
	triggers, err := e.queue.ListRecurring(ctx)
	if err != nil || len(triggers) != 1 {
		t.Fatalf("resume should register the trigger: %d, %v", len(triggers), err)
	}
	if want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC); !triggers[0].NextRunAt.Equal(want) {
		t.Fatalf("next run = %s, want %s", triggers[0].NextRunAt, want)
	}
}

func TestForeignSourceFailsTerminally(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	// The schedule points at a file the account does not own.
	foreign := e.addFile(t, "someone-else", "secret.docx", "docx")
	sched := &records.ScheduledJob{
		AccountID:    "acct",
		FileID:       foreign.ID,
		Name:         "orphan",
		TargetFormat: "pdf",
		Cron:         "0 9 * * *",
		TriggerID:    "schedule-orphan",
		Active:       true,
	}
	if err := e.records.CreateScheduledJob(ctx, sched); err != nil {
		t.Fatalf("CreateScheduledJob: %v", err)
	}
	id, err := e.queue.Enqueue(ctx, queue.TypeScheduledTrigger, scheduling.Trigger{
		ScheduledJobID: sched.ID, AccountID: "acct", FileID: foreign.ID, TargetFormat: "pdf",
	}, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ok, err := e.pool.ProcessOne(ctx); err != nil || !ok {
		t.Fatalf("ProcessOne = %v, %v", ok, err)
	}
	job, err := e.queue.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != queue.StatusFailed || job.AttemptsMade != 1 || !strings.Contains(job.LastError, "file not found for scheduled job") {
		t.Fatalf("unexpected job %s/%d %q", job.Status, job.AttemptsMade, job.LastError)
	}
	dead, err := e.queue.ListDead(ctx, queue.TypeScheduledTrigger, 10)
	if err != nil || len(dead) != 1 || dead[0].ID != id {
		t.Fatalf("expected trigger in dead set, got %d, %v", len(dead), err)
	}
	convs, err := e.records.ListConversions(ctx, records.ConversionFilter{AccountID: "acct"})
	if err != nil || len(convs) != 0 {
		t.Fatalf("no conversion should be submitted: %d, %v", len(convs), err)
	}
}

func TestDeleteRemovesScheduleAndTrigger(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	file := e.addFile(t, "acct", "a.mov", "mov")
	sched, err := e.manager.Create(ctx, scheduling.CreateRequest{AccountID: "acct", FileID: file.ID, Name: "clip", TargetFormat: "mp4", Schedule: "WEEKLY"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.manager.Delete(ctx, "intruder", sched.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("delete by another account should be not found, got %v", err)
	}
	if err := e.manager.Delete(ctx, "acct", sched.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.records.GetScheduledJob(ctx, sched.ID); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("schedule still stored: %v", err)
	}
	if triggers, _ := e.queue.ListRecurring(ctx); len(triggers) != 0 {
		t.Fatalf("trigger still registered")
	}
}
