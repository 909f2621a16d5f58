package records_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"convertd/internal/records"
	"convertd/internal/testsupport"
)

func stores(t *testing.T) map[string]*records.Store {
	t.Helper()
	out := map[string]*records.Store{
		"sqlite": testsupport.MustOpenRecords(t, testsupport.NewConfig(t)),
	}
	if dsn := strings.TrimSpace(os.Getenv("CONVERTD_TEST_POSTGRES_DSN")); dsn != "" {
		pg, err := records.OpenPostgres(dsn)
		if err != nil {
			t.Fatalf("OpenPostgres: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func eachStore(t *testing.T, fn func(t *testing.T, store *records.Store)) {
	for name, store := range stores(t) {
		store := store
		t.Run(name, func(t *testing.T) { fn(t, store) })
	}
}

func seedConversion(t *testing.T, store *records.Store, account string) (*records.SourceFile, *records.Conversion) {
	t.Helper()
	ctx := context.Background()
	file := &records.SourceFile{AccountID: account, Key: "uploads/" + account + "/report.docx", Format: "DOCX", Name: "report.docx", Size: 2048}
	if err := store.CreateSourceFile(ctx, file); err != nil {
		t.Fatalf("CreateSourceFile: %v", err)
	}
	conv := &records.Conversion{
		AccountID:     account,
		FileID:        file.ID,
		SourceFormat:  file.Format,
		TargetFormat:  "pdf",
		OutputKey:     "users/" + account + "/documents/2026-03-02/out.pdf",
		Options:       records.Options{Quality: 80},
		NotifyAddress: "user@example.com",
	}
	if err := store.CreateConversion(ctx, conv); err != nil {
		t.Fatalf("CreateConversion: %v", err)
	}
	return file, conv
}

func TestSourceFilesAreScopedToAccount(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		account := uuid.NewString()
		file, _ := seedConversion(t, store, account)
		if file.Format != "docx" {
			t.Fatalf("expected normalized format, got %q", file.Format)
		}
		got, err := store.GetSourceFile(ctx, account, file.ID)
		if err != nil {
			t.Fatalf("GetSourceFile: %v", err)
		}
		if got.Name != "report.docx" || got.Size != 2048 {
			t.Fatalf("unexpected file: %+v", got)
		}
		if _, err := store.GetSourceFile(ctx, "someone-else", file.ID); !errors.Is(err, records.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for foreign account, got %v", err)
		}
		files, err := store.ListSourceFiles(ctx, account, 10)
		if err != nil || len(files) != 1 {
			t.Fatalf("ListSourceFiles = %d, %v", len(files), err)
		}
	})
}

func TestConversionLifecycleUsesLeaseToken(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		_, conv := seedConversion(t, store, uuid.NewString())

		ok, current, err := store.MarkProcessing(ctx, conv.ID, records.Lease{JobID: "job-1", Token: "tok-1", Attempt: 1})
		if err != nil || !ok {
			t.Fatalf("MarkProcessing = %v, %v", ok, err)
		}
		if current.Status != records.StatusProcessing || current.StartedAt == nil || current.Attempt != 1 {
			t.Fatalf("unexpected processing record: %+v", current)
		}

		// Redelivery after lease expiry takes ownership.
		ok, current, err = store.MarkProcessing(ctx, conv.ID, records.Lease{JobID: "job-1", Token: "tok-2", Attempt: 2})
		if err != nil || !ok || current.LeaseToken != "tok-2" {
			t.Fatalf("re-entry MarkProcessing = %v, %+v, %v", ok, current, err)
		}

		if ok, err := store.MarkComplete(ctx, conv.ID, "tok-1", 10); err != nil || ok {
			t.Fatalf("stale holder must not complete: %v, %v", ok, err)
		}
		if err := store.RecordAttemptError(ctx, conv.ID, "tok-2", "soffice exited 1"); err != nil {
			t.Fatalf("RecordAttemptError: %v", err)
		}
		if err := store.SetProgress(ctx, conv.ID, "tok-2", 90); err != nil {
			t.Fatalf("SetProgress: %v", err)
		}
		if ok, err := store.MarkComplete(ctx, conv.ID, "tok-2", 4096); err != nil || !ok {
			t.Fatalf("MarkComplete = %v, %v", ok, err)
		}
		if ok, err := store.MarkFailed(ctx, conv.ID, "tok-2", "late failure"); err != nil || ok {
			t.Fatalf("terminal record must not flip to FAILED: %v, %v", ok, err)
		}
		ok, current, err = store.MarkProcessing(ctx, conv.ID, records.Lease{JobID: "job-1", Token: "tok-3", Attempt: 3})
		if err != nil || ok {
			t.Fatalf("terminal record must not be reclaimed: %v, %v", ok, err)
		}

		if current.Status != records.StatusComplete || current.OutputSize == nil || *current.OutputSize != 4096 {
			t.Fatalf("unexpected final record: %+v", current)
		}
		if current.CompletedAt == nil || current.ErrorMessage != "" || current.Progress != 90 {
			t.Fatalf("unexpected final record fields: %+v", current)
		}
		if current.LastAttemptError != "soffice exited 1" || current.Options.Quality != 80 {
			t.Fatalf("unexpected advisory fields: %+v", current)
		}
	})
}

func TestMarkFailedRecordsMessage(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		_, conv := seedConversion(t, store, uuid.NewString())
		if _, _, err := store.MarkProcessing(ctx, conv.ID, records.Lease{JobID: "j", Token: "t", Attempt: 3}); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		if ok, err := store.MarkFailed(ctx, conv.ID, "t", "unsupported conversion: docx -> mp3"); err != nil || !ok {
			t.Fatalf("MarkFailed = %v, %v", ok, err)
		}
		got, err := store.GetConversion(ctx, conv.ID)
		if err != nil {
			t.Fatalf("GetConversion: %v", err)
		}
		if got.Status != records.StatusFailed || got.ErrorMessage != "unsupported conversion: docx -> mp3" || got.OutputSize != nil {
			t.Fatalf("unexpected failed record: %+v", got)
		}
	})
}

func TestCancelOnlyFromPending(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		account := uuid.NewString()
		_, pending := seedConversion(t, store, account)
		ok, err := store.CancelConversion(ctx, account, pending.ID)
		if err != nil || !ok {
			t.Fatalf("CancelConversion = %v, %v", ok, err)
		}
		ok, _, err = store.MarkProcessing(ctx, pending.ID, records.Lease{Token: "t"})
		if err != nil || ok {
			t.Fatalf("cancelled record must not start: %v, %v", ok, err)
		}

		_, running := seedConversion(t, store, account)
		if _, _, err := store.MarkProcessing(ctx, running.ID, records.Lease{Token: "t"}); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		if ok, err := store.CancelConversion(ctx, account, running.ID); err != nil || ok {
			t.Fatalf("processing record must not cancel: %v, %v", ok, err)
		}
		if _, err := store.CancelConversion(ctx, "other", running.ID); !errors.Is(err, records.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for foreign account, got %v", err)
		}
	})
}

func TestListConversionsFilters(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		account := uuid.NewString()
		seedConversion(t, store, account)
		_, second := seedConversion(t, store, account)
		if _, err := store.CancelConversion(ctx, account, second.ID); err != nil {
			t.Fatalf("CancelConversion: %v", err)
		}
		all, err := store.ListConversions(ctx, records.ConversionFilter{AccountID: account})
		if err != nil || len(all) != 2 {
			t.Fatalf("ListConversions = %d, %v", len(all), err)
		}
		cancelled, err := store.ListConversions(ctx, records.ConversionFilter{AccountID: account, Status: records.StatusCancelled})
		if err != nil || len(cancelled) != 1 || cancelled[0].ID != second.ID {
			t.Fatalf("filtered ListConversions = %d, %v", len(cancelled), err)
		}
	})
}

func TestStatsSummariseWindow(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		account := uuid.NewString()
		start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
		store.SetClock(func() time.Time { return start })
		_, old := seedConversion(t, store, account)
		_ = old

		store.SetClock(func() time.Time { return start.Add(10 * 24 * time.Hour) })
		_, ok1 := seedConversion(t, store, account)
		_, bad := seedConversion(t, store, account)
		for _, c := range []*records.Conversion{ok1, bad} {
			if _, _, err := store.MarkProcessing(ctx, c.ID, records.Lease{Token: c.ID}); err != nil {
				t.Fatalf("MarkProcessing: %v", err)
			}
		}
		if _, err := store.MarkComplete(ctx, ok1.ID, ok1.ID, 1000); err != nil {
			t.Fatalf("MarkComplete: %v", err)
		}
		if _, err := store.MarkFailed(ctx, bad.ID, bad.ID, "boom"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}

		stats, err := store.Stats(ctx, account, start.Add(3*24*time.Hour))
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Total != 2 || stats.Succeeded != 1 || stats.Failed != 1 {
			t.Fatalf("unexpected stats: %+v", stats)
		}
		if stats.StorageUsed != 3*2048+1000 {
			t.Fatalf("unexpected storage used: %d", stats.StorageUsed)
		}
	})
}

func TestScheduledJobCRUD(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		account := uuid.NewString()
		file, _ := seedConversion(t, store, account)
		job := &records.ScheduledJob{
			AccountID:     account,
			FileID:        file.ID,
			Name:          "Nightly PDF",
			TargetFormat:  "pdf",
			Cron:          "0 9 * * *",
			TriggerID:     "schedule-" + uuid.NewString(),
			NotifyAddress: "ops@example.com",
			Active:        true,
		}
		if err := store.CreateScheduledJob(ctx, job); err != nil {
			t.Fatalf("CreateScheduledJob: %v", err)
		}
		if err := store.SetScheduledJobActive(ctx, job.ID, false); err != nil {
			t.Fatalf("SetScheduledJobActive: %v", err)
		}
		ranAt := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
		if err := store.TouchLastRun(ctx, job.ID, ranAt); err != nil {
			t.Fatalf("TouchLastRun: %v", err)
		}
		got, err := store.GetScheduledJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetScheduledJob: %v", err)
		}
		if got.Active || got.LastRunAt == nil || !got.LastRunAt.Equal(ranAt) || got.NotifyAddress != "ops@example.com" {
			t.Fatalf("unexpected schedule: %+v", got)
		}
		list, err := store.ListScheduledJobs(ctx, account)
		if err != nil || len(list) != 1 {
			t.Fatalf("ListScheduledJobs = %d, %v", len(list), err)
		}
		if err := store.DeleteScheduledJob(ctx, "other", job.ID); !errors.Is(err, records.ErrNotFound) {
			t.Fatalf("expected ErrNotFound deleting foreign schedule, got %v", err)
		}
		if err := store.DeleteScheduledJob(ctx, account, job.ID); err != nil {
			t.Fatalf("DeleteScheduledJob: %v", err)
		}
		if _, err := store.GetScheduledJob(ctx, job.ID); !errors.Is(err, records.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestNotifications(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		account := uuid.NewString()
		first := &records.Notification{AccountID: account, Title: "Conversion complete", Message: "Your file is ready to download (PDF)", Kind: records.KindSuccess}
		if err := store.CreateNotification(ctx, first); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
		if err := store.CreateNotification(ctx, &records.Notification{AccountID: account, Title: "Conversion failed", Message: "boom", Kind: records.KindError}); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
		if err := store.MarkNotificationRead(ctx, account, first.ID); err != nil {
			t.Fatalf("MarkNotificationRead: %v", err)
		}
		unread, err := store.ListNotifications(ctx, account, true, 10)
		if err != nil || len(unread) != 1 || unread[0].Kind != records.KindError {
			t.Fatalf("unread notifications = %d, %v", len(unread), err)
		}
		all, err := store.ListNotifications(ctx, account, false, 10)
		if err != nil || len(all) != 2 {
			t.Fatalf("all notifications = %d, %v", len(all), err)
		}
	})
}

func TestConcurrentWritersDoNotFailBusy(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		const writers, rounds = 16, 50
		convs := make([]*records.Conversion, writers)
		for i := range convs {
			_, convs[i] = seedConversion(t, store, uuid.NewString())
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for i, conv := range convs {
			wg.Add(1)
			go func(worker int, conv *records.Conversion) {
				defer wg.Done()
				for round := 1; round <= rounds; round++ {
					token := fmt.Sprintf("tok-%d-%d", worker, round)
					_, _, err := store.MarkProcessing(ctx, conv.ID, records.Lease{JobID: "job-" + conv.ID, Token: token, Attempt: 1})
					if err == nil {
						err = store.SetProgress(ctx, conv.ID, token, round)
					}
					if err != nil {
						mu.Lock()
						errs = append(errs, err)
						mu.Unlock()
					}
				}
			}(i, conv)
		}
		wg.Wait()
		if len(errs) > 0 {
			t.Fatalf("%d concurrent writes failed, first: %v", len(errs), errs[0])
		}
		for _, conv := range convs {
			got, err := store.GetConversion(ctx, conv.ID)
			if err != nil {
				t.Fatalf("GetConversion: %v", err)
			}
			if got.Status != records.StatusProcessing || got.Progress != rounds {
				t.Fatalf("unexpected record after concurrent writes: %+v", got)
			}
		}
	})
}

func TestFailAbandonedSettlesOnlyOpenRecords(t *testing.T) {
	eachStore(t, func(t *testing.T, store *records.Store) {
		ctx := context.Background()
		_, stuck := seedConversion(t, store, uuid.NewString())
		if _, _, err := store.MarkProcessing(ctx, stuck.ID, records.Lease{JobID: "job-stuck", Token: "t", Attempt: 3}); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		_, done := seedConversion(t, store, uuid.NewString())
		if _, _, err := store.MarkProcessing(ctx, done.ID, records.Lease{JobID: "job-done", Token: "t", Attempt: 1}); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		if ok, err := store.MarkComplete(ctx, done.ID, "t", 10); err != nil || !ok {
			t.Fatalf("MarkComplete = %v, %v", ok, err)
		}

		if ok, err := store.FailAbandoned(ctx, "job-stuck", "lease expired after final attempt"); err != nil || !ok {
			t.Fatalf("FailAbandoned stuck = %v, %v", ok, err)
		}
		if ok, err := store.FailAbandoned(ctx, "job-done", "lease expired after final attempt"); err != nil || ok {
			t.Fatalf("FailAbandoned must not touch COMPLETE: %v, %v", ok, err)
		}
		if ok, err := store.FailAbandoned(ctx, "", "x"); err != nil || ok {
			t.Fatalf("FailAbandoned with empty job id = %v, %v", ok, err)
		}

		got, err := store.GetConversion(ctx, stuck.ID)
		if err != nil {
			t.Fatalf("GetConversion: %v", err)
		}
		if got.Status != records.StatusFailed || got.ErrorMessage != "lease expired after final attempt" || got.CompletedAt == nil {
			t.Fatalf("unexpected abandoned record: %+v", got)
		}
		if got, _ := store.GetConversion(ctx, done.ID); got.Status != records.StatusComplete {
			t.Fatalf("completed record changed: %+v", got)
		}
	})
}
