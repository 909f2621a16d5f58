package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBackoffDelayDoublesFromBase(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}
	for i, expected := range want {
		if got := b.Delay(i + 1); got != expected {
			t.Fatalf("Delay(%d) = %s, want %s", i+1, got, expected)
		}
	}
	fixed := Backoff{Kind: BackoffFixed, Base: 3 * time.Second}
	if got := fixed.Delay(4); got != 3*time.Second {
		t.Fatalf("fixed Delay(4) = %s, want 3s", got)
	}
	if got := (Backoff{}).Delay(0); got != DefaultBackoffBase {
		t.Fatalf("zero backoff Delay(0) = %s, want %s", got, DefaultBackoffBase)
	}
}

func TestPermanentSurvivesWrapping(t *testing.T) {
	base := errors.New("unsupported conversion")
	wrapped := fmt.Errorf("handler: %w", Permanent(base))
	if !IsPermanent(wrapped) {
		t.Fatal("expected wrapped permanent error to be detected")
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("expected permanent error to unwrap to its cause")
	}
	if IsPermanent(base) {
		t.Fatal("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestResolveFillsDefaults(t *testing.T) {
	s := defaultSettings()
	opts := s.resolve(EnqueueOptions{})
	if opts.MaxAttempts != DefaultMaxAttempts || opts.Priority != DefaultPriority {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.Backoff.Kind != BackoffExponential || opts.Backoff.Base != DefaultBackoffBase {
		t.Fatalf("unexpected backoff: %+v", opts.Backoff)
	}
}

func TestParseCronRejectsGarbage(t *testing.T) {
	if _, err := ParseCron("not a cron"); err == nil {
		t.Fatal("expected invalid cron to fail")
	}
	if _, err := ParseCron(""); err == nil {
		t.Fatal("expected empty cron to fail")
	}
	next, err := NextFire("0 9 * * *", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	if want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}
}
