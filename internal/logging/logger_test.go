package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"convertd/internal/logging"
	"convertd/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "conversion-worker")
	component.Info("conversion complete", logging.String("format", "pdf"), logging.Int64("output_size", 42))
	component.Debug("hidden at info level")

	out := readLog(t, logPath)
	for _, fragment := range []string{"INFO", "conversion-worker:", "conversion complete", "format=pdf", "output_size=42"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in %q", fragment, out)
		}
	}
	if strings.Contains(out, "hidden at info level") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("file output must not contain color codes: %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no source information at info level, got %q", out)
	}
}

func TestConsoleLoggerQuotesValuesWithSpaces(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "quoted.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("dispatch failed", logging.Error(errors.New("exit status 1")))

	out := readLog(t, logPath)
	if !strings.Contains(out, `error="exit status 1"`) {
		t.Fatalf("expected quoted error, got %q", out)
	}
}

func TestJSONLoggerUsesStableKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "job-7")
	ctx = services.WithConversionID(ctx, "conv-9")
	logging.WithContext(ctx, logger).Info("leased")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "info" || entry["msg"] != "leased" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if entry[logging.FieldJobID] != "job-7" || entry[logging.FieldConversionID] != "conv-9" {
		t.Fatalf("expected context fields, got %v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "notification enqueue failed", "notification_enqueue_failed",
		logging.String(logging.FieldImpact, "recipient will not receive an email"))

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry[logging.FieldEventType] != "notification_enqueue_failed" {
		t.Fatalf("expected event type, got %v", entry)
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("expected default error hint, got %v", entry)
	}
	if entry[logging.FieldImpact] != "recipient will not receive an email" {
		t.Fatalf("expected caller impact to win, got %v", entry)
	}
}

func TestJSONFileReceivesStructuredCopy(t *testing.T) {
	dir := t.TempDir()
	consolePath := filepath.Join(dir, "console.log")
	jsonPath := filepath.Join(dir, "run.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{consolePath},
		JSONFile:    jsonPath,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "conversion").Info("conversion complete", logging.String(logging.FieldConversionID, "c1"))

	if out := readLog(t, consolePath); !strings.Contains(out, "conversion:") {
		t.Fatalf("expected console line, got %q", out)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, jsonPath))), &entry); err != nil {
		t.Fatalf("json file should hold one JSON record: %v", err)
	}
	if entry["msg"] != "conversion complete" || entry["conversion_id"] != "c1" || entry["level"] != "info" {
		t.Fatalf("unexpected json entry %v", entry)
	}
}
