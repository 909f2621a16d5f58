package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"convertd/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "convertd")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.QueueDBPath() != filepath.Join(wantData, "queue.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDBPath())
	}
	if cfg.Queue.Backend != config.QueueSQLite {
		t.Fatalf("unexpected queue backend %q", cfg.Queue.Backend)
	}
	if cfg.Queue.MaxAttempts != 3 || cfg.Queue.BackoffBaseSeconds != 5 || cfg.Queue.FailedRetention != 500 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Queue)
	}
	if cfg.Workers.ConversionConcurrency != 4 || cfg.Workers.NotificationConcurrency != 10 || cfg.Workers.SchedulerConcurrency != 2 {
		t.Fatalf("unexpected pool defaults: %+v", cfg.Workers)
	}
	if cfg.Storage.DownloadExpiry().Hours() != 1 {
		t.Fatalf("expected 1h download expiry, got %s", cfg.Storage.DownloadExpiry())
	}
	if cfg.Storage.UploadExpiry().Minutes() != 5 {
		t.Fatalf("expected 5m upload expiry, got %s", cfg.Storage.UploadExpiry())
	}
	if cfg.Mail.From != "LyFiles <noreply@lyfiles.com>" {
		t.Fatalf("unexpected mail from %q", cfg.Mail.From)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CONVERTD_S3_SECRET_KEY", "from-env")

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": "~/data",
		},
		"queue": map[string]any{
			"max_attempts": 5,
		},
		"storage": map[string]any{
			"backend":    "s3",
			"bucket":     "uploads",
			"access_key": "AKIA",
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != cfgPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", cfgPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "data") {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("expected max attempts override, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Storage.SecretKey != "from-env" {
		t.Fatalf("expected secret key from env, got %q", cfg.Storage.SecretKey)
	}
	if cfg.Storage.AccessKey != "AKIA" {
		t.Fatalf("expected file access key to win, got %q", cfg.Storage.AccessKey)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized json format, got %q", cfg.Logging.Format)
	}
}

func TestLoadReadsDotEnvNextToConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[records]\nbackend = \"postgres\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DATABASE_URL=postgres://u:p@localhost/db\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("DATABASE_URL") })

	cfg, _, _, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Records.PostgresDSN != "postgres://u:p@localhost/db" {
		t.Fatalf("expected dsn from .env, got %q", cfg.Records.PostgresDSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"queue backend", func(c *config.Config) { c.Queue.Backend = "kafka" }, "queue.backend"},
		{"lease vs heartbeat", func(c *config.Config) { c.Queue.LeaseSeconds = 10; c.Queue.HeartbeatSeconds = 10 }, "queue.lease_seconds"},
		{"pool size", func(c *config.Config) { c.Workers.ConversionConcurrency = 0 }, "workers.conversion_concurrency"},
		{"postgres dsn", func(c *config.Config) { c.Records.Backend = config.RecordsPostgres }, "records.postgres_dsn"},
		{"s3 bucket", func(c *config.Config) { c.Storage.Backend = config.StorageS3 }, "storage.bucket"},
		{"mail host", func(c *config.Config) { c.Mail.Enabled = true; c.Mail.Host = "" }, "mail.host"},
		{"quality", func(c *config.Config) { c.Converters.DefaultQuality = 101 }, "converters.default_quality"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.API.Bind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind %q", cfg.API.Bind)
	}
}
