package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	WorkspaceDir string `toml:"workspace_dir"`
	LogDir       string `toml:"log_dir"`
}

// Queue configures the durable job queue and its retry policy.
type Queue struct {
	Backend            string `toml:"backend"` // "sqlite" or "redis"
	RedisURL           string `toml:"redis_url"`
	RedisPrefix        string `toml:"redis_prefix"`
	LeaseSeconds       int    `toml:"lease_seconds"`
	HeartbeatSeconds   int    `toml:"heartbeat_seconds"`
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	ReclaimSeconds     int    `toml:"reclaim_interval_seconds"`
	RecurringSeconds   int    `toml:"recurring_poll_seconds"`
	MaxAttempts        int    `toml:"max_attempts"`
	BackoffBaseSeconds int    `toml:"backoff_base_seconds"`
	CompletedRetention int    `toml:"completed_retention"`
	FailedRetention    int    `toml:"failed_retention"`
}

// Records configures the conversion and schedule record store.
type Records struct {
	Backend     string `toml:"backend"` // "sqlite" or "postgres"
	PostgresDSN string `toml:"postgres_dsn"`
}

// Workers configures pool sizes per worker role.
type Workers struct {
	ConversionConcurrency   int `toml:"conversion_concurrency"`
	NotificationConcurrency int `toml:"notification_concurrency"`
	SchedulerConcurrency    int `toml:"scheduler_concurrency"`
	ConversionTimeout       int `toml:"conversion_timeout_seconds"`
	NotificationMaxAttempts int `toml:"notification_max_attempts"`
}

// Storage configures the object store holding source files and outputs.
type Storage struct {
	Backend        string `toml:"backend"` // "local" or "s3"
	LocalDir       string `toml:"local_dir"`
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UsePathStyle   bool   `toml:"use_path_style"`
	DownloadTTL    int    `toml:"download_ttl_seconds"`
	UploadTTL      int    `toml:"upload_ttl_seconds"`
	URLSigningKey  string `toml:"url_signing_key"`
	LocalPublicURL string `toml:"local_public_url"`
}

// Converters configures the external conversion tools.
type Converters struct {
	LibreOfficeBinary   string `toml:"libreoffice_binary"`
	FFmpegBinary        string `toml:"ffmpeg_binary"`
	FFprobeBinary       string `toml:"ffprobe_binary"`
	DocumentBackend     string `toml:"document_backend"` // "libreoffice" or "gotenberg"
	GotenbergURL        string `toml:"gotenberg_url"`
	ValidateMediaOutput bool   `toml:"validate_media_output"`
	DefaultQuality      int    `toml:"default_quality"`
}

// Mail configures outbound notification delivery.
type Mail struct {
	Enabled        bool   `toml:"enabled"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	From           string `toml:"from"`
	TLSPolicy      string `toml:"tls_policy"` // "opportunistic", "mandatory" or "none"
	TimeoutSeconds int    `toml:"timeout_seconds"`
	AppURL         string `toml:"app_url"`
}

// API configures the HTTP API served by the daemon.
type API struct {
	Bind        string   `toml:"bind"`
	Token       string   `toml:"token"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for convertd.
//
// Configuration sections by subsystem:
//   - Paths: data, workspace and log directories
//   - Queue: queue backend, leases and retry policy
//   - Records: record store backend
//   - Workers: pool concurrency per role
//   - Storage: object store backend and reference lifetimes
//   - Converters: external tool binaries and document backend
//   - Mail: SMTP delivery for notifications
//   - API: HTTP bind address and bearer token
//   - Logging: log format, level, and retention
type Config struct {
	Paths      Paths      `toml:"paths"`
	Queue      Queue      `toml:"queue"`
	Records    Records    `toml:"records"`
	Workers    Workers    `toml:"workers"`
	Storage    Storage    `toml:"storage"`
	Converters Converters `toml:"converters"`
	Mail       Mail       `toml:"mail"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/convertd/config.toml")
}

// Load locates, parses, and validates a configuration file. A .env file next to
// the configuration file or in the working directory is loaded first so its
// values can act as environment fallbacks. The returned config has all path
// fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadDotEnv(filepath.Dir(resolvedPath))

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv never overrides variables already present in the environment.
func loadDotEnv(configDir string) {
	candidates := []string{".env"}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			_ = godotenv.Load(candidate)
		}
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("convertd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.WorkspaceDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite file backing the job queue.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// RecordsDBPath returns the SQLite file backing conversion records.
func (c *Config) RecordsDBPath() string {
	return filepath.Join(c.Paths.DataDir, "records.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "convertd.lock")
}

func (q Queue) Lease() time.Duration { return time.Duration(q.LeaseSeconds) * time.Second }

func (q Queue) Heartbeat() time.Duration { return time.Duration(q.HeartbeatSeconds) * time.Second }

func (q Queue) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMillis) * time.Millisecond
}

func (q Queue) ReclaimInterval() time.Duration {
	return time.Duration(q.ReclaimSeconds) * time.Second
}

func (q Queue) RecurringInterval() time.Duration {
	return time.Duration(q.RecurringSeconds) * time.Second
}

func (q Queue) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSeconds) * time.Second
}

func (s Storage) DownloadExpiry() time.Duration {
	return time.Duration(s.DownloadTTL) * time.Second
}

func (s Storage) UploadExpiry() time.Duration {
	return time.Duration(s.UploadTTL) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
