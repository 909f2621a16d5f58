package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRecords(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateConverters(); err != nil {
		return err
	}
	if err := c.validateMail(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueSQLite, QueueRedis:
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (want sqlite or redis)", c.Queue.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"queue.lease_seconds":            c.Queue.LeaseSeconds,
		"queue.heartbeat_seconds":        c.Queue.HeartbeatSeconds,
		"queue.poll_interval_ms":         c.Queue.PollIntervalMillis,
		"queue.reclaim_interval_seconds": c.Queue.ReclaimSeconds,
		"queue.recurring_poll_seconds":   c.Queue.RecurringSeconds,
		"queue.max_attempts":             c.Queue.MaxAttempts,
		"queue.backoff_base_seconds":     c.Queue.BackoffBaseSeconds,
		"queue.completed_retention":      c.Queue.CompletedRetention,
		"queue.failed_retention":         c.Queue.FailedRetention,
	}); err != nil {
		return err
	}
	if c.Queue.LeaseSeconds <= c.Queue.HeartbeatSeconds {
		return errors.New("queue.lease_seconds must be greater than queue.heartbeat_seconds")
	}
	return nil
}

func (c *Config) validateRecords() error {
	switch c.Records.Backend {
	case RecordsSQLite:
		return nil
	case RecordsPostgres:
		if strings.TrimSpace(c.Records.PostgresDSN) == "" {
			return errors.New("records.postgres_dsn must be set when records.backend is postgres (or export DATABASE_URL)")
		}
		return nil
	default:
		return fmt.Errorf("records.backend: unsupported value %q (want sqlite or postgres)", c.Records.Backend)
	}
}

func (c *Config) validateWorkers() error {
	return ensurePositiveMap(map[string]int{
		"workers.conversion_concurrency":     c.Workers.ConversionConcurrency,
		"workers.notification_concurrency":   c.Workers.NotificationConcurrency,
		"workers.scheduler_concurrency":      c.Workers.SchedulerConcurrency,
		"workers.conversion_timeout_seconds": c.Workers.ConversionTimeout,
		"workers.notification_max_attempts":  c.Workers.NotificationMaxAttempts,
	})
}

func (c *Config) validateStorage() error {
	if err := ensurePositiveMap(map[string]int{
		"storage.download_ttl_seconds": c.Storage.DownloadTTL,
		"storage.upload_ttl_seconds":   c.Storage.UploadTTL,
	}); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	case StorageS3:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("storage.bucket must be set when storage.backend is s3 (or export CONVERTD_S3_BUCKET)")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want local or s3)", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateConverters() error {
	switch c.Converters.DocumentBackend {
	case DocumentSoffice:
	case DocumentGotenberg:
		if c.Converters.GotenbergURL == "" {
			return errors.New("converters.gotenberg_url must be set when converters.document_backend is gotenberg")
		}
	default:
		return fmt.Errorf("converters.document_backend: unsupported value %q", c.Converters.DocumentBackend)
	}
	if c.Converters.DefaultQuality < 1 || c.Converters.DefaultQuality > 100 {
		return errors.New("converters.default_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateMail() error {
	if !c.Mail.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Mail.Host) == "" {
		return errors.New("mail.host must be set when mail.enabled is true")
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		return errors.New("mail.port must be between 1 and 65535")
	}
	switch c.Mail.TLSPolicy {
	case "opportunistic", "mandatory", "none":
	default:
		return fmt.Errorf("mail.tls_policy: unsupported value %q", c.Mail.TLSPolicy)
	}
	if c.Mail.TimeoutSeconds <= 0 {
		return errors.New("mail.timeout_seconds must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
