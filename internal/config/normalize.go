package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeRecords()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeConverters()
	c.normalizeMail()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		c.Paths.WorkspaceDir = defaultWorkspaceDir
	}
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueSQLite
	}
	if value, ok := os.LookupEnv("REDIS_URL"); ok && strings.TrimSpace(value) != "" {
		c.Queue.RedisURL = strings.TrimSpace(value)
	}
	c.Queue.RedisURL = strings.TrimSpace(c.Queue.RedisURL)
	if c.Queue.RedisURL == "" {
		c.Queue.RedisURL = defaultRedisURL
	}
	c.Queue.RedisPrefix = strings.Trim(strings.TrimSpace(c.Queue.RedisPrefix), ":")
	if c.Queue.RedisPrefix == "" {
		c.Queue.RedisPrefix = defaultRedisPrefix
	}
}

func (c *Config) normalizeRecords() {
	c.Records.Backend = strings.ToLower(strings.TrimSpace(c.Records.Backend))
	if c.Records.Backend == "" {
		c.Records.Backend = RecordsSQLite
	}
	if c.Records.PostgresDSN == "" {
		if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.Records.PostgresDSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = defaultLocalStorageDir
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	if c.Storage.Bucket == "" {
		if value, ok := os.LookupEnv("CONVERTD_S3_BUCKET"); ok {
			c.Storage.Bucket = strings.TrimSpace(value)
		}
	}
	if c.Storage.AccessKey == "" {
		c.Storage.AccessKey = firstEnv("CONVERTD_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	}
	if c.Storage.SecretKey == "" {
		c.Storage.SecretKey = firstEnv("CONVERTD_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	}
	if c.Storage.URLSigningKey == "" {
		c.Storage.URLSigningKey = firstEnv("CONVERTD_URL_SIGNING_KEY")
	}
	c.Storage.Region = strings.TrimSpace(c.Storage.Region)
	if c.Storage.Region == "" {
		c.Storage.Region = defaultS3Region
	}
	c.Storage.LocalPublicURL = strings.TrimRight(strings.TrimSpace(c.Storage.LocalPublicURL), "/")
	if c.Storage.LocalPublicURL == "" {
		c.Storage.LocalPublicURL = defaultLocalPublicURL
	}
	return nil
}

func (c *Config) normalizeConverters() {
	c.Converters.LibreOfficeBinary = defaultString(c.Converters.LibreOfficeBinary, defaultLibreOfficeBinary)
	c.Converters.FFmpegBinary = defaultString(c.Converters.FFmpegBinary, defaultFFmpegBinary)
	c.Converters.FFprobeBinary = defaultString(c.Converters.FFprobeBinary, defaultFFprobeBinary)
	c.Converters.DocumentBackend = strings.ToLower(defaultString(c.Converters.DocumentBackend, DocumentSoffice))
	c.Converters.GotenbergURL = strings.TrimRight(defaultString(c.Converters.GotenbergURL, defaultGotenbergURL), "/")
	if c.Converters.DefaultQuality == 0 {
		c.Converters.DefaultQuality = defaultQuality
	}
}

func (c *Config) normalizeMail() {
	if c.Mail.Password == "" {
		c.Mail.Password = firstEnv("CONVERTD_SMTP_PASSWORD", "SMTP_PASSWORD")
	}
	c.Mail.From = defaultString(c.Mail.From, defaultMailFrom)
	c.Mail.TLSPolicy = strings.ToLower(defaultString(c.Mail.TLSPolicy, defaultMailTLSPolicy))
	if value, ok := os.LookupEnv("APP_URL"); ok && strings.TrimSpace(value) != "" && c.Mail.AppURL == defaultAppURL {
		c.Mail.AppURL = strings.TrimSpace(value)
	}
	c.Mail.AppURL = strings.TrimRight(defaultString(c.Mail.AppURL, defaultAppURL), "/")
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Token == "" {
		c.API.Token = firstEnv("CONVERTD_API_TOKEN")
	}
	origins := c.API.CORSOrigins[:0]
	for _, origin := range c.API.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.API.CORSOrigins = origins
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func defaultString(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
