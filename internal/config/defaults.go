package config

const (
	QueueSQLite       = "sqlite"
	QueueRedis        = "redis"
	RecordsSQLite     = "sqlite"
	RecordsPostgres   = "postgres"
	StorageLocal      = "local"
	StorageS3         = "s3"
	DocumentSoffice   = "libreoffice"
	DocumentGotenberg = "gotenberg"
)

const (
	defaultDataDir                 = "~/.local/share/convertd"
	defaultWorkspaceDir            = "~/.local/share/convertd/workspace"
	defaultLogDir                  = "~/.local/share/convertd/logs"
	defaultLocalStorageDir         = "~/.local/share/convertd/objects"
	defaultRedisURL                = "redis://localhost:6379/0"
	defaultRedisPrefix             = "convertd"
	defaultLeaseSeconds            = 120
	defaultHeartbeatSeconds        = 30
	defaultPollIntervalMillis      = 1000
	defaultReclaimSeconds          = 30
	defaultRecurringSeconds        = 15
	defaultMaxAttempts             = 3
	defaultBackoffBaseSeconds      = 5
	defaultCompletedRetention      = 100
	defaultFailedRetention         = 500
	defaultConversionConcurrency   = 4
	defaultNotificationConcurrency = 10
	defaultSchedulerConcurrency    = 2
	defaultConversionTimeout       = 900
	defaultNotificationMaxAttempts = 3
	defaultS3Region                = "us-east-1"
	defaultDownloadTTL             = 3600
	defaultUploadTTL               = 300
	defaultLocalPublicURL          = "http://127.0.0.1:7488/objects"
	defaultLibreOfficeBinary       = "soffice"
	defaultFFmpegBinary            = "ffmpeg"
	defaultFFprobeBinary           = "ffprobe"
	defaultGotenbergURL            = "http://localhost:3000"
	defaultQuality                 = 85
	defaultMailPort                = 587
	defaultMailFrom                = "LyFiles <noreply@lyfiles.com>"
	defaultMailTLSPolicy           = "opportunistic"
	defaultMailTimeoutSeconds      = 10
	defaultAppURL                  = "http://localhost:3000"
	defaultAPIBind                 = "127.0.0.1:7488"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			WorkspaceDir: defaultWorkspaceDir,
			LogDir:       defaultLogDir,
		},
		Queue: Queue{
			Backend:            QueueSQLite,
			RedisURL:           defaultRedisURL,
			RedisPrefix:        defaultRedisPrefix,
			LeaseSeconds:       defaultLeaseSeconds,
			HeartbeatSeconds:   defaultHeartbeatSeconds,
			PollIntervalMillis: defaultPollIntervalMillis,
			ReclaimSeconds:     defaultReclaimSeconds,
			RecurringSeconds:   defaultRecurringSeconds,
			MaxAttempts:        defaultMaxAttempts,
			BackoffBaseSeconds: defaultBackoffBaseSeconds,
			CompletedRetention: defaultCompletedRetention,
			FailedRetention:    defaultFailedRetention,
		},
		Records: Records{
			Backend: RecordsSQLite,
		},
		Workers: Workers{
			ConversionConcurrency:   defaultConversionConcurrency,
			NotificationConcurrency: defaultNotificationConcurrency,
			SchedulerConcurrency:    defaultSchedulerConcurrency,
			ConversionTimeout:       defaultConversionTimeout,
			NotificationMaxAttempts: defaultNotificationMaxAttempts,
		},
		Storage: Storage{
			Backend:        StorageLocal,
			LocalDir:       defaultLocalStorageDir,
			Region:         defaultS3Region,
			DownloadTTL:    defaultDownloadTTL,
			UploadTTL:      defaultUploadTTL,
			LocalPublicURL: defaultLocalPublicURL,
		},
		Converters: Converters{
			LibreOfficeBinary: defaultLibreOfficeBinary,
			FFmpegBinary:      defaultFFmpegBinary,
			FFprobeBinary:     defaultFFprobeBinary,
			DocumentBackend:   DocumentSoffice,
			GotenbergURL:      defaultGotenbergURL,
			DefaultQuality:    defaultQuality,
		},
		Mail: Mail{
			Port:           defaultMailPort,
			From:           defaultMailFrom,
			TLSPolicy:      defaultMailTLSPolicy,
			TimeoutSeconds: defaultMailTimeoutSeconds,
			AppURL:         defaultAppURL,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
