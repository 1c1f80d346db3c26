package config

const (
	defaultDataDir              = "~/.local/share/snowtower"
	defaultLogDir               = "~/.local/share/snowtower/logs"
	defaultStagingDir           = "~/.local/share/snowtower/staging"
	defaultDatabaseBackend      = "sqlite"
	defaultPriority             = 5
	defaultMaxRetries           = 3
	defaultMaxProcessingMinutes = 30
	defaultSchedulerMinutes     = 5
	defaultHealthMinutes        = 60
	defaultRetentionHours       = 24
	defaultRetentionDays        = 30
	defaultWorkerCount          = 1
	defaultWorkerPollSeconds    = 10
	defaultProcessorPrefix      = "snowtower"
	defaultTargetBranch         = "main"
	defaultAPIBind              = "127.0.0.1:7487"
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			StagingDir: defaultStagingDir,
		},
		Database: Database{
			Backend: defaultDatabaseBackend,
		},
		Queue: Queue{
			DefaultPriority:          defaultPriority,
			DefaultMaxRetries:        defaultMaxRetries,
			MaxProcessingMinutes:     defaultMaxProcessingMinutes,
			SchedulerIntervalMinutes: defaultSchedulerMinutes,
			HealthIntervalMinutes:    defaultHealthMinutes,
			RetentionIntervalHours:   defaultRetentionHours,
			RetentionDays:            defaultRetentionDays,
		},
		Workers: Workers{
			Count:               defaultWorkerCount,
			PollIntervalSeconds: defaultWorkerPollSeconds,
			ProcessorPrefix:     defaultProcessorPrefix,
			DefaultTargetBranch: defaultTargetBranch,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
