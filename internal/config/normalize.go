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
	c.normalizeDatabase()
	c.normalizeWorkers()
	c.normalizeAPI()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	c.Database.Backend = strings.ToLower(strings.TrimSpace(c.Database.Backend))
	if c.Database.Backend == "" {
		c.Database.Backend = defaultDatabaseBackend
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("SNOWTOWER_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkers() {
	c.Workers.ProcessorPrefix = strings.TrimSpace(c.Workers.ProcessorPrefix)
	if c.Workers.ProcessorPrefix == "" {
		c.Workers.ProcessorPrefix = defaultProcessorPrefix
	}
	c.Workers.PublishCommand = strings.TrimSpace(c.Workers.PublishCommand)
	c.Workers.DefaultTargetBranch = strings.TrimSpace(c.Workers.DefaultTargetBranch)
	if c.Workers.DefaultTargetBranch == "" {
		c.Workers.DefaultTargetBranch = defaultTargetBranch
	}
	if c.Workers.PollIntervalSeconds == 0 {
		c.Workers.PollIntervalSeconds = defaultWorkerPollSeconds
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("SNOWTOWER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}
