package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Backend {
	case "sqlite":
		return nil
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set when database.backend is \"postgres\" (or set SNOWTOWER_DATABASE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("database.backend must be \"sqlite\" or \"postgres\", got %q", c.Database.Backend)
	}
}

func (c *Config) validateQueue() error {
	if c.Queue.DefaultPriority < 1 || c.Queue.DefaultPriority > 10 {
		return errors.New("queue.default_priority must be between 1 and 10")
	}
	if c.Queue.DefaultMaxRetries < 0 {
		return errors.New("queue.default_max_retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"queue.max_processing_minutes":     c.Queue.MaxProcessingMinutes,
		"queue.scheduler_interval_minutes": c.Queue.SchedulerIntervalMinutes,
		"queue.health_interval_minutes":    c.Queue.HealthIntervalMinutes,
		"queue.retention_interval_hours":   c.Queue.RetentionIntervalHours,
		"queue.retention_days":             c.Queue.RetentionDays,
	}); err != nil {
		return err
	}
	if c.Queue.ReclaimIntervalMinutes < 0 {
		return errors.New("queue.reclaim_interval_minutes must be >= 0 (0 derives from the scheduler interval)")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 0 {
		return errors.New("workers.count must be >= 0")
	}
	if c.Workers.PollIntervalSeconds <= 0 {
		return errors.New("workers.poll_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
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
