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

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	StagingDir string `toml:"staging_dir"`
}

// Database selects and configures the queue storage backend.
type Database struct {
	Backend string `toml:"backend"`
	DSN     string `toml:"dsn"`
}

// Queue contains retry, claim-window, and sweep configuration.
type Queue struct {
	DefaultPriority          int `toml:"default_priority"`
	DefaultMaxRetries        int `toml:"default_max_retries"`
	MaxProcessingMinutes     int `toml:"max_processing_minutes"`
	SchedulerIntervalMinutes int `toml:"scheduler_interval_minutes"`
	ReclaimIntervalMinutes   int `toml:"reclaim_interval_minutes"`
	HealthIntervalMinutes    int `toml:"health_interval_minutes"`
	RetentionIntervalHours   int `toml:"retention_interval_hours"`
	RetentionDays            int `toml:"retention_days"`
}

// Workers contains the in-process worker pool configuration.
type Workers struct {
	Count               int    `toml:"count"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	ProcessorPrefix     string `toml:"processor_prefix"`
	PublishCommand      string `toml:"publish_command"`
	DefaultTargetBranch string `toml:"default_target_branch"`
}

// API contains the HTTP API listener configuration.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Notifications contains ntfy push notification settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for SnowTower.
//
// Sections by subsystem:
//   - Paths: data, log, and payload staging directories
//   - Database: queue store backend (sqlite or postgres) and DSN
//   - Queue: defaults, processing window, and sweep intervals
//   - Workers: claim loop pool and the external publish command
//   - API: HTTP API listener
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Queue         Queue         `toml:"queue"`
	Workers       Workers       `toml:"workers"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/snowtower/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

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

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
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

	projectPath, err := filepath.Abs("snowtower.toml")
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

// EnsureDirectories creates the directories daemon operation requires.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.StagingDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "snowtower.sock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "snowtower.pid")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "snowtowerd.lock")
}

// SchedulerInterval returns the base tick for the periodic task scheduler.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Queue.SchedulerIntervalMinutes) * time.Minute
}

// ReclaimInterval returns the stale-claim sweep cadence. When unset it
// derives as six scheduler intervals.
func (c *Config) ReclaimInterval() time.Duration {
	if c.Queue.ReclaimIntervalMinutes > 0 {
		return time.Duration(c.Queue.ReclaimIntervalMinutes) * time.Minute
	}
	return 6 * c.SchedulerInterval()
}

// HealthInterval returns the health monitor cadence.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Queue.HealthIntervalMinutes) * time.Minute
}

// RetentionInterval returns the retention sweep cadence.
func (c *Config) RetentionInterval() time.Duration {
	return time.Duration(c.Queue.RetentionIntervalHours) * time.Hour
}

// MaxProcessingWindow returns how long a claim may stay in processing before
// the reclaimer treats it as stale.
func (c *Config) MaxProcessingWindow() time.Duration {
	return time.Duration(c.Queue.MaxProcessingMinutes) * time.Minute
}

// WorkerPollInterval returns how long an idle worker waits between claim
// attempts.
func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalSeconds) * time.Second
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
