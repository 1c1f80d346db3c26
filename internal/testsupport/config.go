// Package testsupport provides shared helpers for package tests: temp-dir
// backed configs, store and manager constructors with cleanup, and small
// file fixtures.
package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPublishCommand sets the worker publish command on the test config.
func WithPublishCommand(command string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.PublishCommand = command
	}
}

// WithQueueDefaults overrides the submit-time defaults on the test config.
func WithQueueDefaults(priority, maxRetries int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.DefaultPriority = priority
		b.cfg.Queue.DefaultMaxRetries = maxRetries
	}
}

// WithProcessingWindow overrides the stale-claim window in minutes.
func WithProcessingWindow(minutes int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxProcessingMinutes = minutes
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
