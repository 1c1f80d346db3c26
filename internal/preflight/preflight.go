package preflight

import (
	"context"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// DatabaseChecker is the slice of the queue store preflight needs.
type DatabaseChecker interface {
	CheckHealth(ctx context.Context) (queue.DatabaseHealth, error)
}

// RunAll executes all applicable preflight checks for the given config.
// Conditional checks only run when the corresponding subsystem is enabled.
func RunAll(ctx context.Context, cfg *config.Config, db DatabaseChecker) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))

	// Workers need a publish command to do anything with a claim.
	if cfg.Workers.Count > 0 {
		results = append(results, CheckPublishCommand(cfg.Workers.PublishCommand))
	}

	if cfg.API.Enabled {
		results = append(results, CheckBind(cfg.API.Bind))
	}

	if db != nil {
		results = append(results, CheckDatabase(ctx, db))
	}

	return results
}

// Healthy reports whether every check passed.
func Healthy(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// Failures returns only the failing results.
func Failures(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
