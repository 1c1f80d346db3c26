// Package staging maintains the staged payload directory. Workers write one
// file per claimed request before running the publish command and remove it
// after a successful publish; daemon crashes and terminal failures leave
// files behind, so the scheduler sweeps the directory periodically.
package staging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
)

// SweepResult contains the outcome of one staging sweep.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a staged file path with its removal error.
type SweepError struct {
	Path string
	Err  error
}

// StagedRequestID extracts the request id from a staged payload file name.
// Workers name staged files "<id>-<original name>".
func StagedRequestID(name string) (int64, bool) {
	idPart, _, found := strings.Cut(name, "-")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// SweepStale removes staged payload files older than maxAge whose request id
// is not in active. Files that do not follow the worker naming layout are
// left alone; the staging directory may hold operator files too.
func SweepStale(stagingDir string, maxAge time.Duration, active map[int64]struct{}, logger *slog.Logger) SweepResult {
	result := SweepResult{}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: stagingDir, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := StagedRequestID(entry.Name())
		if !ok {
			continue
		}
		if _, inFlight := active[id]; inFlight {
			continue
		}

		path := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: path, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, SweepError{Path: path, Err: err})
			if logger != nil {
				logging.WarnWithContext(logger, "failed to remove stale staged payload", "staging_sweep_failed",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check staging directory permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed stale staged payload",
				logging.String("path", path),
				logging.Int64("request_id", id),
				logging.Duration("age", time.Since(info.ModTime())),
			)
		}
	}

	return result
}
