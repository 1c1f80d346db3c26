package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckPublishCommand verifies the configured publish command resolves to an
// executable. Only the first token is resolved; the rest are arguments.
func CheckPublishCommand(command string) Result {
	const name = "Publish command"

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return Result{Name: name, Detail: "not configured"}
	}
	resolved, err := exec.LookPath(parts[0])
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%q not found in PATH", parts[0])}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckBind verifies the API listen address is available by binding and
// immediately releasing it. Run this before the API server starts.
func CheckBind(bind string) Result {
	const name = "API bind address"

	bind = strings.TrimSpace(bind)
	if bind == "" {
		return Result{Name: name, Detail: "missing bind address"}
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", bind, err)}
	}
	listener.Close()
	return Result{Name: name, Passed: true, Detail: bind}
}

// CheckDatabase verifies the queue store answers a health probe within a
// short window and that the work-requests table is usable.
func CheckDatabase(ctx context.Context, db DatabaseChecker) Result {
	const name = "Queue database"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := db.CheckHealth(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health probe failed (%v)", err)}
	}
	if health.Error != "" {
		return Result{Name: name, Detail: health.Error}
	}
	if !health.DatabaseReadable {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable)", health.DBPath)}
	}
	if !health.TableExists {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: work_requests table missing)", health.DBPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d requests, %d audit rows)", health.DBPath, health.TotalRequests, health.TotalAuditRows)}
}

// CheckNotificationsFromConfig reports the ntfy notification state without
// sending anything. Disabled notifications pass: they are a valid setup.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("ntfy topic %q", topic)}
}
