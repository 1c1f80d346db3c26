// Package daemonrun boots the daemon process: logging, storage backend,
// preflight, queue manager, worker pool, scheduler, and the IPC and HTTP
// control surfaces.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/daemon"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/httpapi"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/notifications"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/preflight"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queueaccess"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/scheduler"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/worker"
)

// Options configures daemon process runtime behavior.
type Options struct {
	SocketPath  string
	LogLevel    string
	Development bool
	Diagnostic  bool
}

// Run starts the snowtower daemon runtime loop and blocks until SIGINT or
// SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("snowtower-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	development := opts.Development
	if opts.Diagnostic {
		level = "debug"
		development = true
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Diagnostic {
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String("log_path", logPath),
		)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update snowtower.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "snowtower-*.log", Exclude: []string{logPath}},
	)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queueaccess.OpenBackend(signalCtx, cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	logEnvironmentSnapshot(logger, cfg)
	for _, failure := range preflight.Failures(preflight.RunAll(signalCtx, cfg, store)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_check_failed",
			logging.String("check", failure.Name),
			logging.String("detail", failure.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported environment issue and restart the daemon"),
			logging.String(logging.FieldImpact, "daemon may fail to publish requests"),
		)
	}

	manager := queue.NewManager(cfg, store, logger)
	notifier := notifications.NewService(cfg)
	publisher := worker.NewScriptPublisher(cfg.Workers.PublishCommand)
	pool := worker.NewPool(cfg, manager, publisher, notifier, logger)
	sched := scheduler.New(cfg, manager, notifier, logger)

	d, err := daemon.New(cfg, manager, pool, sched, notifier, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if cfg.API.Enabled {
		apiServer := httpapi.New(cfg, d, logger)
		if err := apiServer.Start(signalCtx); err != nil {
			return fmt.Errorf("start http api: %w", err)
		}
		defer apiServer.Stop()
	}

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
			logging.String(logging.FieldImpact, "daemon is idle; submitted requests stay pending"),
		)
	}

	<-signalCtx.Done()
	logger.Info("snowtower daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "snowtower.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logEnvironmentSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("environment snapshot",
		logging.String(logging.FieldEventType, "environment_snapshot"),
		logging.String("database_backend", cfg.Database.Backend),
		logging.Int("workers", cfg.Workers.Count),
		logging.Bool("publish_command_set", strings.TrimSpace(cfg.Workers.PublishCommand) != ""),
		logging.Bool("http_api_enabled", cfg.API.Enabled),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
