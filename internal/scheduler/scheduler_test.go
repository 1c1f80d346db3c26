package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/testsupport"
)

type stubNotifier struct {
	mu             sync.Mutex
	unhealthyCalls int
	lastOldPending int
}

func (s *stubNotifier) NotifyDaemonStarted(context.Context, int) error               { return nil }
func (s *stubNotifier) NotifyRequestCompleted(context.Context, string, string) error { return nil }
func (s *stubNotifier) NotifyRequestFailed(context.Context, string, string) error    { return nil }
func (s *stubNotifier) TestNotification(context.Context) error                       { return nil }

func (s *stubNotifier) NotifyQueueUnhealthy(_ context.Context, oldPending, _, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthyCalls++
	s.lastOldPending = oldPending
	return nil
}

func (s *stubNotifier) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unhealthyCalls
}

type countsBackend struct {
	*queue.Store
	mu         sync.Mutex
	oldPending int
}

func (b *countsBackend) setOldPending(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.oldPending = n
}

func (b *countsBackend) CountPendingOlderThan(context.Context, time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oldPending, nil
}

func (b *countsBackend) CountActiveHighRetry(context.Context, int, time.Time) (int, error) {
	return 0, nil
}

func (b *countsBackend) CountAuditLevelSince(context.Context, queue.AuditLevel, time.Time) (int, error) {
	return 0, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSchedulerRunsSweepsAtStartup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	sched := New(cfg, manager, &stubNotifier{}, logging.NewNop())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	ctx := context.Background()
	waitFor(t, 5*time.Second, func() bool {
		entries, err := manager.RecentAudit(ctx, 20)
		if err != nil {
			return false
		}
		var reclaim, health, retention bool
		for _, entry := range entries {
			switch entry.Message {
			case "stale claim sweep completed":
				reclaim = true
			case "queue healthy":
				health = true
			case "retention sweep completed":
				retention = true
			}
		}
		return reclaim && health && retention
	})
}

func TestSchedulerStartIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)

	sched := New(cfg, manager, &stubNotifier{}, logging.NewNop())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	sched.Stop()
	sched.Stop() // second stop is a no-op
}

func TestStagingSweepProtectsActiveRequests(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustManager(t, cfg, store)
	sched := New(cfg, manager, &stubNotifier{}, logging.NewNop())

	req := testsupport.SubmitRequest(t, manager, "config/staged")

	age := time.Now().Add(-2 * cfg.MaxProcessingWindow())
	activeFile := filepath.Join(cfg.Paths.StagingDir, fmt.Sprintf("%d-staged.yaml", req.ID))
	orphanFile := filepath.Join(cfg.Paths.StagingDir, "999-gone.yaml")
	for _, path := range []string{activeFile, orphanFile} {
		if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		if err := os.Chtimes(path, age, age); err != nil {
			t.Fatalf("age %s: %v", path, err)
		}
	}

	if err := sched.runStagingSweep(context.Background()); err != nil {
		t.Fatalf("runStagingSweep: %v", err)
	}

	if _, err := os.Stat(activeFile); err != nil {
		t.Fatalf("staged file of a pending request must survive: %v", err)
	}
	if _, err := os.Stat(orphanFile); !os.IsNotExist(err) {
		t.Fatalf("orphaned staged file should be removed, stat err: %v", err)
	}
}

func TestHealthNotificationIsEdgeTriggered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	backend := &countsBackend{Store: store}
	manager := queue.NewManager(cfg, backend, logging.NewNop())
	notifier := &stubNotifier{}

	sched := New(cfg, manager, notifier, logging.NewNop())
	ctx := context.Background()

	// Healthy baseline: no notification.
	if err := sched.runHealth(ctx); err != nil {
		t.Fatalf("healthy check: %v", err)
	}
	if notifier.calls() != 0 {
		t.Fatalf("expected no notification while healthy, got %d", notifier.calls())
	}

	// Transition to unhealthy notifies exactly once.
	backend.setOldPending(2)
	for i := 0; i < 3; i++ {
		if err := sched.runHealth(ctx); err != nil {
			t.Fatalf("unhealthy check %d: %v", i, err)
		}
	}
	if notifier.calls() != 1 {
		t.Fatalf("expected a single notification for a sustained condition, got %d", notifier.calls())
	}
	if notifier.lastOldPending != 2 {
		t.Fatalf("expected old pending count in notification, got %d", notifier.lastOldPending)
	}

	// Recovery then relapse notifies again.
	backend.setOldPending(0)
	if err := sched.runHealth(ctx); err != nil {
		t.Fatalf("recovered check: %v", err)
	}
	backend.setOldPending(1)
	if err := sched.runHealth(ctx); err != nil {
		t.Fatalf("relapsed check: %v", err)
	}
	if notifier.calls() != 2 {
		t.Fatalf("expected a fresh notification after recovery, got %d", notifier.calls())
	}
}
