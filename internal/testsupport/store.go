package testsupport

import (
	"context"
	"fmt"
	"testing"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustManager builds a queue.Manager over the given backend with a silent
// logger. Options pass through, letting tests inject a fixed or shifting
// clock.
func MustManager(t testing.TB, cfg *config.Config, backend queue.Backend, opts ...queue.ManagerOption) *queue.Manager {
	t.Helper()
	return queue.NewManager(cfg, backend, logging.NewNop(), opts...)
}

// SubmitRequest enqueues one request through the manager with defaults that
// keep call sites short. The branch doubles as the PR title.
func SubmitRequest(t testing.TB, manager *queue.Manager, branch string) *queue.Request {
	t.Helper()

	req, err := manager.Submit(context.Background(), queue.SubmitParams{
		CreatedBy:  "tester",
		BranchName: branch,
		PRTitle:    fmt.Sprintf("Add config for %s", branch),
		FileName:   fmt.Sprintf("%s.yaml", branch),
		Payload:    []byte("generated: true\n"),
	})
	if err != nil {
		t.Fatalf("manager.Submit(%s): %v", branch, err)
	}
	return req
}
