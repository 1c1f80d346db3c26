package queueaccess

import (
	"context"
	"fmt"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/pgqueue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// Session couples an Access with the cleanup for whichever transport backs it.
type Session struct {
	Access Access
	// Direct reports that the session bypassed the daemon and works on the
	// store directly.
	Direct bool

	close func() error
}

// Close releases the client connection or store handle behind the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback dials the daemon first and silently falls back to direct
// store access when the socket does not answer. Direct sessions share the
// daemon's database, which both backends tolerate: SQLite runs in WAL mode
// and Postgres is concurrent anyway.
func OpenWithFallback(ctx context.Context, cfg *config.Config, dial func() (*ipc.Client, error)) (Session, error) {
	if dial != nil {
		if client, err := dial(); err == nil {
			return Session{Access: NewIPCAccess(client), close: client.Close}, nil
		}
	}

	if cfg == nil {
		return Session{}, fmt.Errorf("open queue store: configuration unavailable")
	}
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	manager := queue.NewManager(cfg, backend, logging.NewNop())
	return Session{Access: NewManagerAccess(manager), Direct: true, close: backend.Close}, nil
}

// OpenBackend opens the configured queue backend directly.
func OpenBackend(ctx context.Context, cfg *config.Config) (queue.Backend, error) {
	if cfg.Database.Backend == "postgres" {
		return pgqueue.Open(ctx, cfg.Database.DSN)
	}
	return queue.Open(cfg)
}
