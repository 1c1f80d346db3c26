// Package httpapi serves the read/write HTTP surface of the daemon: request
// submission and claiming for remote processors, queue inspection, the
// maintenance sweeps, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/daemon"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/telemetry"
)

// Server exposes daemon operations over HTTP.
type Server struct {
	bind   string
	logger *slog.Logger
	daemon *daemon.Daemon

	listener net.Listener
	server   *http.Server
}

// New constructs the HTTP API server. Start binds the configured address.
func New(cfg *config.Config, d *daemon.Daemon, logger *slog.Logger) *Server {
	bind := ""
	if cfg != nil {
		bind = strings.TrimSpace(cfg.API.Bind)
	}
	srv := &Server{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Router builds the HTTP route table. Exposed so tests can drive handlers
// without binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleDaemonStatus)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleListRequests)
			r.Post("/claim", s.handleClaim)
			r.Get("/{id}", s.handleGetRequest)
			r.Post("/{id}/status", s.handleUpdateStatus)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", s.handleQueueStats)
			r.Get("/health", s.handleQueueHealth)
			r.Post("/reclaim", s.handleReclaim)
			r.Post("/health-check", s.handleHealthCheck)
			r.Post("/retention", s.handleRetention)
		})
	})

	return r
}

// Start binds the listener and serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "http-api"))
	}
	return logging.NewNop()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps queue sentinel errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrDuplicateActiveRequest):
		return http.StatusConflict
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
