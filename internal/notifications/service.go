package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
)

const userAgent = "SnowTower/0.1.0"

// Service defines the notification surface exposed to the daemon, worker
// pool, and scheduler.
type Service interface {
	NotifyDaemonStarted(ctx context.Context, workers int) error
	NotifyRequestCompleted(ctx context.Context, branch, prURL string) error
	NotifyRequestFailed(ctx context.Context, branch, reason string) error
	NotifyQueueUnhealthy(ctx context.Context, oldPending, highRetry, recentErrors int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, workers int) error {
	data := payload{
		title:   "SnowTower - Started",
		message: fmt.Sprintf("Daemon started with %d workers", workers),
		tags:    []string{"snowtower", "daemon", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRequestCompleted(ctx context.Context, branch, prURL string) error {
	branch = strings.TrimSpace(branch)
	prURL = strings.TrimSpace(prURL)
	message := fmt.Sprintf("✅ PR ready for %s", branch)
	if prURL != "" {
		message = fmt.Sprintf("%s\n%s", message, prURL)
	}
	data := payload{
		title:   "SnowTower - Request Complete",
		message: message,
		tags:    []string{"snowtower", "request", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRequestFailed(ctx context.Context, branch, reason string) error {
	branch = strings.TrimSpace(branch)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "SnowTower - Request Failed",
		message:  fmt.Sprintf("❌ Request failed for %s: %s", branch, reason),
		tags:     []string{"snowtower", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueUnhealthy(ctx context.Context, oldPending, highRetry, recentErrors int) error {
	data := payload{
		title: "SnowTower - Queue Unhealthy",
		message: fmt.Sprintf("Queue needs attention: %d stale pending, %d high-retry, %d recent errors",
			oldPending, highRetry, recentErrors),
		tags:     []string{"snowtower", "health", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "SnowTower - Test",
		message:  "Notification system test",
		tags:     []string{"snowtower", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDaemonStarted(context.Context, int) error               { return nil }
func (noopService) NotifyRequestCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyRequestFailed(context.Context, string, string) error    { return nil }
func (noopService) NotifyQueueUnhealthy(context.Context, int, int, int) error    { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
