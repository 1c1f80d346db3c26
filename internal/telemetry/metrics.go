// Package telemetry exposes Prometheus counters and gauges for queue
// throughput plus the /metrics HTTP handler.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RequestsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "snowtower_requests_submitted_total", Help: "Work requests accepted into the queue"})
	RequestsClaimed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "snowtower_requests_claimed_total", Help: "Successful claims by processors"})
	RequestsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "snowtower_requests_completed_total", Help: "Requests that reached the completed state"})
	RequestsRetried   = prometheus.NewCounter(prometheus.CounterOpts{Name: "snowtower_requests_retried_total", Help: "Failed attempts converted back to pending"})
	RequestsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "snowtower_requests_failed_total", Help: "Requests that exhausted retries and failed terminally"})
	RequestsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "snowtower_requests_reclaimed_total", Help: "Stale processing claims returned to pending"})

	RetentionDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "snowtower_retention_deleted_total", Help: "Rows removed by the retention sweeper"}, []string{"kind"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "snowtower_queue_depth", Help: "Work requests currently in each status"}, []string{"status"})

	PublishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "snowtower_publish_duration_seconds",
		Help:    "Wall time of external publish command runs",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RequestsSubmitted,
			RequestsClaimed,
			RequestsCompleted,
			RequestsRetried,
			RequestsFailed,
			RequestsReclaimed,
			RetentionDeleted,
			QueueDepth,
			PublishDuration,
		)
	})
	return promhttp.Handler()
}
