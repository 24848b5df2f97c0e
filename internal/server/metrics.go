package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmark_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmark_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Conversion task metrics
	conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmark_conversions_total",
			Help: "Total number of conversion submissions",
		},
		[]string{"outcome"}, // outcome: accepted, rejected
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmark_downloads_total",
			Help: "Total number of artifact downloads",
		},
		[]string{"kind"},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docmark_upload_size_bytes",
			Help:    "Size of uploaded documents in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docmark_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmark_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// taskGaugeOnce guards gauge registration; the default registry rejects
// duplicate collectors.
var taskGaugeOnce sync.Once

// registerTaskGauges exposes live task counts from the task registry.
func registerTaskGauges(tasks taskManager) {
	taskGaugeOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "docmark_tasks_queued",
			Help: "Number of tasks waiting for a processing slot",
		}, func() float64 {
			return float64(tasks.Statistics().Stats.Queued)
		})
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "docmark_tasks_processing",
			Help: "Number of tasks currently being converted",
		}, func() float64 {
			return float64(tasks.Statistics().Stats.Processing)
		})
	})
}
