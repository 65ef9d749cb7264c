// Package metrics provides Prometheus instrumentation for the ChurnGuard platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "churnguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventsIngestedTotal counts accepted events by event type.
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "events_ingested_total",
			Help:      "Total events accepted by the ingestion endpoint, by event type.",
		},
		[]string{"event_type"},
	)

	// EventsRejectedTotal counts rejected ingest requests by reason.
	EventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "events_rejected_total",
			Help:      "Total rejected ingest requests by reason.",
		},
		[]string{"reason"},
	)

	// EventsDedupedTotal counts duplicate events dropped by idempotency key.
	EventsDedupedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "churnguard",
		Name:      "events_deduped_total",
		Help:      "Total duplicate events ignored via client event ID.",
	})

	// PredictionsComputedTotal counts fresh risk score computations.
	PredictionsComputedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "churnguard",
		Name:      "predictions_computed_total",
		Help:      "Total risk predictions computed (cache misses).",
	})

	// PredictionCacheHitsTotal counts predictions served from the TTL cache.
	PredictionCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "churnguard",
		Name:      "prediction_cache_hits_total",
		Help:      "Total predictions served from the freshness window without recomputation.",
	})

	// RecomputeTasksTotal counts recompute dispatch outcomes.
	RecomputeTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "recompute_tasks_total",
			Help:      "Recompute task dispatch outcomes (enqueued, coalesced, dropped, failed).",
		},
		[]string{"outcome"},
	)

	// RecomputeQueueDepth tracks pending recompute tasks.
	RecomputeQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnguard",
		Name:      "recompute_queue_depth",
		Help:      "Number of pending risk recomputation tasks.",
	})

	// ActiveWebSocketClients tracks connected live-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "churnguard",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "churnguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsIngestedTotal,
		EventsRejectedTotal,
		EventsDedupedTotal,
		PredictionsComputedTotal,
		PredictionCacheHitsTotal,
		RecomputeTasksTotal,
		RecomputeQueueDepth,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
