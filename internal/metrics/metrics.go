// Package metrics provides Prometheus instrumentation for the omerta engine.
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
			Namespace: "omerta",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "omerta",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActionsResolvedTotal counts resolved action attempts by type and outcome.
	ActionsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omerta",
			Name:      "actions_resolved_total",
			Help:      "Total action attempts resolved, by action type and outcome.",
		},
		[]string{"action_type", "outcome"},
	)

	// ResolvedProbability observes the post-clamp success probability of attempts.
	ResolvedProbability = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "omerta",
		Name:      "resolved_probability",
		Help:      "Final clamped success probability of resolved attempts.",
		Buckets:   []float64{5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 95},
	})

	// TimedStatesExpiredTotal counts timed states auto-resolved by the sweep.
	TimedStatesExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omerta",
			Name:      "timed_states_expired_total",
			Help:      "Timed states resolved by deadline expiry, by kind.",
		},
		[]string{"kind"},
	)

	// TimedStatesActive tracks currently scheduled or active timed states.
	TimedStatesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "omerta",
		Name:      "timed_states_active",
		Help:      "Number of timed states in a non-terminal phase.",
	})

	// CascadeEventsTotal counts applied cascade events by effect type.
	CascadeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omerta",
			Name:      "cascade_events_total",
			Help:      "Total cascade events applied, by effect type.",
		},
		[]string{"effect_type"},
	)

	// CascadeTruncationsTotal counts cascades cut short by the depth/fanout cap.
	CascadeTruncationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "omerta",
		Name:      "cascade_truncations_total",
		Help:      "Cascades truncated at the configured depth or fanout cap.",
	})

	// LedgerCommitsTotal counts ledger commits by result (applied, replay, rollback).
	LedgerCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omerta",
			Name:      "ledger_commits_total",
			Help:      "Ledger commit operations by result.",
		},
		[]string{"result"},
	)

	// CASConflictsTotal counts optimistic-concurrency conflicts by record type.
	CASConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omerta",
			Name:      "cas_conflicts_total",
			Help:      "Version conflicts observed on compare-and-swap writes.",
		},
		[]string{"record"},
	)

	// ContentFallbacksTotal counts generation calls that fell back to deterministic tables.
	ContentFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omerta",
			Name:      "content_fallbacks_total",
			Help:      "Content-generation calls resolved from fallback tables, by reason.",
		},
		[]string{"reason"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "omerta",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// EventDeliveriesTotal counts notification deliveries by result.
	EventDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omerta",
			Name:      "event_deliveries_total",
			Help:      "Total notification deliveries by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "omerta", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "omerta", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "omerta", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "omerta", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActionsResolvedTotal,
		ResolvedProbability,
		TimedStatesExpiredTotal,
		TimedStatesActive,
		CascadeEventsTotal,
		CascadeTruncationsTotal,
		LedgerCommitsTotal,
		CASConflictsTotal,
		ContentFallbacksTotal,
		ActiveWebSocketClients,
		EventDeliveriesTotal,
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
