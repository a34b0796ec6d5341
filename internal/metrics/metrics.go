// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PositionsOpened counts successful opens, partitioned by side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contract_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"side"})

	// OpenRejections counts refused opens by reason (validation, conflict, balance).
	OpenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contract_open_rejections_total",
		Help: "Position opens rejected before commit",
	}, []string{"reason"})

	// Settlements counts closed positions by result and by what decided it.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contract_settlements_total",
		Help: "Total number of positions settled",
	}, []string{"result", "source"})

	// SettlementFailures counts per-position failures inside a sweep.
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contract_settlement_failures_total",
		Help: "Per-position settlement failures",
	}, []string{"retryable"})

	// SweepDuration tracks how long one sweep takes, by scope (global|user|manual).
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contract_sweep_duration_seconds",
		Help:    "Settlement sweep duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"scope"})

	// OverrideClaims counts session-control entries consumed.
	OverrideClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contract_override_claims_total",
		Help: "Override queue entries consumed by settlements",
	})

	// AnnouncementFailures counts failed best-effort deliveries, by sender.
	AnnouncementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contract_announcement_failures_total",
		Help: "Failed real-time announcement deliveries",
	}, []string{"sender"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contract_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contract_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contract_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics. The path label is gin's route
// template, not the raw URL, to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Retryable renders a bool as the retryable label value.
func Retryable(b bool) string {
	return strconv.FormatBool(b)
}
