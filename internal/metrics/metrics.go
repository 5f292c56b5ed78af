// Package metrics provides Prometheus instrumentation for the
// reconciliation engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ContractsCreatedTotal counts contracts entered, partitioned by direction.
	ContractsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sauda_contracts_created_total",
		Help: "Total contracts created",
	}, []string{"direction"})

	// DeliveriesRecordedTotal counts accepted delivery events.
	DeliveriesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sauda_deliveries_recorded_total",
		Help: "Total delivery events accepted",
	})

	// DeliveriesRejectedTotal counts deliveries rejected by the
	// over-delivery guard.
	DeliveriesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sauda_deliveries_rejected_total",
		Help: "Delivery events rejected by the over-delivery guard",
	})

	// RecalcRunsTotal counts completed recalculations by scope (stock, pnl, all).
	RecalcRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sauda_recalc_runs_total",
		Help: "Completed derived-table recalculations",
	}, []string{"scope"})

	// RecalcDuration tracks rebuild duration by scope.
	RecalcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sauda_recalc_duration_seconds",
		Help:    "Derived-table recalculation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	// IntegrityViolations tracks the violation count from the last rebuild.
	IntegrityViolations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sauda_integrity_violations",
		Help: "Ledger integrity violations found by the most recent rebuild",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sauda_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sauda_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sauda_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays manageable.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
