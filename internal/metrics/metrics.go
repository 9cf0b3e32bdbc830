// Package metrics provides Prometheus instrumentation for the bid engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsAccepted counts bids that landed on the leaderboard.
	BidsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bidengine_bids_accepted_total",
		Help: "Total number of bids accepted",
	})

	// BidsRejected counts rejected bids, partitioned by reason.
	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidengine_bids_rejected_total",
		Help: "Total number of bids rejected",
	}, []string{"reason"})

	// BidLatency tracks end-to-end bid placement latency.
	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bidengine_bid_latency_seconds",
		Help:    "Bid placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RefundsTotal counts refunds, partitioned by cause.
	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidengine_refunds_total",
		Help: "Total number of refunds issued",
	}, []string{"cause"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bidengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// LeaderboardApplyRetries counts retried leaderboard applications
	// after a successful debit.
	LeaderboardApplyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bidengine_leaderboard_apply_retries_total",
		Help: "Leaderboard delta applications retried after transient store errors",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bidengine_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is bounded.
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

// Hijack lets WebSocket upgrades pass through the wrapped writer.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
