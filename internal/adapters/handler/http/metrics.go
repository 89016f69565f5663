package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivescan_http_requests_total",
			Help: "Total number of HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hivescan_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	scansStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivescan_scans_started_total",
		Help: "Total number of scans accepted for orchestration.",
	})

	scansFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivescan_scans_failed_total",
		Help: "Total number of scans that ended with an error.",
	})

	scansStoppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivescan_scans_stopped_total",
		Help: "Total number of scans stopped on request.",
	})
)

// MetricsMiddleware records request counts and latencies per route.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func RecordScanStarted() { scansStartedTotal.Inc() }
func RecordScanFailed()  { scansFailedTotal.Inc() }
func RecordScanStopped() { scansStoppedTotal.Inc() }
