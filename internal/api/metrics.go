package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// Outcomes of a report submission relayed upstream.
const (
	submitAccepted = "accepted"
	submitRejected = "rejected"
	submitNetwork  = "network_error"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportwatch_http_requests_total",
			Help: "HTTP requests served by the gateway.",
		},
		[]string{"method", "path", "status"},
	)

	// Event streams are excluded; their duration is the lifetime of the watch.
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportwatch_http_request_duration_seconds",
			Help:    "Duration of non-streaming HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	eventStreamsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reportwatch_event_streams_open",
		Help: "Snapshot event streams currently connected.",
	})

	reportSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportwatch_report_submissions_total",
			Help: "Report jobs submitted to the report API, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		eventStreamsOpen,
		reportSubmissions,
	)
}

// metricsMiddleware counts every request by chi route pattern and times the
// ones that are not event streams.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()

		if ww.Header().Get("Content-Type") != sseContentType {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
