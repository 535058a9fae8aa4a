package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admob_dash",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "admob_dash",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	UpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admob_dash",
		Name:      "upstream_calls_total",
		Help:      "Calls to the AdMob API by operation and outcome.",
	}, []string{"op", "outcome"})

	ReportCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admob_dash",
		Name:      "report_cache_total",
		Help:      "Report cache lookups by result.",
	}, []string{"result"})

	SkippedRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "admob_dash",
		Name:      "skipped_rows_total",
		Help:      "Report rows dropped during normalisation.",
	})

	StaleLoads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "admob_dash",
		Name:      "stale_loads_total",
		Help:      "Loads discarded because a newer load for the session started.",
	})
)

// Instrument records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
		HTTPLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
