package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	fetchDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for listctl. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Fetch metrics
	FetchRequestsTotal       *prometheus.CounterVec
	FetchDuration            *prometheus.HistogramVec
	FetchDeduplicatedTotal   *prometheus.CounterVec
	FetchStaleResultsTotal   *prometheus.CounterVec
	DuplicateRecordsDropped  *prometheus.CounterVec
	FilterCommitsTotal       *prometheus.CounterVec
	PersistenceFailuresTotal *prometheus.CounterVec

	// Provider metrics
	ProviderCircuitBreakerState *prometheus.GaugeVec

	// Session metrics
	ActiveSessions prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listctl_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listctl_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Fetch
		FetchRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listctl_fetch_requests_total",
			Help: "Total number of data provider list requests.",
		}, []string{"resource", "status"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listctl_fetch_duration_seconds",
			Help:    "Data provider list request duration in seconds.",
			Buckets: fetchDurationBuckets,
		}, []string{"resource"}),
		FetchDeduplicatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listctl_fetch_deduplicated_total",
			Help: "Total number of list requests served by an identical in-flight request.",
		}, []string{"resource"}),
		FetchStaleResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listctl_fetch_stale_results_total",
			Help: "Total number of list results dropped because their key was superseded.",
		}, []string{"resource"}),
		DuplicateRecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listctl_duplicate_records_dropped_total",
			Help: "Total number of records dropped from infinite pages for a repeated identifier.",
		}, []string{"resource"}),
		FilterCommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listctl_filter_commits_total",
			Help: "Total number of committed filter changes.",
		}, []string{"resource", "mode"}),
		PersistenceFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listctl_persistence_failures_total",
			Help: "Total number of key-value store failures degraded to in-memory state.",
		}, []string{"operation"}),

		// Provider
		ProviderCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "listctl_provider_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"provider"}),

		// Sessions
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listctl_active_sessions",
			Help: "Number of list sessions held by the HTTP server.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FetchRequestsTotal,
		m.FetchDuration,
		m.FetchDeduplicatedTotal,
		m.FetchStaleResultsTotal,
		m.DuplicateRecordsDropped,
		m.FilterCommitsTotal,
		m.PersistenceFailuresTotal,
		m.ProviderCircuitBreakerState,
		m.ActiveSessions,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordFetch records one data provider request.
func (m *Metrics) RecordFetch(resource string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.FetchRequestsTotal.WithLabelValues(resource, status).Inc()
	m.FetchDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordDeduplicated records a request that joined an in-flight one.
func (m *Metrics) RecordDeduplicated(resource string) {
	if m == nil {
		return
	}
	m.FetchDeduplicatedTotal.WithLabelValues(resource).Inc()
}

// RecordStaleResult records a result dropped because its key was superseded.
func (m *Metrics) RecordStaleResult(resource string) {
	if m == nil {
		return
	}
	m.FetchStaleResultsTotal.WithLabelValues(resource).Inc()
}

// RecordDuplicateRecords records records dropped for a repeated identifier.
func (m *Metrics) RecordDuplicateRecords(resource string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DuplicateRecordsDropped.WithLabelValues(resource).Add(float64(n))
}

// RecordFilterCommit records a committed filter change. Mode is
// "debounced" or "immediate".
func (m *Metrics) RecordFilterCommit(resource, mode string) {
	if m == nil {
		return
	}
	m.FilterCommitsTotal.WithLabelValues(resource, mode).Inc()
}

// RecordPersistenceFailure records a degraded store read or write.
func (m *Metrics) RecordPersistenceFailure(operation string) {
	if m == nil {
		return
	}
	m.PersistenceFailuresTotal.WithLabelValues(operation).Inc()
}

// SetProviderCircuitBreakerState sets the circuit breaker state for a provider.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetProviderCircuitBreakerState(provider string, state float64) {
	if m == nil {
		return
	}
	m.ProviderCircuitBreakerState.WithLabelValues(provider).Set(state)
}

// SetActiveSessions sets the number of live list sessions.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
