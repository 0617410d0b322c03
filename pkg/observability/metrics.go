package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Provisioning metrics
	ProvisionAttemptsTotal *prometheus.CounterVec
	StageDuration          *prometheus.HistogramVec
	IdentityRetriesTotal   prometheus.Counter
	RollbacksTotal         prometheus.Counter
	IdempotentReplaysTotal prometheus.Counter
	CleanupQueueDepth      prometheus.Gauge

	// Availability / reservation metrics
	SlugChecksTotal         *prometheus.CounterVec
	ReservationsTotal       *prometheus.CounterVec
	RequestCacheHitsTotal   prometheus.Counter
	RequestCacheMissesTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Janitor metrics
	JanitorSweepsTotal   *prometheus.CounterVec
	ExpiredRequestsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ProvisionAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_provision_attempts_total",
				Help: "Provisioning attempts by terminal outcome",
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantd_provision_stage_duration_seconds",
				Help:    "Duration of each provisioning stage",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30},
			},
			[]string{"stage"},
		),
		IdentityRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_identity_retries_total",
				Help: "Retried identity provider create calls",
			},
		),
		RollbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_rollbacks_total",
				Help: "Provisioning attempts that reached rolled_back",
			},
		),
		IdempotentReplaysTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_idempotent_replays_total",
				Help: "Requests answered from a stored terminal outcome",
			},
		),
		CleanupQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantd_cleanup_queue_depth",
				Help: "Identities flagged for manual cleanup and not yet resolved",
			},
		),

		SlugChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_slug_checks_total",
				Help: "Slug availability checks by result",
			},
			[]string{"result"},
		),
		ReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_slug_reservations_total",
				Help: "Redis slug reservation claims by result",
			},
			[]string{"result"},
		),
		RequestCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_request_cache_hits_total",
				Help: "Terminal-outcome cache hits",
			},
		),
		RequestCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_request_cache_misses_total",
				Help: "Terminal-outcome cache misses",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantd_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantd_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		JanitorSweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantd_janitor_sweeps_total",
				Help: "Janitor sweep runs by kind and status",
			},
			[]string{"kind", "status"},
		),
		ExpiredRequestsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantd_expired_requests_total",
				Help: "Stuck provisioning requests expired to failed",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProvisionAttemptsTotal,
		m.StageDuration,
		m.IdentityRetriesTotal,
		m.RollbacksTotal,
		m.IdempotentReplaysTotal,
		m.CleanupQueueDepth,
		m.SlugChecksTotal,
		m.ReservationsTotal,
		m.RequestCacheHitsTotal,
		m.RequestCacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.JanitorSweepsTotal,
		m.ExpiredRequestsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
