package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Report dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Moderation service registry cache
	RegistryCacheHits   prometheus.Counter
	RegistryCacheMisses prometheus.Counter

	// Authorization decisions by action and outcome
	AuthorizationTotal *prometheus.CounterVec

	// Moderation log writes by action and status
	ModerationLogWrites *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safeskies_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safeskies_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safeskies_report_dispatch_total",
				Help: "Report deliveries by destination service and outcome",
			},
			[]string{"service", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safeskies_report_dispatch_duration_seconds",
				Help:    "Time spent delivering a report to one destination service",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		RegistryCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "safeskies_registry_cache_hits_total",
				Help: "Moderation service registry cache hits",
			},
		),
		RegistryCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "safeskies_registry_cache_misses_total",
				Help: "Moderation service registry cache misses",
			},
		),
		AuthorizationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safeskies_authorization_decisions_total",
				Help: "Feed action authorization decisions",
			},
			[]string{"action", "allowed"},
		),
		ModerationLogWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safeskies_moderation_log_writes_total",
				Help: "Moderation log appends by action and status",
			},
			[]string{"action", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DispatchTotal,
		m.DispatchDuration,
		m.RegistryCacheHits,
		m.RegistryCacheMisses,
		m.AuthorizationTotal,
		m.ModerationLogWrites,
	)

	return m
}

// NewNopMetrics returns metrics registered against a throwaway registry
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests. The route label is the mux path
// template so that DIDs and URIs in paths do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
