package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Guard decision outcomes
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Session refresh results
const (
	RefreshSucceeded = "succeeded"
	RefreshFailed    = "failed"
	RefreshShared    = "shared"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	GuardDecisionsTotal       *prometheus.CounterVec
	SessionRefreshesTotal     *prometheus.CounterVec
	AuthorityRequestDuration  *prometheus.HistogramVec
	RateLimitRejectionsTotal  *prometheus.CounterVec
	RateLimitStoreErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_guard_decisions_total",
				Help: "Guard decisions by guard and outcome",
			},
			[]string{"guard", "outcome", "code"},
		),
		SessionRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_session_refreshes_total",
				Help: "Session refresh attempts by result",
			},
			[]string{"result"},
		),
		AuthorityRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_authority_request_duration_seconds",
				Help:    "Latency of calls to the identity authority",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_rate_limit_rejections_total",
				Help: "Requests rejected by a rate-limit policy",
			},
			[]string{"policy"},
		),
		RateLimitStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_rate_limit_store_errors_total",
				Help: "Counter store failures by policy",
			},
			[]string{"policy"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GuardDecisionsTotal,
		m.SessionRefreshesTotal,
		m.AuthorityRequestDuration,
		m.RateLimitRejectionsTotal,
		m.RateLimitStoreErrorsTotal,
	)

	return m
}

// RecordGuard counts one guard decision; code is empty when allowed
func (m *Metrics) RecordGuard(guard, outcome, code string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(guard, outcome, code).Inc()
}

// RecordRefresh counts one session refresh attempt
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.SessionRefreshesTotal.WithLabelValues(result).Inc()
}

// ObserveAuthority records the latency of an authority call
func (m *Metrics) ObserveAuthority(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.AuthorityRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordRateLimited counts a rejected request
func (m *Metrics) RecordRateLimited(policy string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(policy).Inc()
}

// RecordRateLimitStoreError counts a counter store failure
func (m *Metrics) RecordRateLimitStoreError(policy string) {
	if m == nil {
		return
	}
	m.RateLimitStoreErrorsTotal.WithLabelValues(policy).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled by their mux path template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
