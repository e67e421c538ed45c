// Package observability exposes Prometheus metrics for the BFF.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects HTTP and session metrics on a private registry.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	authOutcomes       *prometheus.CounterVec
	guardDecisions     *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kinsi_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kinsi_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	auth := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kinsi_auth_outcomes_total",
		Help: "Finished authentication flows by flow and result.",
	}, []string{"flow", "result"})
	guard := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kinsi_guard_decisions_total",
		Help: "Route guard decisions on protected paths by outcome.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kinsi_session_transitions_total",
		Help: "Session store state changes by resulting state.",
	}, []string{"state"})
	registry.MustRegister(requests, duration, auth, guard, transitions)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		authOutcomes:       auth,
		guardDecisions:     guard,
		sessionTransitions: transitions,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// AuthOutcome implements auth.Recorder.
func (m *Metrics) AuthOutcome(flow, result string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(flow, result).Inc()
}

// GuardDecision implements guard.Recorder.
func (m *Metrics) GuardDecision(outcome string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(outcome).Inc()
}

// SessionTransition counts a store entering state.
func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(state).Inc()
}

// TrackStores exposes the number of live per-client stores as a gauge.
func (m *Metrics) TrackStores(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "kinsi_session_stores",
		Help: "Session stores held by the client registry.",
	}, func() float64 { return float64(count()) }))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
