package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	stockGuardFailures prometheus.Counter
	ledgerRollbacks    prometheus.Counter
	lockContention     prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	guardFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_stock_guard_failures_total",
		Help: "Guarded stock decrements rejected for insufficient stock.",
	})
	rollbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_ledger_rollbacks_total",
		Help: "Inventory ledger batches rolled back after a partial failure.",
	})
	contention := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_order_lock_contention_total",
		Help: "Order mutations rejected because the advisory lock was held.",
	})
	registry.MustRegister(requests, duration, guardFailures, rollbacks, contention)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		stockGuardFailures: guardFailures,
		ledgerRollbacks:    rollbacks,
		lockContention:     contention,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
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

// StockGuardFailure counts a rejected guarded decrement.
func (m *Metrics) StockGuardFailure() {
	if m != nil {
		m.stockGuardFailures.Inc()
	}
}

// LedgerRollback counts a compensated ledger batch.
func (m *Metrics) LedgerRollback() {
	if m != nil {
		m.ledgerRollbacks.Inc()
	}
}

// LockContention counts an advisory-lock rejection.
func (m *Metrics) LockContention() {
	if m != nil {
		m.lockContention.Inc()
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
