// Package metrics holds the Prometheus collectors exported by the Centace
// service. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "centace"

// Metrics is a set of collectors bound to one registry.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sessionWarnings prometheus.Counter
	sessionLogouts  *prometheus.CounterVec
	sessionsActive  prometheus.Gauge

	notificationEvents *prometheus.CounterVec
	notificationSyncs  prometheus.Gauge

	rateFetches *prometheus.CounterVec
	errorsLogged *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),

		sessionWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "warnings_total",
			Help:      "Inactivity warnings shown.",
		}),
		sessionLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logouts_total",
			Help:      "Inactivity logouts by sign-out result.",
		}, []string{"result"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "tracked",
			Help:      "Sessions currently tracked by the inactivity registry.",
		}),

		notificationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "events_total",
			Help:      "Notification cache events by kind.",
		}, []string{"kind"}),
		notificationSyncs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "syncs",
			Help:      "Per-user notification syncs currently running.",
		}),

		rateFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "currency",
			Name:      "rate_lookups_total",
			Help:      "Exchange-rate lookups by the source that answered them.",
		}, []string{"source"}),
		errorsLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errorlog",
			Name:      "entries_total",
			Help:      "Client errors received by type and severity.",
		}, []string{"type", "severity"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.sessionWarnings,
		m.sessionLogouts,
		m.sessionsActive,
		m.notificationEvents,
		m.notificationSyncs,
		m.rateFetches,
		m.errorsLogged,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() {
	if m != nil {
		m.httpInFlight.Inc()
	}
}

func (m *Metrics) DecrementInFlight() {
	if m != nil {
		m.httpInFlight.Dec()
	}
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

func (m *Metrics) SessionWarning() {
	if m != nil {
		m.sessionWarnings.Inc()
	}
}

// SessionLogout records an inactivity logout; ok reports whether the
// hosted-backend sign-out succeeded.
func (m *Metrics) SessionLogout(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sessionLogouts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetSessionsTracked(n int) {
	if m != nil {
		m.sessionsActive.Set(float64(n))
	}
}

// NotificationEvent counts cache events: insert, duplicate, read, read_all,
// delete, refresh, resubscribe.
func (m *Metrics) NotificationEvent(kind string) {
	if m != nil {
		m.notificationEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetNotificationSyncs(n int) {
	if m != nil {
		m.notificationSyncs.Set(float64(n))
	}
}

// RateLookup counts which tier answered a rate lookup: fresh, fetched,
// stale or default.
func (m *Metrics) RateLookup(source string) {
	if m != nil {
		m.rateFetches.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ErrorLogged(errorType, severity string) {
	if m != nil {
		m.errorsLogged.WithLabelValues(errorType, severity).Inc()
	}
}
