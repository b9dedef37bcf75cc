// Package metrics exposes Prometheus metrics for the authorization
// gate: decision outcomes, decision latency, and key-material refresh
// activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes recorded per authenticated request.
const (
	OutcomeAllowed       = "allowed"
	OutcomeDenied        = "denied"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeMissingHeader = "missing_header"
)

// Metrics holds the gate's Prometheus collectors on a private registry.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	keyRefreshTotal  *prometheus.CounterVec
	revocationErrors prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry, including the
// standard Go and process collectors.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of gate decisions by outcome",
		},
		[]string{"outcome"},
	)

	decisionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Latency of gate decisions",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	keyRefreshTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "refresh_total",
			Help:      "Key material refresh attempts by result",
		},
		[]string{"result"},
	)

	revocationErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revocation",
			Name:      "errors_total",
			Help:      "Deny-list lookups that failed",
		},
	)

	registry.MustRegister(decisionsTotal, decisionDuration, keyRefreshTotal, revocationErrors)

	return &Metrics{
		decisionsTotal:   decisionsTotal,
		decisionDuration: decisionDuration,
		keyRefreshTotal:  keyRefreshTotal,
		revocationErrors: revocationErrors,
		registry:         registry,
	}
}

// RecordDecision counts one gate decision and its latency.
func (m *Metrics) RecordDecision(outcome string, duration time.Duration) {
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.decisionDuration.Observe(duration.Seconds())
}

// RecordKeyRefresh counts one key-material fetch attempt. The result
// is "success" or "failure".
func (m *Metrics) RecordKeyRefresh(result string) {
	m.keyRefreshTotal.WithLabelValues(result).Inc()
}

// RecordRevocationError counts one failed deny-list lookup.
func (m *Metrics) RecordRevocationError() {
	m.revocationErrors.Inc()
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
