// Package metrics exposes Prometheus instrumentation for the paste service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Consume outcomes
const (
	OutcomeServed      = "served"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	pastesCreated *prometheus.CounterVec
	consumes      *prometheus.CounterVec
	storeOps      *prometheus.HistogramVec
}

// New registers all collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pastesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vanish",
			Name:      "pastes_created_total",
			Help:      "Pastes created, by applied policy.",
		}, []string{"policy"}),
		consumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vanish",
			Name:      "paste_consumes_total",
			Help:      "Consume attempts, by outcome.",
		}, []string{"outcome"}),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vanish",
			Name:      "store_operation_duration_seconds",
			Help:      "Record store call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op", "result"}),
	}
	m.registry.MustRegister(
		m.pastesCreated,
		m.consumes,
		m.storeOps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCreate counts a created paste. policy is one of none, ttl,
// views or ttl+views.
func (m *Metrics) ObserveCreate(hasTTL, hasViews bool) {
	if m == nil {
		return
	}
	policy := "none"
	switch {
	case hasTTL && hasViews:
		policy = "ttl+views"
	case hasTTL:
		policy = "ttl"
	case hasViews:
		policy = "views"
	}
	m.pastesCreated.WithLabelValues(policy).Inc()
}

// ObserveConsume counts a consume attempt
func (m *Metrics) ObserveConsume(outcome string) {
	if m == nil {
		return
	}
	m.consumes.WithLabelValues(outcome).Inc()
}

// ObserveStoreOp records the latency of a single store call
func (m *Metrics) ObserveStoreOp(backend, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeOps.WithLabelValues(backend, op, result).Observe(d.Seconds())
}
