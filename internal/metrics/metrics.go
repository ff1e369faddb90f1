// Package metrics exposes Prometheus collectors for the security layer. Each
// Metrics value owns its registry so tests and embedded servers never share
// global state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imprintr/guard/internal/audit"
)

const namespace = "guard"

type Metrics struct {
	registry *prometheus.Registry

	decisions *prometheus.CounterVec
	events    *prometheus.CounterVec
	calls     *prometheus.CounterVec
	throttled prometheus.Counter
}

// New builds the collectors. withRuntime adds the Go and process collectors,
// which the server wants and tests do not.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "ratelimit", Name: "decisions_total", Help: "Rate limiter decisions by scope and outcome."},
			[]string{"scope", "outcome"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "audit", Name: "events_total", Help: "Security events emitted by type and risk level."},
			[]string{"event_type", "risk_level"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "calls", Name: "total", Help: "Guarded calls by scope and result."},
			[]string{"scope", "result"},
		),
		throttled: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "http", Name: "throttled_total", Help: "Requests rejected by the edge throttle."},
		),
	}
	m.registry.MustRegister(m.decisions, m.events, m.calls, m.throttled)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(scope string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisions.WithLabelValues(scope, outcome).Inc()
}

// ObserveEvent matches audit.Observer.
func (m *Metrics) ObserveEvent(e audit.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(e.Type, string(e.Risk)).Inc()
}

func (m *Metrics) ObserveCall(scope, result string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) ObserveThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}
