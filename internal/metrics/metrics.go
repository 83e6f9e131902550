// Package metrics exposes the assistant's Prometheus collectors. Every
// method is safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aspri"

// Turn outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeStaged   = "staged"
	OutcomeReply    = "reply"
	OutcomeFailed   = "failed"
)

type Metrics struct {
	reg          *prometheus.Registry
	turns        *prometheus.CounterVec
	intents      *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	providerFail *prometheus.CounterVec
	executions   *prometheus.CounterVec
	turnDuration prometheus.Histogram
}

// New registers the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns processed, by outcome.",
		}, []string{"outcome"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classified intents, by module and action.",
		}, []string{"module", "action"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_transitions_total",
			Help:      "Pending action transitions, by target status.",
		}, []string{"to"}),
		providerFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Model provider calls that failed, by provider id.",
		}, []string{"provider"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executed actions, by module and success.",
		}, []string{"module", "success"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one chat turn.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	m.reg.MustRegister(
		m.turns, m.intents, m.transitions, m.providerFail, m.executions, m.turnDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Turn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

func (m *Metrics) Intent(module, action string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(module, action).Inc()
}

func (m *Metrics) PendingTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ProviderFailure(providerID string) {
	if m == nil {
		return
	}
	m.providerFail.WithLabelValues(providerID).Inc()
}

func (m *Metrics) Execution(module string, success bool) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(module, strconv.FormatBool(success)).Inc()
}
