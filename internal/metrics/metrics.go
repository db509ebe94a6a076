// Package metrics exposes per-session Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskdash/pkg/models"
)

const namespace = "riskdash"

var phases = []models.Phase{
	models.PhaseIdle,
	models.PhaseUploading,
	models.PhasePredicting,
	models.PhaseAwaitingEmailAnalysis,
	models.PhaseDone,
}

// Metrics holds the collectors of one session. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	events     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	flagged    *prometheus.CounterVec
	outbound   *prometheus.CounterVec
	riskPoints prometheus.Counter
	resets     prometheus.Counter
	phase      *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events processed, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_payloads_total",
			Help:      "Malformed payloads dropped from derived state, by kind.",
		}, []string{"kind"}),
		flagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flagged_activities_total",
			Help:      "Activities filed as high risk, by category.",
		}, []string{"category"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_calls_total",
			Help:      "Outbound channel calls, by kind and result.",
		}, []string{"kind", "result"}),
		riskPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_points_total",
			Help:      "Risk points extracted from producer logs.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resets_total",
			Help:      "Full state resets triggered by uploads.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_phase",
			Help:      "1 for the current workflow phase, 0 otherwise.",
		}, []string{"phase"}),
	}
	m.registry.MustRegister(m.events, m.dropped, m.flagged, m.outbound, m.riskPoints, m.resets, m.phase)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.SetPhase(models.PhaseIdle)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(kind models.Kind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Dropped(kind models.Kind) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Flagged(category models.Category) {
	if m == nil {
		return
	}
	m.flagged.WithLabelValues(string(category)).Inc()
}

// Outbound records the result of an outbound call.
func (m *Metrics) Outbound(kind models.Kind, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.outbound.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) RiskPoint() {
	if m == nil {
		return
	}
	m.riskPoints.Inc()
}

// SessionReset counts a full reset of the derived state.
func (m *Metrics) SessionReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

// SetPhase marks p as the current phase.
func (m *Metrics) SetPhase(p models.Phase) {
	if m == nil {
		return
	}
	for _, ph := range phases {
		v := 0.0
		if ph == p {
			v = 1
		}
		m.phase.WithLabelValues(string(ph)).Set(v)
	}
}
