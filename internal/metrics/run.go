// Package metrics holds the Prometheus collectors for an allocation
// run. Every orchestrator owns its own registry so parallel runs with
// different parameters never collide on collector registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "metaalloc"

// Run aggregates the collectors updated while a run steps through its
// timestamp range.
type Run struct {
	RegimeSwitches *prometheus.CounterVec
	GateDenials    *prometheus.CounterVec
	Steps          *prometheus.CounterVec
	FailClosed     prometheus.Counter
	CashWeight     prometheus.Gauge
	ActiveRegime   *prometheus.GaugeVec
}

// NewRun creates the run collectors and registers them on reg.
func NewRun(reg prometheus.Registerer) *Run {
	r := &Run{
		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regime_switches_total",
				Help:      "Debounced regime transitions by from/to label",
			},
			[]string{"from", "to"},
		),
		GateDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_denials_total",
				Help:      "Strategies ruled ineligible by the gate engine, by reason",
			},
			[]string{"strategy", "reason"},
		),
		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Allocation steps completed by allocator mode",
			},
			[]string{"mode"},
		),
		FailClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fail_closed_total",
				Help:      "Gate decisions forced ineligible by missing context",
			},
		),
		CashWeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cash_weight",
				Help:      "Cash residual of the most recent allocation (0.0 to 1.0)",
			},
		),
		ActiveRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_regime",
				Help:      "1 for the currently held debounced regime label, 0 otherwise",
			},
			[]string{"regime"},
		),
	}

	reg.MustRegister(
		r.RegimeSwitches,
		r.GateDenials,
		r.Steps,
		r.FailClosed,
		r.CashWeight,
		r.ActiveRegime,
	)
	return r
}

// SetActiveRegime flips the active-regime gauge from one label to
// another.
func (r *Run) SetActiveRegime(from, to string) {
	if from != "" {
		r.ActiveRegime.WithLabelValues(from).Set(0)
	}
	r.ActiveRegime.WithLabelValues(to).Set(1)
}
