// Package regime provides the market-regime side of the allocation
// core: regime labels, confidence vectors, the hysteresis tracker
// that debounces noisy label streams, and two reference classifiers
// that turn feature contexts into regime observations.
package regime

import (
	"math"
	"sort"
	"time"

	"github.com/quantlab/metaalloc/market"
)

// Regime is a discrete market-condition label. The set is open-ended;
// configurations define their own labels. The constants below are the
// labels used by the default trend/meanrev setup.
type Regime string

const (
	// Uncertain is the tracker's initial state before any label has
	// accumulated enough evidence. No base weight row maps to it, so
	// it allocates to cash.
	Uncertain Regime = "uncertain"

	Trend   Regime = "trend"
	MeanRev Regime = "meanrev"
	Cash    Regime = "cash"
)

func (r Regime) String() string { return string(r) }

// confidenceEps guards renormalization against all-zero vectors.
const confidenceEps = 1e-12

// Confidence is a probability mass over regime labels. A valid vector
// has entries in [0, 1] summing to 1; Normalize produces one from any
// non-negative score vector.
type Confidence map[Regime]float64

// Normalize rescales the vector to sum to 1. Negative entries are
// clamped to zero first. An all-zero vector normalizes to uncertain.
func (c Confidence) Normalize() Confidence {
	out := make(Confidence, len(c))
	total := 0.0
	for r, v := range c {
		if v < 0 || math.IsNaN(v) {
			v = 0
		}
		out[r] = v
		total += v
	}
	if total < confidenceEps {
		return Confidence{Uncertain: 1.0}
	}
	for r := range out {
		out[r] /= total
	}
	return out
}

// Sharpen raises each entry to the given exponent and renormalizes.
// Exponent 1 returns an unmodified copy; larger exponents concentrate
// mass on the dominant regime without a hard cutoff.
func (c Confidence) Sharpen(exponent float64) Confidence {
	if exponent == 1.0 {
		out := make(Confidence, len(c))
		for r, v := range c {
			out[r] = v
		}
		return out
	}
	out := make(Confidence, len(c))
	for r, v := range c {
		out[r] = math.Pow(math.Max(v, 0), exponent)
	}
	return out.Normalize()
}

// Top returns the label holding the largest mass. Ties break on label
// order so the result is deterministic.
func (c Confidence) Top() (Regime, float64) {
	labels := make([]Regime, 0, len(c))
	for r := range c {
		labels = append(labels, r)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	best, bestMass := Uncertain, math.Inf(-1)
	for _, r := range labels {
		if c[r] > bestMass {
			best, bestMass = r, c[r]
		}
	}
	if math.IsInf(bestMass, -1) {
		return Uncertain, 0
	}
	return best, bestMass
}

// Observation is one timestamp's regime classification: a discrete
// label plus the confidence vector behind it. For purely rule-based
// classifiers the vector is degenerate (all mass on Label).
type Observation struct {
	Timestamp  time.Time  `json:"timestamp"`
	Label      Regime     `json:"label"`
	Confidence Confidence `json:"confidence"`
}

// Source produces regime observations from feature contexts. The two
// built-in classifiers implement it; external classifier adapters can
// supply their own.
type Source interface {
	Observe(ts time.Time, ctx market.Context) Observation
}

// ObservationTable is an in-memory, pre-loaded observation stream for
// runs whose classifications were produced offline. It satisfies the
// orchestrator's ObservationSource interface.
type ObservationTable struct {
	rows map[int64]Observation
}

// NewObservationTable creates an empty observation table.
func NewObservationTable() *ObservationTable {
	return &ObservationTable{rows: make(map[int64]Observation)}
}

// Put stores the observation for its timestamp.
func (t *ObservationTable) Put(obs Observation) {
	t.rows[obs.Timestamp.UnixNano()] = obs
}

// Observation returns the stored observation for a timestamp.
func (t *ObservationTable) Observation(ts time.Time) (Observation, bool) {
	obs, ok := t.rows[ts.UnixNano()]
	return obs, ok
}
