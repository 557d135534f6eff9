// Package allocate turns regime information into portfolio weights.
// It provides the soft (confidence-blended) and hard/gated (discrete
// row-select) allocators plus the shared weight types and invariant
// checks. Allocators are stateless aside from configuration; all
// run-level state lives with the orchestrator.
package allocate

import (
	"fmt"
	"time"

	"github.com/quantlab/metaalloc/regime"
)

// Mode selects which allocator produces the final weights.
type Mode string

const (
	ModeSoft  Mode = "soft"  // confidence-weighted blend across regimes
	ModeHard  Mode = "hard"  // single debounced-regime row, no gating
	ModeGated Mode = "gated" // hard row modulated by gate eligibility
)

// ParseMode validates an allocator mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSoft, ModeHard, ModeGated:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown allocator mode %q", s)
}

// SumTolerance is the slack allowed on weight-sum invariants before
// they count as violated. Blends accumulate float error; anything
// beyond this is a real configuration bug, not rounding.
const SumTolerance = 1e-6

// Weights is the allocation emitted for one timestamp. Strategy
// weights are non-negative and sum to at most 1; Cash carries the
// unallocated residual.
type Weights struct {
	Timestamp  time.Time          `json:"timestamp"`
	Regime     regime.Regime      `json:"regime"`
	Mode       Mode               `json:"mode"`
	Strategies map[string]float64 `json:"strategies"`
	Cash       float64            `json:"cash"`
}

// Total returns the summed strategy weight (excluding cash).
func (w Weights) Total() float64 {
	total := 0.0
	for _, v := range w.Strategies {
		total += v
	}
	return total
}

// AllocationInvariantError reports a weight vector whose sum exceeds
// 1 beyond tolerance. It is fatal: silently clipping would hide the
// misconfigured base weights that produced it.
type AllocationInvariantError struct {
	Timestamp time.Time
	Total     float64
	Detail    string
}

func (e *AllocationInvariantError) Error() string {
	return fmt.Sprintf("allocation invariant violated at %s: weights sum to %.6f (%s)",
		e.Timestamp.Format(time.RFC3339), e.Total, e.Detail)
}

// BaseWeights maps regime label -> strategy -> weight. A label with
// no row (Uncertain included) allocates fully to cash.
type BaseWeights map[regime.Regime]map[string]float64

// Row returns the weight row for a label, or nil when unmapped.
func (b BaseWeights) Row(r regime.Regime) map[string]float64 {
	return b[r]
}

// Validate checks every row against the configured strategy universe:
// no negative weights, no unknown strategies, and no row summing past
// 1 beyond tolerance. Rows summing below 1 are fine — the remainder
// is cash.
func (b BaseWeights) Validate(strategies []string) error {
	known := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		known[s] = true
	}
	for label, row := range b {
		total := 0.0
		for strategy, w := range row {
			if !known[strategy] {
				return fmt.Errorf("base weights for regime %s reference unknown strategy %q", label, strategy)
			}
			if w < 0 {
				return fmt.Errorf("base weight for regime %s strategy %s is negative (%g)", label, strategy, w)
			}
			total += w
		}
		if total > 1+SumTolerance {
			return fmt.Errorf("base weights for regime %s sum to %.6f, must be <= 1", label, total)
		}
	}
	return nil
}
