package allocate

import (
	"time"

	"github.com/quantlab/metaalloc/gates"
	"github.com/quantlab/metaalloc/regime"
)

// Hard selects the single base weight row for the current regime
// label and, when gate decisions are supplied, zeroes out ineligible
// strategies. The label fed here must be the hysteresis-tracked one,
// not the raw classifier output — feeding raw labels reintroduces
// exactly the whipsaw the tracker exists to remove.
type Hard struct {
	redistribute bool
}

// NewHard creates a hard/gated allocator. With redistribute true, the
// weight of gated-out strategies is spread proportionally across the
// remaining eligible strategies that held nonzero weight, keeping the
// allocated total constant. With redistribute false, freed weight
// stays in cash.
func NewHard(redistribute bool) *Hard {
	return &Hard{redistribute: redistribute}
}

// Redistribute reports the configured redistribution mode.
func (h *Hard) Redistribute() bool { return h.redistribute }

// Allocate computes the weights for one timestamp. A nil decisions
// map skips gating entirely (plain hard mode); a strategy absent from
// a non-nil map counts as eligible, since only configured strategies
// are ever gated. Labels with no base row — Uncertain included —
// allocate fully to cash.
func (h *Hard) Allocate(ts time.Time, current regime.Regime, decisions map[string]gates.Decision, base BaseWeights) (Weights, error) {
	mode := ModeHard
	if decisions != nil {
		mode = ModeGated
	}

	out := Weights{
		Timestamp:  ts,
		Regime:     current,
		Mode:       mode,
		Strategies: make(map[string]float64),
		Cash:       1.0,
	}

	row := base.Row(current)
	if len(row) == 0 {
		return out, nil
	}

	rowTotal := 0.0
	keptTotal := 0.0
	for strategy, w := range row {
		rowTotal += w
		if eligible(decisions, strategy) {
			out.Strategies[strategy] = w
			keptTotal += w
		} else {
			out.Strategies[strategy] = 0
		}
	}

	if h.redistribute && keptTotal > 0 && keptTotal < rowTotal {
		scale := rowTotal / keptTotal
		for strategy, w := range out.Strategies {
			if w > 0 {
				out.Strategies[strategy] = w * scale
			}
		}
	}

	total := out.Total()
	if total > 1+SumTolerance {
		return Weights{}, &AllocationInvariantError{
			Timestamp: ts,
			Total:     total,
			Detail:    "base weight row for regime " + current.String() + " over-allocates",
		}
	}

	out.Cash = 1.0 - total
	if out.Cash < 0 {
		out.Cash = 0
	}
	return out, nil
}

func eligible(decisions map[string]gates.Decision, strategy string) bool {
	if decisions == nil {
		return true
	}
	d, ok := decisions[strategy]
	if !ok {
		return true
	}
	return d.Eligible
}
