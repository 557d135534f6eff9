package allocate

import (
	"fmt"
	"time"

	"github.com/quantlab/metaalloc/regime"
)

// Soft blends base weight rows by regime confidence:
//
//	weight[s] = Σ_r confidence[r] * base[r][s]
//
// With Exponent > 1 the confidence vector is power-normalized first
// (raised elementwise, then rescaled to sum 1), which sharpens the
// commitment toward the dominant regime without a hard cutoff.
// Exponent 1 leaves the blend untouched.
type Soft struct {
	exponent float64
}

// NewSoft creates a soft allocator. Exponent 0 means unset and
// defaults to 1; anything else below 1 is rejected, since exponents
// under 1 would flatten commitment instead of sharpening it.
func NewSoft(exponent float64) (*Soft, error) {
	if exponent == 0 {
		exponent = 1.0
	}
	if exponent < 1 {
		return nil, fmt.Errorf("power exponent must be >= 1, got %g", exponent)
	}
	return &Soft{exponent: exponent}, nil
}

// Exponent returns the configured power-normalization exponent.
func (s *Soft) Exponent() float64 { return s.exponent }

// Allocate computes the blended weights for one timestamp. The
// confidence vector is normalized defensively, so score-like inputs
// work too. If the blend sums past 1 (a base row over-allocated), the
// result is rescaled proportionally down to 1; sums below 1 leave the
// remainder in cash.
func (s *Soft) Allocate(ts time.Time, conf regime.Confidence, base BaseWeights) (Weights, error) {
	if len(conf) == 0 {
		return Weights{}, fmt.Errorf("empty regime confidence at %s", ts.Format(time.RFC3339))
	}
	conf = conf.Normalize().Sharpen(s.exponent)

	blended := make(map[string]float64)
	for label, mass := range conf {
		for strategy, w := range base.Row(label) {
			blended[strategy] += mass * w
		}
	}

	total := 0.0
	for _, v := range blended {
		total += v
	}
	if total > 1+SumTolerance {
		scale := 1.0 / total
		for strategy := range blended {
			blended[strategy] *= scale
		}
		total = 1.0
	}

	cash := 1.0 - total
	if cash < 0 {
		cash = 0
	}

	label, _ := conf.Top()
	return Weights{
		Timestamp:  ts,
		Regime:     label,
		Mode:       ModeSoft,
		Strategies: blended,
		Cash:       cash,
	}, nil
}
