package allocate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/metaalloc/regime"
)

var softTS = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func twoStrategyBase() BaseWeights {
	return BaseWeights{
		regime.Trend:   {"A": 1.0},
		regime.MeanRev: {"B": 1.0},
	}
}

func TestNewSoft(t *testing.T) {
	s, err := NewSoft(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Exponent())

	_, err = NewSoft(0.5)
	assert.Error(t, err)

	s, err = NewSoft(2.0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Exponent())
}

func TestSoft_BlendSumsToOneWithFullRows(t *testing.T) {
	s, err := NewSoft(1.0)
	require.NoError(t, err)

	conf := regime.Confidence{regime.Trend: 0.9, regime.MeanRev: 0.1}
	w, err := s.Allocate(softTS, conf, twoStrategyBase())
	require.NoError(t, err)

	assert.InDelta(t, 0.9, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.1, w.Strategies["B"], 1e-9)
	assert.InDelta(t, 1.0, w.Total(), 1e-9)
	assert.InDelta(t, 0.0, w.Cash, 1e-9)
	assert.Equal(t, ModeSoft, w.Mode)
	assert.Equal(t, regime.Trend, w.Regime)
}

func TestSoft_PartialRowsLeaveCashResidual(t *testing.T) {
	s, err := NewSoft(1.0)
	require.NoError(t, err)

	base := BaseWeights{
		regime.Trend: {"A": 0.5},
		regime.Cash:  {},
	}
	conf := regime.Confidence{regime.Trend: 0.5, regime.Cash: 0.5}
	w, err := s.Allocate(softTS, conf, base)
	require.NoError(t, err)

	assert.InDelta(t, 0.25, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.75, w.Cash, 1e-9)
	assert.LessOrEqual(t, w.Total(), 1.0+SumTolerance)
}

func TestSoft_PowerNormalizationSharpens(t *testing.T) {
	// Spec scenario: regimes {trend, meanrev}, confidence stream
	// [{0.9, 0.1}, {0.6, 0.4}], identity base weights, exponent 2.
	sharp, err := NewSoft(2.0)
	require.NoError(t, err)
	flat, err := NewSoft(1.0)
	require.NoError(t, err)

	base := twoStrategyBase()

	// Step 1: 0.81/0.82 vs plain 0.9.
	conf := regime.Confidence{regime.Trend: 0.9, regime.MeanRev: 0.1}
	w, err := sharp.Allocate(softTS, conf, base)
	require.NoError(t, err)
	assert.InDelta(t, 81.0/82.0, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 1.0/82.0, w.Strategies["B"], 1e-9)

	plain, err := flat.Allocate(softTS, conf, base)
	require.NoError(t, err)
	assert.Greater(t, w.Strategies["A"], plain.Strategies["A"])

	// Step 2: 0.36/0.52 vs plain 0.6.
	ts2 := softTS.AddDate(0, 0, 1)
	conf = regime.Confidence{regime.Trend: 0.6, regime.MeanRev: 0.4}
	w, err = sharp.Allocate(ts2, conf, base)
	require.NoError(t, err)
	assert.InDelta(t, 0.36/0.52, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.16/0.52, w.Strategies["B"], 1e-9)

	plain, err = flat.Allocate(ts2, conf, base)
	require.NoError(t, err)
	assert.Greater(t, w.Strategies["A"], plain.Strategies["A"])
}

func TestSoft_ExponentOneMatchesUnnormalizedBlend(t *testing.T) {
	s, err := NewSoft(1.0)
	require.NoError(t, err)

	base := BaseWeights{
		regime.Trend:   {"A": 0.7, "B": 0.3},
		regime.MeanRev: {"A": 0.2, "B": 0.8},
	}
	conf := regime.Confidence{regime.Trend: 0.6, regime.MeanRev: 0.4}
	w, err := s.Allocate(softTS, conf, base)
	require.NoError(t, err)

	assert.InDelta(t, 0.6*0.7+0.4*0.2, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.6*0.3+0.4*0.8, w.Strategies["B"], 1e-9)
}

func TestSoft_OverAllocatedRowRescalesPostBlend(t *testing.T) {
	s, err := NewSoft(1.0)
	require.NoError(t, err)

	base := BaseWeights{regime.Trend: {"A": 1.2, "B": 0.6}}
	conf := regime.Confidence{regime.Trend: 1.0}
	w, err := s.Allocate(softTS, conf, base)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, w.Total(), 1e-9)
	assert.InDelta(t, 2.0/3.0, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 1.0/3.0, w.Strategies["B"], 1e-9)
	assert.InDelta(t, 0.0, w.Cash, 1e-9)
}

func TestSoft_ScoreLikeConfidenceIsNormalized(t *testing.T) {
	s, err := NewSoft(1.0)
	require.NoError(t, err)

	// Raw scores, not a probability vector.
	conf := regime.Confidence{regime.Trend: 3.0, regime.MeanRev: 1.0}
	w, err := s.Allocate(softTS, conf, twoStrategyBase())
	require.NoError(t, err)

	assert.InDelta(t, 0.75, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.25, w.Strategies["B"], 1e-9)
}

func TestSoft_EmptyConfidenceIsError(t *testing.T) {
	s, err := NewSoft(1.0)
	require.NoError(t, err)

	_, err = s.Allocate(softTS, regime.Confidence{}, twoStrategyBase())
	assert.Error(t, err)
}
