package allocate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/metaalloc/gates"
	"github.com/quantlab/metaalloc/regime"
)

var hardTS = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func decisionsFor(eligibility map[string]bool) map[string]gates.Decision {
	out := make(map[string]gates.Decision, len(eligibility))
	for strategy, ok := range eligibility {
		d := gates.Decision{Strategy: strategy, Timestamp: hardTS, Eligible: ok, Reason: gates.ReasonPass}
		if !ok {
			d.Reason = gates.ReasonPredicateFailed
		}
		out[strategy] = d
	}
	return out
}

func TestHard_UngatedSelectsRegimeRow(t *testing.T) {
	h := NewHard(true)
	base := BaseWeights{regime.Trend: {"A": 0.6, "B": 0.4}}

	w, err := h.Allocate(hardTS, regime.Trend, nil, base)
	require.NoError(t, err)

	assert.Equal(t, ModeHard, w.Mode)
	assert.Equal(t, regime.Trend, w.Regime)
	assert.InDelta(t, 0.6, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.4, w.Strategies["B"], 1e-9)
	assert.InDelta(t, 0.0, w.Cash, 1e-9)
}

func TestHard_UnmappedRegimeAllocatesCash(t *testing.T) {
	h := NewHard(true)
	base := BaseWeights{regime.Trend: {"A": 1.0}}

	for _, label := range []regime.Regime{regime.Uncertain, regime.Cash, regime.Regime("unknown")} {
		w, err := h.Allocate(hardTS, label, nil, base)
		require.NoError(t, err)
		assert.Empty(t, w.Strategies)
		assert.InDelta(t, 1.0, w.Cash, 1e-9)
	}
}

func TestHard_RedistributionPreservesTotal(t *testing.T) {
	// The single most important behavior: A:0.6, B:0.4, A gated out,
	// redistribute on — B absorbs everything, total unchanged.
	h := NewHard(true)
	base := BaseWeights{regime.Trend: {"A": 0.6, "B": 0.4}}

	w, err := h.Allocate(hardTS, regime.Trend, decisionsFor(map[string]bool{"A": false, "B": true}), base)
	require.NoError(t, err)

	assert.Equal(t, ModeGated, w.Mode)
	assert.InDelta(t, 0.0, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 1.0, w.Strategies["B"], 1e-9)
	assert.InDelta(t, 1.0, w.Total(), 1e-9)
	assert.InDelta(t, 0.0, w.Cash, 1e-9)
}

func TestHard_RedistributionIsProportional(t *testing.T) {
	h := NewHard(true)
	base := BaseWeights{regime.Trend: {"A": 0.5, "B": 0.3, "C": 0.2}}

	w, err := h.Allocate(hardTS, regime.Trend, decisionsFor(map[string]bool{"A": true, "B": true, "C": false}), base)
	require.NoError(t, err)

	// A and B keep their 5:3 ratio while absorbing C's 0.2.
	assert.InDelta(t, 0.625, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.375, w.Strategies["B"], 1e-9)
	assert.InDelta(t, 0.0, w.Strategies["C"], 1e-9)
	assert.InDelta(t, 1.0, w.Total(), 1e-9)
}

func TestHard_NoRedistributionLeavesCashResidual(t *testing.T) {
	h := NewHard(false)
	base := BaseWeights{regime.Trend: {"A": 0.6, "B": 0.4}}

	w, err := h.Allocate(hardTS, regime.Trend, decisionsFor(map[string]bool{"A": false, "B": true}), base)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, w.Strategies["A"], 1e-9)
	assert.InDelta(t, 0.4, w.Strategies["B"], 1e-9)
	assert.InDelta(t, 0.6, w.Cash, 1e-9)
	assert.Less(t, w.Total(), 1.0)
}

func TestHard_AllGatedOutGoesFullyToCash(t *testing.T) {
	for _, redistribute := range []bool{true, false} {
		h := NewHard(redistribute)
		base := BaseWeights{regime.Trend: {"A": 0.6, "B": 0.4}}

		w, err := h.Allocate(hardTS, regime.Trend, decisionsFor(map[string]bool{"A": false, "B": false}), base)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, w.Total(), 1e-9)
		assert.InDelta(t, 1.0, w.Cash, 1e-9)
	}
}

func TestHard_AbsentDecisionCountsEligible(t *testing.T) {
	h := NewHard(true)
	base := BaseWeights{regime.Trend: {"A": 0.6, "B": 0.4}}

	w, err := h.Allocate(hardTS, regime.Trend, decisionsFor(map[string]bool{"A": false}), base)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w.Strategies["B"], 1e-9)
}

func TestHard_OverAllocatedRowIsInvariantError(t *testing.T) {
	h := NewHard(true)
	base := BaseWeights{regime.Trend: {"A": 0.8, "B": 0.6}}

	_, err := h.Allocate(hardTS, regime.Trend, nil, base)
	require.Error(t, err)

	var invariant *AllocationInvariantError
	require.True(t, errors.As(err, &invariant))
	assert.InDelta(t, 1.4, invariant.Total, 1e-9)
}
