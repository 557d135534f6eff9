package regime

import (
	"math"
	"time"

	"github.com/quantlab/metaalloc/market"
)

// Feature names the built-in classifiers read from the context.
const (
	FeatureMom20      = "mom_20"      // 20-bar momentum
	FeatureMom60      = "mom_60"      // 60-bar momentum
	FeatureVol20      = "vol_20"      // 20-bar annualized volatility
	FeatureDrawdown60 = "drawdown_60" // drawdown from 60-bar high (≤0)
)

func sigmoid(x, k float64) float64 {
	return 1.0 / (1.0 + math.Exp(-k*x))
}

// ScoreConfig parameterizes the sigmoid score classifier.
type ScoreConfig struct {
	Steepness    float64 `yaml:"steepness"`      // momentum/drawdown sigmoid k, default 8
	VolSteepness float64 `yaml:"vol_steepness"`  // volatility sigmoid k, default 12
	VolCap       float64 `yaml:"vol_cap"`        // vol above which meanrev is suppressed, default 0.40
	VolRiskPivot float64 `yaml:"vol_risk_pivot"` // vol at which cash risk score is 0.5, default 0.35
}

// DefaultScoreConfig returns the stock score classifier parameters.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Steepness:    8.0,
		VolSteepness: 12.0,
		VolCap:       0.40,
		VolRiskPivot: 0.35,
	}
}

// ScoreClassifier maps momentum/volatility/drawdown features into a
// smooth confidence vector over {trend, meanrev, cash}. Trend
// confidence rises with positive momentum on both horizons; meanrev
// confidence rises with negative short momentum and deeper drawdowns
// while volatility stays contained; cash absorbs weak signals and
// high volatility. It is stateless, so one instance can serve
// multiple runs.
type ScoreClassifier struct {
	cfg ScoreConfig
}

// NewScoreClassifier creates a score classifier. Zero-valued config
// fields fall back to their defaults.
func NewScoreClassifier(cfg ScoreConfig) *ScoreClassifier {
	def := DefaultScoreConfig()
	if cfg.Steepness <= 0 {
		cfg.Steepness = def.Steepness
	}
	if cfg.VolSteepness <= 0 {
		cfg.VolSteepness = def.VolSteepness
	}
	if cfg.VolCap <= 0 {
		cfg.VolCap = def.VolCap
	}
	if cfg.VolRiskPivot <= 0 {
		cfg.VolRiskPivot = def.VolRiskPivot
	}
	return &ScoreClassifier{cfg: cfg}
}

// Observe classifies one timestamp. Any missing or NaN feature yields
// a cash-only observation (fail-safe for warmup rows).
func (c *ScoreClassifier) Observe(ts time.Time, ctx market.Context) Observation {
	mom20, ok1 := ctx.Value(FeatureMom20)
	mom60, ok2 := ctx.Value(FeatureMom60)
	vol20, ok3 := ctx.Value(FeatureVol20)
	dd60, ok4 := ctx.Value(FeatureDrawdown60)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Observation{Timestamp: ts, Label: Cash, Confidence: Confidence{Cash: 1.0}}
	}

	k := c.cfg.Steepness
	trendScore := sigmoid(mom60, k) * sigmoid(mom20, k)
	meanrevScore := sigmoid(-mom20, k) * sigmoid(-dd60, k) * sigmoid(c.cfg.VolCap-vol20, c.cfg.VolSteepness)

	weakSignal := 1.0 - math.Max(trendScore, meanrevScore)
	volRisk := sigmoid(vol20-c.cfg.VolRiskPivot, 10.0)
	cashScore := 0.7*weakSignal + 0.3*volRisk

	conf := Confidence{
		Trend:   trendScore,
		MeanRev: meanrevScore,
		Cash:    cashScore,
	}.Normalize()

	label, _ := conf.Top()
	return Observation{Timestamp: ts, Label: label, Confidence: conf}
}

// RuleConfig holds the asymmetric enter/exit thresholds for the rule
// classifier. Enter bars are harder to clear than exit bars, which is
// what gives the label stream its stickiness.
type RuleConfig struct {
	TrendEnterMom60 float64 `yaml:"trend_enter_mom60"` // default 0.0
	TrendEnterMom20 float64 `yaml:"trend_enter_mom20"` // default -0.005
	TrendExitMom60  float64 `yaml:"trend_exit_mom60"`  // default -0.02
	TrendExitMom20  float64 `yaml:"trend_exit_mom20"`  // default -0.02

	MeanRevEnterMom20  float64 `yaml:"meanrev_enter_mom20"`   // default -0.025
	MeanRevEnterDD60   float64 `yaml:"meanrev_enter_dd60"`    // default -0.03
	MeanRevEnterVolMax float64 `yaml:"meanrev_enter_vol_max"` // default 0.40

	MeanRevExitMom20  float64 `yaml:"meanrev_exit_mom20"`   // default -0.005
	MeanRevExitDD60   float64 `yaml:"meanrev_exit_dd60"`    // default -0.01
	MeanRevExitVolMax float64 `yaml:"meanrev_exit_vol_max"` // default 0.45
}

// DefaultRuleConfig returns the stock enter/exit thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		TrendEnterMom60:    0.00,
		TrendEnterMom20:    -0.005,
		TrendExitMom60:     -0.02,
		TrendExitMom20:     -0.02,
		MeanRevEnterMom20:  -0.025,
		MeanRevEnterDD60:   -0.03,
		MeanRevEnterVolMax: 0.40,
		MeanRevExitMom20:   -0.005,
		MeanRevExitDD60:    -0.01,
		MeanRevExitVolMax:  0.45,
	}
}

// RuleClassifier labels timestamps with a previous-state-dependent
// enter/exit rule set: a held label persists until its exit condition
// fires, and a new label requires its enter condition. The classifier
// carries the previous label between calls, so each run needs its own
// instance. Confidence vectors are degenerate (all mass on the label).
type RuleClassifier struct {
	cfg  RuleConfig
	prev Regime
}

// NewRuleClassifier creates a rule classifier starting from cash.
func NewRuleClassifier(cfg RuleConfig) *RuleClassifier {
	return &RuleClassifier{cfg: cfg, prev: Cash}
}

// Prev returns the label held after the most recent observation.
func (c *RuleClassifier) Prev() Regime { return c.prev }

// Reset returns the classifier to its initial cash state.
func (c *RuleClassifier) Reset() { c.prev = Cash }

// Observe classifies one timestamp. Missing or NaN features force
// cash without disturbing exit/enter bookkeeping beyond the held
// label itself.
func (c *RuleClassifier) Observe(ts time.Time, ctx market.Context) Observation {
	label := c.decide(ctx)
	c.prev = label
	return Observation{Timestamp: ts, Label: label, Confidence: Confidence{label: 1.0}}
}

func (c *RuleClassifier) decide(ctx market.Context) Regime {
	mom20, ok1 := ctx.Value(FeatureMom20)
	mom60, ok2 := ctx.Value(FeatureMom60)
	vol20, ok3 := ctx.Value(FeatureVol20)
	dd60, ok4 := ctx.Value(FeatureDrawdown60)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Cash
	}

	p := c.cfg
	trendEnter := mom60 > p.TrendEnterMom60 && mom20 > p.TrendEnterMom20
	trendExit := mom60 < p.TrendExitMom60 || mom20 < p.TrendExitMom20

	meanrevEnter := mom20 < p.MeanRevEnterMom20 &&
		dd60 < p.MeanRevEnterDD60 &&
		vol20 < p.MeanRevEnterVolMax
	meanrevExit := mom20 > p.MeanRevExitMom20 ||
		dd60 > p.MeanRevExitDD60 ||
		vol20 > p.MeanRevExitVolMax

	switch c.prev {
	case Trend:
		if trendExit {
			if meanrevEnter {
				return MeanRev
			}
			return Cash
		}
		return Trend
	case MeanRev:
		if meanrevExit {
			if trendEnter {
				return Trend
			}
			return Cash
		}
		return MeanRev
	}

	if trendEnter {
		return Trend
	}
	if meanrevEnter {
		return MeanRev
	}
	return Cash
}
