// Package meta wires the regime tracker, gate engine, and allocators
// into a single per-timestamp allocation run. One Orchestrator owns
// one run's state; independent runs (parameter sweeps, parallel
// backtests) each construct their own.
package meta

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantlab/metaalloc/allocate"
	"github.com/quantlab/metaalloc/config"
	"github.com/quantlab/metaalloc/gates"
	"github.com/quantlab/metaalloc/internal/metrics"
	"github.com/quantlab/metaalloc/market"
	"github.com/quantlab/metaalloc/regime"
)

// ErrIncompleteInput marks a timestamp whose regime observation or
// strategy signals were not supplied. Inputs are pre-aligned by
// external adapters; a gap means the upstream data is wrong, so the
// run fails rather than guessing.
var ErrIncompleteInput = errors.New("incomplete input for timestamp")

// StateOrderViolation reports a Step call whose timestamp does not
// strictly follow the previous one. The hysteresis tracker's
// correctness depends on sequential processing, so this is fatal and
// leaves the run's state untouched.
type StateOrderViolation struct {
	Last time.Time
	Got  time.Time
}

func (e *StateOrderViolation) Error() string {
	return fmt.Sprintf("timestamp %s does not follow %s: run must be strictly increasing",
		e.Got.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

// ObservationSource supplies the regime observation for a timestamp.
type ObservationSource interface {
	Observation(ts time.Time) (regime.Observation, bool)
}

// SignalSource supplies the per-strategy signal set for a timestamp.
type SignalSource interface {
	Signals(ts time.Time) (market.SignalSet, bool)
}

// ContextSource supplies the feature context for a timestamp.
type ContextSource interface {
	Context(ts time.Time) (market.Context, bool)
}

// Inputs bundles the pre-loaded input streams for one run. Contexts
// is required only in gated mode.
type Inputs struct {
	Observations ObservationSource
	Signals      SignalSource
	Contexts     ContextSource
}

// Option customizes an Orchestrator at construction.
type Option func(*Orchestrator)

// WithLogger replaces the default global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.baseLogger = &logger }
}

// WithRegisterer registers the run's metrics on an external
// registerer instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) { o.registerer = reg }
}

// Orchestrator sequences one allocation run: per timestamp it fetches
// the regime observation and strategy signals, advances the
// hysteresis tracker, evaluates gates, dispatches to the configured
// allocator, and emits the final weights.
type Orchestrator struct {
	cfg     config.Config
	mode    allocate.Mode
	inputs  Inputs
	tracker *regime.Tracker
	engine  *gates.Engine
	soft    *allocate.Soft
	hard    *allocate.Hard
	base    allocate.BaseWeights

	runID      string
	baseLogger *zerolog.Logger
	logger     zerolog.Logger
	registerer prometheus.Registerer
	registry   *prometheus.Registry
	metrics    *metrics.Run

	started bool
	last    time.Time
}

// New validates the configuration and builds a run. A missing or
// unknown allocator mode is a *config.ConfigurationError; the run is
// refused outright.
func New(cfg config.Config, inputs Inputs, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:    cfg,
		mode:   cfg.Mode(),
		inputs: inputs,
		base:   cfg.BaseWeightTable(),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if inputs.Observations == nil {
		return nil, &config.ConfigurationError{Field: "inputs", Reason: "observation source required"}
	}
	if inputs.Signals == nil {
		return nil, &config.ConfigurationError{Field: "inputs", Reason: "signal source required"}
	}
	if o.mode == allocate.ModeGated && inputs.Contexts == nil {
		return nil, &config.ConfigurationError{Field: "inputs", Reason: "context source required in gated mode"}
	}

	o.tracker = regime.NewTracker(cfg.MinPersistence)

	engine, err := gates.NewEngine(cfg.Predicates())
	if err != nil {
		return nil, &config.ConfigurationError{Field: "gate_predicates", Reason: err.Error()}
	}
	o.engine = engine

	soft, err := allocate.NewSoft(cfg.PowerExponent)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "power_exponent", Reason: err.Error()}
	}
	o.soft = soft
	o.hard = allocate.NewHard(cfg.RedistributeOnGate)

	if o.registerer == nil {
		o.registry = prometheus.NewRegistry()
		o.registerer = o.registry
	}
	o.metrics = metrics.NewRun(o.registerer)

	if o.baseLogger == nil {
		o.baseLogger = &log.Logger
	}
	o.logger = o.baseLogger.With().
		Str("run_id", o.runID).
		Str("mode", string(o.mode)).
		Logger()

	o.metrics.SetActiveRegime("", regime.Uncertain.String())
	return o, nil
}

// RunID returns the unique identity of this run.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the tracker's current debounced state.
func (o *Orchestrator) State() regime.State { return o.tracker.State() }

// Registry returns the run's private metrics registry, or nil when an
// external registerer was supplied.
func (o *Orchestrator) Registry() *prometheus.Registry { return o.registry }

// Step processes one timestamp and returns its allocation. Timestamps
// must strictly increase across calls; a violation is rejected before
// any state is touched.
func (o *Orchestrator) Step(ts time.Time) (allocate.Weights, error) {
	if o.started && !ts.After(o.last) {
		return allocate.Weights{}, &StateOrderViolation{Last: o.last, Got: ts}
	}

	obs, ok := o.inputs.Observations.Observation(ts)
	if !ok {
		return allocate.Weights{}, fmt.Errorf("regime observation at %s: %w", ts.Format(time.RFC3339), ErrIncompleteInput)
	}
	signals, ok := o.inputs.Signals.Signals(ts)
	if !ok {
		return allocate.Weights{}, fmt.Errorf("strategy signals at %s: %w", ts.Format(time.RFC3339), ErrIncompleteInput)
	}
	for _, strategy := range o.cfg.Strategies {
		if _, ok := signals[strategy]; !ok {
			return allocate.Weights{}, fmt.Errorf("signal for strategy %s at %s: %w", strategy, ts.Format(time.RFC3339), ErrIncompleteInput)
		}
	}

	prev := o.tracker.State().Current
	state := o.tracker.Update(ts, obs.Label)
	if state.Current != prev {
		o.logger.Info().
			Time("ts", ts).
			Str("from", prev.String()).
			Str("to", state.Current.String()).
			Msg("regime transition confirmed")
		o.metrics.RegimeSwitches.WithLabelValues(prev.String(), state.Current.String()).Inc()
		o.metrics.SetActiveRegime(prev.String(), state.Current.String())
	}

	weights, err := o.dispatch(ts, obs, state)
	if err != nil {
		return allocate.Weights{}, err
	}

	o.started = true
	o.last = ts
	o.metrics.Steps.WithLabelValues(string(o.mode)).Inc()
	o.metrics.CashWeight.Set(weights.Cash)

	o.logger.Debug().
		Time("ts", ts).
		Str("regime", weights.Regime.String()).
		Float64("cash", weights.Cash).
		Msg("allocation step complete")
	return weights, nil
}

func (o *Orchestrator) dispatch(ts time.Time, obs regime.Observation, state regime.State) (allocate.Weights, error) {
	switch o.mode {
	case allocate.ModeSoft:
		conf := obs.Confidence
		if len(conf) == 0 {
			// Label-only observation: degenerate vector.
			conf = regime.Confidence{obs.Label: 1.0}
		}
		return o.soft.Allocate(ts, conf, o.base)

	case allocate.ModeHard:
		return o.hard.Allocate(ts, state.Current, nil, o.base)

	case allocate.ModeGated:
		decisions := o.evaluateGates(ts)
		return o.hard.Allocate(ts, state.Current, decisions, o.base)
	}
	// Unreachable: config.Validate rejects unknown modes.
	return allocate.Weights{}, &config.ConfigurationError{Field: "allocator_mode", Reason: "no allocator mode configured"}
}

// evaluateGates gates every configured strategy for one timestamp. A
// missing context row fails closed: every predicate sees an empty
// context and strategies with predicates become ineligible.
func (o *Orchestrator) evaluateGates(ts time.Time) map[string]gates.Decision {
	ctx, ok := o.inputs.Contexts.Context(ts)
	if !ok {
		ctx = market.Context{}
		o.logger.Warn().Time("ts", ts).Msg("no feature context for timestamp, gating fail-closed")
	}

	decisions := o.engine.EvaluateAll(ts, o.cfg.Strategies, ctx)
	for _, strategy := range o.cfg.Strategies {
		d := decisions[strategy]
		if d.Eligible {
			continue
		}
		o.metrics.GateDenials.WithLabelValues(strategy, string(d.Reason)).Inc()
		if d.Reason == gates.ReasonMissingContext {
			o.metrics.FailClosed.Inc()
			o.logger.Warn().
				Time("ts", ts).
				Str("strategy", strategy).
				Str("detail", d.Detail).
				Msg("strategy forced ineligible: missing context")
		} else {
			o.logger.Debug().
				Time("ts", ts).
				Str("strategy", strategy).
				Str("detail", d.Detail).
				Msg("strategy gated out")
		}
	}
	return decisions
}

// Run steps through the full timestamp range in order and returns one
// allocation per timestamp. The range is assumed finite and
// pre-sorted by the caller; any failure aborts the run.
func (o *Orchestrator) Run(timestamps []time.Time) ([]allocate.Weights, error) {
	out := make([]allocate.Weights, 0, len(timestamps))
	for _, ts := range timestamps {
		w, err := o.Step(ts)
		if err != nil {
			return nil, fmt.Errorf("allocation run aborted at %s: %w", ts.Format(time.RFC3339), err)
		}
		out = append(out, w)
	}
	o.logger.Info().Int("steps", len(out)).Msg("allocation run complete")
	return out, nil
}
