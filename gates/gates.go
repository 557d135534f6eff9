// Package gates implements per-strategy eligibility filtering. A
// strategy passes its gate for a timestamp only when every configured
// predicate over the feature context holds; a missing or NaN feature
// fails closed with a distinguishing reason code. The engine is a
// pure function of its inputs — logging and metrics stay with the
// orchestrator.
package gates

import (
	"fmt"
	"time"

	"github.com/quantlab/metaalloc/market"
)

// Op is a predicate comparator.
type Op string

const (
	OpGT    Op = "gt"     // feature > threshold
	OpGE    Op = "ge"     // feature >= threshold
	OpLT    Op = "lt"     // feature < threshold
	OpLE    Op = "le"     // feature <= threshold
	OpAbsGT Op = "abs_gt" // |feature| > threshold
	OpAbsLT Op = "abs_lt" // |feature| < threshold
)

// ParseOp validates a comparator string from configuration.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpGT, OpGE, OpLT, OpLE, OpAbsGT, OpAbsLT:
		return Op(s), nil
	}
	return "", fmt.Errorf("unknown gate comparator %q", s)
}

// Predicate is one boolean condition over a context feature.
type Predicate struct {
	Feature   string  `yaml:"feature" json:"feature"`
	Op        Op      `yaml:"op" json:"op"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// Validate checks the comparator and feature name.
func (p Predicate) Validate() error {
	if p.Feature == "" {
		return fmt.Errorf("gate predicate has empty feature name")
	}
	if _, err := ParseOp(string(p.Op)); err != nil {
		return err
	}
	return nil
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %g", p.Feature, p.Op, p.Threshold)
}

// Eval applies the predicate to a context. A missing or NaN feature
// returns a *MissingContextError; the decision layer converts that
// into fail-closed ineligibility rather than aborting the run.
func (p Predicate) Eval(ctx market.Context) (bool, error) {
	v, ok := ctx.Value(p.Feature)
	if !ok {
		return false, &MissingContextError{Feature: p.Feature}
	}
	switch p.Op {
	case OpGT:
		return v > p.Threshold, nil
	case OpGE:
		return v >= p.Threshold, nil
	case OpLT:
		return v < p.Threshold, nil
	case OpLE:
		return v <= p.Threshold, nil
	case OpAbsGT:
		return abs(v) > p.Threshold, nil
	case OpAbsLT:
		return abs(v) < p.Threshold, nil
	}
	return false, fmt.Errorf("unknown gate comparator %q", p.Op)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// MissingContextError reports a feature a predicate needed but the
// context did not carry. It is recovered locally (strategy forced
// ineligible for the timestamp), never fatal to the run.
type MissingContextError struct {
	Feature string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("context feature %q missing or NaN", e.Feature)
}

// Reason classifies why a gate decision came out the way it did.
type Reason string

const (
	ReasonPass            Reason = "pass"
	ReasonPredicateFailed Reason = "predicate_failed"
	ReasonMissingContext  Reason = "missing_context"
)

// Decision is the gate outcome for one strategy at one timestamp.
type Decision struct {
	Strategy  string    `json:"strategy"`
	Timestamp time.Time `json:"timestamp"`
	Eligible  bool      `json:"eligible"`
	Reason    Reason    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
}

// Engine evaluates the configured predicates per strategy. Strategies
// with no predicates are always eligible. The engine holds no mutable
// state, so one instance is safe across parallel runs.
type Engine struct {
	predicates map[string][]Predicate
}

// NewEngine creates an engine from per-strategy predicate lists,
// validating every predicate up front.
func NewEngine(predicates map[string][]Predicate) (*Engine, error) {
	for strategy, preds := range predicates {
		for _, p := range preds {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("strategy %s: %w", strategy, err)
			}
		}
	}
	cloned := make(map[string][]Predicate, len(predicates))
	for strategy, preds := range predicates {
		cloned[strategy] = append([]Predicate(nil), preds...)
	}
	return &Engine{predicates: cloned}, nil
}

// Predicates returns the configured predicates for a strategy.
func (e *Engine) Predicates(strategy string) []Predicate {
	return e.predicates[strategy]
}

// Evaluate gates one strategy at one timestamp. Missing context takes
// precedence over ordinary predicate failure so a data gap is never
// mistaken for a deliberate rejection.
func (e *Engine) Evaluate(strategy string, ts time.Time, ctx market.Context) Decision {
	d := Decision{Strategy: strategy, Timestamp: ts}

	preds := e.predicates[strategy]
	if len(preds) == 0 {
		d.Eligible = true
		d.Reason = ReasonPass
		return d
	}

	for _, p := range preds {
		if !ctx.Has(p.Feature) {
			d.Eligible = false
			d.Reason = ReasonMissingContext
			d.Detail = (&MissingContextError{Feature: p.Feature}).Error()
			return d
		}
	}

	for _, p := range preds {
		pass, err := p.Eval(ctx)
		if err != nil {
			d.Eligible = false
			d.Reason = ReasonMissingContext
			d.Detail = err.Error()
			return d
		}
		if !pass {
			d.Eligible = false
			d.Reason = ReasonPredicateFailed
			d.Detail = p.String()
			return d
		}
	}

	d.Eligible = true
	d.Reason = ReasonPass
	return d
}

// EvaluateAll gates every listed strategy for one timestamp. The
// strategy slice fixes the evaluation order, keeping logs and metrics
// deterministic across runs.
func (e *Engine) EvaluateAll(ts time.Time, strategies []string, ctx market.Context) map[string]Decision {
	out := make(map[string]Decision, len(strategies))
	for _, strategy := range strategies {
		out[strategy] = e.Evaluate(strategy, ts, ctx)
	}
	return out
}
