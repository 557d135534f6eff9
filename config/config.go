// Package config loads and validates the allocation run
// configuration from YAML. Validation failures surface as
// *ConfigurationError and are fatal — a run never starts on a
// configuration it cannot fully trust.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/quantlab/metaalloc/allocate"
	"github.com/quantlab/metaalloc/gates"
	"github.com/quantlab/metaalloc/regime"
)

// ConfigurationError reports an invalid or missing configuration
// value. No retry makes sense; the configuration itself is wrong.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// PredicateSpec is the YAML form of one gate predicate.
type PredicateSpec struct {
	Feature   string  `yaml:"feature"`
	Op        string  `yaml:"op"`
	Threshold float64 `yaml:"threshold"`
}

// Config is the full configuration for one allocation run.
type Config struct {
	AllocatorMode      string                        `yaml:"allocator_mode"`       // soft | hard | gated
	MinPersistence     int                           `yaml:"min_persistence"`      // hysteresis evidence threshold, default 3
	PowerExponent      float64                       `yaml:"power_exponent"`       // soft sharpening, default 1.0
	RedistributeOnGate bool                          `yaml:"redistribute_on_gate"` // gated mode redistribution
	Strategies         []string                      `yaml:"strategies"`
	Regimes            []string                      `yaml:"regimes"`
	BaseWeights        map[string]map[string]float64 `yaml:"base_weights"`    // regime -> strategy -> weight
	GatePredicates     map[string][]PredicateSpec    `yaml:"gate_predicates"` // strategy -> predicates
}

// Default returns the stock two-strategy trend/meanrev configuration,
// matching the reference classifiers in the regime package: each
// regime routes fully into its namesake strategy, the cash regime
// holds no positions, and the gates keep trend out of downtrends and
// meanrev out of strong trends, both out of violent volatility.
func Default() Config {
	return Config{
		AllocatorMode:      string(allocate.ModeGated),
		MinPersistence:     regime.DefaultMinPersistence,
		PowerExponent:      1.0,
		RedistributeOnGate: true,
		Strategies:         []string{"trend", "meanrev"},
		Regimes:            []string{"trend", "meanrev", "cash"},
		BaseWeights: map[string]map[string]float64{
			"trend":   {"trend": 1.0},
			"meanrev": {"meanrev": 1.0},
			"cash":    {},
		},
		GatePredicates: map[string][]PredicateSpec{
			"trend": {
				{Feature: regime.FeatureVol20, Op: string(gates.OpLT), Threshold: 0.60},
				{Feature: regime.FeatureMom60, Op: string(gates.OpGT), Threshold: 0.0},
			},
			"meanrev": {
				{Feature: regime.FeatureVol20, Op: string(gates.OpLT), Threshold: 0.60},
				{Feature: regime.FeatureMom60, Op: string(gates.OpAbsLT), Threshold: 0.10},
			},
		},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals a YAML configuration, applies defaults for
// omitted tuning knobs, and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinPersistence == 0 {
		c.MinPersistence = regime.DefaultMinPersistence
	}
	if c.PowerExponent == 0 {
		c.PowerExponent = 1.0
	}
}

// Validate checks the configuration end to end. All failures are
// *ConfigurationError.
func (c Config) Validate() error {
	if c.AllocatorMode == "" {
		return &ConfigurationError{Field: "allocator_mode", Reason: "no allocator mode configured"}
	}
	if _, err := allocate.ParseMode(c.AllocatorMode); err != nil {
		return &ConfigurationError{Field: "allocator_mode", Reason: err.Error()}
	}
	if c.MinPersistence < 1 {
		return &ConfigurationError{Field: "min_persistence", Reason: fmt.Sprintf("must be >= 1, got %d", c.MinPersistence)}
	}
	if c.PowerExponent < 1 {
		return &ConfigurationError{Field: "power_exponent", Reason: fmt.Sprintf("must be >= 1, got %g", c.PowerExponent)}
	}
	if len(c.Strategies) == 0 {
		return &ConfigurationError{Field: "strategies", Reason: "at least one strategy required"}
	}
	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if s == "" {
			return &ConfigurationError{Field: "strategies", Reason: "empty strategy id"}
		}
		if seen[s] {
			return &ConfigurationError{Field: "strategies", Reason: fmt.Sprintf("duplicate strategy %q", s)}
		}
		seen[s] = true
	}
	if len(c.Regimes) == 0 {
		return &ConfigurationError{Field: "regimes", Reason: "at least one regime label required"}
	}
	knownRegimes := make(map[string]bool, len(c.Regimes))
	for _, r := range c.Regimes {
		if r == "" {
			return &ConfigurationError{Field: "regimes", Reason: "empty regime label"}
		}
		knownRegimes[r] = true
	}

	for label := range c.BaseWeights {
		if !knownRegimes[label] {
			return &ConfigurationError{Field: "base_weights", Reason: fmt.Sprintf("row for unknown regime %q", label)}
		}
	}
	if err := c.BaseWeightTable().Validate(c.Strategies); err != nil {
		return &ConfigurationError{Field: "base_weights", Reason: err.Error()}
	}

	for strategy, specs := range c.GatePredicates {
		if !seen[strategy] {
			return &ConfigurationError{Field: "gate_predicates", Reason: fmt.Sprintf("predicates for unknown strategy %q", strategy)}
		}
		for _, spec := range specs {
			if spec.Feature == "" {
				return &ConfigurationError{Field: "gate_predicates", Reason: fmt.Sprintf("strategy %s: empty feature name", strategy)}
			}
			if _, err := gates.ParseOp(spec.Op); err != nil {
				return &ConfigurationError{Field: "gate_predicates", Reason: fmt.Sprintf("strategy %s: %v", strategy, err)}
			}
		}
	}
	return nil
}

// Mode returns the parsed allocator mode. Call Validate first.
func (c Config) Mode() allocate.Mode {
	return allocate.Mode(c.AllocatorMode)
}

// BaseWeightTable converts the YAML base weights into the typed
// allocation table.
func (c Config) BaseWeightTable() allocate.BaseWeights {
	table := make(allocate.BaseWeights, len(c.BaseWeights))
	for label, row := range c.BaseWeights {
		typed := make(map[string]float64, len(row))
		for strategy, w := range row {
			typed[strategy] = w
		}
		table[regime.Regime(label)] = typed
	}
	return table
}

// Predicates converts the YAML gate specs into typed predicates.
func (c Config) Predicates() map[string][]gates.Predicate {
	out := make(map[string][]gates.Predicate, len(c.GatePredicates))
	for strategy, specs := range c.GatePredicates {
		preds := make([]gates.Predicate, 0, len(specs))
		for _, spec := range specs {
			preds = append(preds, gates.Predicate{
				Feature:   spec.Feature,
				Op:        gates.Op(spec.Op),
				Threshold: spec.Threshold,
			})
		}
		out[strategy] = preds
	}
	return out
}
