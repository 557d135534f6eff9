// Package market holds the input-side types the allocation core
// consumes: per-timestamp feature contexts and per-strategy signal
// sets. All data is produced by external feature/signal pipelines and
// pre-aligned on timestamp before a run begins.
package market

import (
	"math"
	"time"
)

// Context carries the feature values known for a single timestamp
// (e.g. realized volatility, momentum, drawdown). A feature that is
// absent from the map, or present as NaN, counts as missing.
type Context map[string]float64

// Value returns the named feature and whether it is usable.
// NaN is treated the same as absent so upstream gaps fail closed.
func (c Context) Value(name string) (float64, bool) {
	v, ok := c[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Has reports whether the named feature is present and non-NaN.
func (c Context) Has(name string) bool {
	_, ok := c.Value(name)
	return ok
}

// SignalSet maps strategy ID to its directional signal for one
// timestamp. Values are expected in [-1, 1]; the core does not scale
// them, it only requires their presence (no-gap invariant).
type SignalSet map[string]float64

// Signal is a single strategy's signal at one timestamp.
type Signal struct {
	Strategy  string    `json:"strategy"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
