package market

import "time"

// SignalTable is an in-memory, pre-loaded signal stream. It satisfies
// the orchestrator's SignalSource interface. Lookups are keyed by the
// instant (UnixNano) so wall-clock monotonic readings and locations
// do not affect equality.
type SignalTable struct {
	rows map[int64]SignalSet
}

// NewSignalTable creates an empty signal table.
func NewSignalTable() *SignalTable {
	return &SignalTable{rows: make(map[int64]SignalSet)}
}

// Put stores the signal set for a timestamp, replacing any prior row.
func (t *SignalTable) Put(ts time.Time, set SignalSet) {
	t.rows[ts.UnixNano()] = set
}

// Signals returns the signal set for a timestamp.
func (t *SignalTable) Signals(ts time.Time) (SignalSet, bool) {
	set, ok := t.rows[ts.UnixNano()]
	return set, ok
}

// ContextTable is an in-memory, pre-loaded feature context stream.
// It satisfies the orchestrator's ContextSource interface.
type ContextTable struct {
	rows map[int64]Context
}

// NewContextTable creates an empty context table.
func NewContextTable() *ContextTable {
	return &ContextTable{rows: make(map[int64]Context)}
}

// Put stores the feature context for a timestamp.
func (t *ContextTable) Put(ts time.Time, ctx Context) {
	t.rows[ts.UnixNano()] = ctx
}

// Context returns the feature context for a timestamp.
func (t *ContextTable) Context(ts time.Time) (Context, bool) {
	ctx, ok := t.rows[ts.UnixNano()]
	return ctx, ok
}
