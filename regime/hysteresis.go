package regime

import "time"

// DefaultMinPersistence is the evidence threshold used when a tracker
// is constructed with a non-positive value.
const DefaultMinPersistence = 3

// State is the debounced regime state for one tracked series. Exactly
// one State exists per run; it is mutated only by its Tracker.
type State struct {
	Current      Regime    `json:"current"`
	Since        time.Time `json:"since"`
	BarsInState  int       `json:"bars_in_state"`
	Pending      Regime    `json:"pending,omitempty"`
	PendingCount int       `json:"pending_count"`
}

// Tracker debounces a raw regime label stream. A candidate label must
// be observed for MinPersistence consecutive updates before the
// tracked state switches; while evidence accumulates, Current holds.
// If the raw stream reverts before the threshold is met, the pending
// candidate is discarded entirely — no partial credit survives an
// interruption.
//
// Updates are strictly sequential; the state at one timestamp depends
// on the state at the previous one. Callers must not share a Tracker
// across concurrent runs.
type Tracker struct {
	minPersistence int
	state          State
}

// NewTracker creates a tracker starting in Uncertain with zero
// evidence. Non-positive minPersistence falls back to the default.
func NewTracker(minPersistence int) *Tracker {
	if minPersistence < 1 {
		minPersistence = DefaultMinPersistence
	}
	return &Tracker{
		minPersistence: minPersistence,
		state:          State{Current: Uncertain},
	}
}

// MinPersistence returns the configured evidence threshold.
func (t *Tracker) MinPersistence() int { return t.minPersistence }

// State returns a copy of the current debounced state.
func (t *Tracker) State() State { return t.state }

// Update feeds one raw label into the state machine and returns the
// resulting state. Ordering is the caller's responsibility; the
// orchestrator rejects non-monotonic timestamps before calling here.
func (t *Tracker) Update(ts time.Time, raw Regime) State {
	s := &t.state
	s.BarsInState++

	if raw == s.Current {
		// Raw stream agrees with the held state: any pending
		// candidate was interrupted and loses all its evidence.
		s.Pending = ""
		s.PendingCount = 0
		return *s
	}

	if raw == s.Pending {
		s.PendingCount++
	} else {
		s.Pending = raw
		s.PendingCount = 1
	}

	if s.PendingCount >= t.minPersistence {
		s.Current = raw
		s.Since = ts
		s.BarsInState = 1
		s.Pending = ""
		s.PendingCount = 0
	}
	return *s
}
