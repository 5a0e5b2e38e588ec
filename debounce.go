package pulse

import "time"

// debounceRecord is the per-engine bookkeeping consulted by the policy.
// It is owned by exactly one registry entry.
type debounceRecord struct {
	consecutive    int
	lastKind       SignalKind
	lastObservedAt time.Time
	pending        *EngineState
	seen           bool
}

// policy decides when consecutive signals confirm a transition.
type policy struct {
	threshold int
	window    time.Duration
}

func newPolicy(cfg Config) policy {
	return policy{threshold: cfg.Threshold, window: cfg.Window}
}

// step folds sig into rec given the confirmed state and reports the state the
// engine should move to, if any. It never touches anything but rec.
func (p policy) step(rec *debounceRecord, current EngineState, sig Signal) (EngineState, bool) {
	if rec.seen && sig.ObservedAt.Sub(rec.lastObservedAt) > p.window {
		rec.consecutive = 0
	}

	if rec.seen && sig.Kind == rec.lastKind {
		rec.consecutive++
	} else {
		rec.lastKind = sig.Kind
		rec.consecutive = 1
	}

	// Out-of-order arrivals never rewind the window reference.
	if !rec.seen || sig.ObservedAt.After(rec.lastObservedAt) {
		rec.lastObservedAt = sig.ObservedAt
	}
	rec.seen = true

	candidate := sig.Kind.Candidate()
	if candidate == current {
		rec.pending = nil
		return current, false
	}

	if rec.consecutive >= p.threshold {
		rec.consecutive = 0
		rec.pending = nil
		return candidate, true
	}

	rec.pending = &candidate
	return current, false
}
