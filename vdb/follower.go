package vdb

import (
	"context"
	"sync"

	"github.com/zoobzio/pulse"
)

// Follower keeps a local liveness view fed by a tracker's transitions and
// resolves a Collection against it.
//
// The view is seeded from a snapshot taken after subscribing. Transitions
// already reflected in the snapshot are recognized by their From state not
// matching the view and skipped, so the view converges on the tracker's
// state without ever blocking it. A transition out of Unknown is always
// applied: Unknown only belongs to a fresh registry entry, so it also
// replaces whatever the view kept for an engine that was deregistered
// while Down or Unknown. A gap in Sequence means the subscription
// overflowed, and the view is re-seeded from a fresh snapshot.
type Follower struct {
	tracker    *pulse.Tracker
	collection *Collection
	sub        *pulse.Subscription

	mu      sync.RWMutex
	state   map[pulse.EngineID]pulse.EngineState
	lastSeq uint64
}

// NewFollower subscribes to tracker and seeds the view. Call Run to keep it
// current and Close to release the subscription.
func NewFollower(tracker *pulse.Tracker, collection *Collection) *Follower {
	sub := tracker.Subscribe()
	return &Follower{
		tracker:    tracker,
		collection: collection,
		sub:        sub,
		state:      tracker.Snapshot(),
	}
}

// Run applies transitions until the context ends or the subscription is
// closed.
func (f *Follower) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-f.sub.C():
			if !ok {
				return nil
			}
			f.apply(t)
		}
	}
}

func (f *Follower) apply(t pulse.Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()

	gap := f.lastSeq != 0 && t.Sequence != f.lastSeq+1
	f.lastSeq = t.Sequence
	if gap {
		f.state = f.tracker.Snapshot()
		return
	}

	current, ok := f.state[t.Engine]
	if ok && current != t.From && t.From != pulse.StateUnknown {
		return
	}
	if t.Cause == pulse.CauseDeregistered {
		delete(f.state, t.Engine)
		return
	}
	f.state[t.Engine] = t.To
}

// State implements Liveness.
func (f *Follower) State(id pulse.EngineID) (pulse.EngineState, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	state, ok := f.state[id]
	if !ok {
		return pulse.StateUnknown, pulse.ErrNotFound
	}
	return state, nil
}

// Resolve resolves match against the follower's view.
func (f *Follower) Resolve(match string) ([]Resolved, error) {
	return f.collection.Resolve(match, f)
}

// Close releases the subscription. Run returns once it drains.
func (f *Follower) Close() {
	f.sub.Close()
}
