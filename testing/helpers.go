// Package testing provides test utilities for code built on pulse trackers.
package testing

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/pulse"
)

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForState waits until the engine reaches the expected state or timeout
// occurs.
func WaitForState(t *testing.T, tracker *pulse.Tracker, id pulse.EngineID, expected pulse.EngineState, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		state, err := tracker.State(id)
		return err == nil && state == expected
	})
}

// RequireState fails the test immediately if the engine is not registered or
// not in the expected state.
func RequireState(t *testing.T, tracker *pulse.Tracker, id pulse.EngineID, expected pulse.EngineState) {
	t.Helper()
	got, err := tracker.State(id)
	if err != nil {
		t.Fatalf("State(%s) error = %v", id, err)
	}
	if got != expected {
		t.Fatalf("engine %s: expected state %s, got %s", id, expected, got)
	}
}

// RequireTransition receives the next transition from sub and fails the test
// unless it moves engine from one state to the other within timeout.
func RequireTransition(t *testing.T, sub *pulse.Subscription, engine pulse.EngineID, from, to pulse.EngineState, timeout time.Duration) pulse.Transition {
	t.Helper()
	select {
	case tr, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		if tr.Engine != engine || tr.From != from || tr.To != to {
			t.Fatalf("expected %s %s->%s, got %v", engine, from, to, tr)
		}
		return tr
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for %s %s->%s", engine, from, to)
	}
	return pulse.Transition{}
}

// RequireNoTransition fails the test if sub delivers anything within wait.
func RequireNoTransition(t *testing.T, sub *pulse.Subscription, wait time.Duration) {
	t.Helper()
	select {
	case tr := <-sub.C():
		t.Fatalf("unexpected transition %v", tr)
	case <-time.After(wait):
	}
}

// NewTestTracker creates a tracker fed by a synchronous channel source.
// Signals sent on the returned channel are ingested in order by a goroutine
// bound to the test; the tracker is closed on cleanup.
func NewTestTracker(t *testing.T, cfg pulse.Config) (*pulse.Tracker, chan<- pulse.Signal) {
	t.Helper()
	tracker, err := pulse.New(cfg)
	if err != nil {
		t.Fatalf("pulse.New() error = %v", err)
	}

	ch := make(chan pulse.Signal, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tracker.Run(ctx, pulse.NewSyncChannelSource(ch)) //nolint:errcheck // ends with the test
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		tracker.Close()
	})
	return tracker, ch
}

// Beats returns n signals of one kind for an engine, spaced gap apart from
// start.
func Beats(id pulse.EngineID, kind pulse.SignalKind, n int, start time.Time, gap time.Duration) []pulse.Signal {
	out := make([]pulse.Signal, n)
	for i := range out {
		out[i] = pulse.Signal{Engine: id, Kind: kind, ObservedAt: start.Add(time.Duration(i) * gap)}
	}
	return out
}

// IngestAll ingests signals in order and fails the test on the first error.
// It returns the number of signals that changed an engine's state.
func IngestAll(t *testing.T, tracker *pulse.Tracker, signals []pulse.Signal) int {
	t.Helper()
	changed := 0
	for _, sig := range signals {
		ok, err := tracker.Ingest(context.Background(), sig)
		if err != nil {
			t.Fatalf("Ingest(%+v) error = %v", sig, err)
		}
		if ok {
			changed++
		}
	}
	return changed
}
