package integration

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/pulse"
)

// newTracker creates a tracker that is closed when the test ends.
func newTracker(t *testing.T, threshold int) *pulse.Tracker {
	t.Helper()
	tracker, err := pulse.New(pulse.Config{Threshold: threshold, Window: time.Minute, QueueSize: 64})
	if err != nil {
		t.Fatalf("pulse.New() error = %v", err)
	}
	t.Cleanup(tracker.Close)
	return tracker
}

// watch attaches src to tracker for the lifetime of the test.
func watch(t *testing.T, tracker *pulse.Tracker, src pulse.Source) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := tracker.Watch(ctx, src); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	return ctx
}
