package pulse

import "testing"

func TestNoOpMetricsProvider_DoesNotPanic(_ *testing.T) {
	var m NoOpMetricsProvider

	// These should not panic
	m.OnSignal(KindSuccess)
	m.OnTransition(StateUnknown, StateUp)
	m.OnRejected("not_found")
	m.OnDropped("sub")
	m.OnEngines(3)
}
