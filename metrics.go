package pulse

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key tracker events.
type MetricsProvider interface {
	// OnSignal is called for every accepted signal.
	OnSignal(kind SignalKind)

	// OnTransition is called for every confirmed transition.
	OnTransition(from, to EngineState)

	// OnRejected is called when a signal is refused.
	// Reason is "not_found" or "invalid".
	OnRejected(reason string)

	// OnDropped is called each time a subscription drops a transition.
	OnDropped(subscription string)

	// OnEngines is called with the registry size after it changes.
	OnEngines(count int)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnSignal(_ SignalKind)         {}
func (NoOpMetricsProvider) OnTransition(_, _ EngineState) {}
func (NoOpMetricsProvider) OnRejected(_ string)           {}
func (NoOpMetricsProvider) OnDropped(_ string)            {}
func (NoOpMetricsProvider) OnEngines(_ int)               {}
