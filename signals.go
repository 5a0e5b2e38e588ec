package pulse

import "github.com/zoobzio/capitan"

// Engine lifecycle signals.
var (
	// EngineRegistered is emitted when an engine enters the registry,
	// explicitly or on first signal.
	EngineRegistered = capitan.NewSignal(
		"pulse.engine.registered",
		"Engine registered",
	)

	// EngineDeregistered is emitted when an engine is removed from the registry.
	EngineDeregistered = capitan.NewSignal(
		"pulse.engine.deregistered",
		"Engine deregistered",
	)

	// EngineTransitioned is emitted for every confirmed transition.
	EngineTransitioned = capitan.NewSignal(
		"pulse.engine.transition",
		"Engine state transition",
	)
)

// Signal ingestion signals.
var (
	// SignalReceived is emitted for every accepted liveness signal.
	SignalReceived = capitan.NewSignal(
		"pulse.signal.received",
		"Liveness signal received",
	)

	// SignalRejected is emitted when a signal is refused (unknown engine,
	// invalid payload).
	SignalRejected = capitan.NewSignal(
		"pulse.signal.rejected",
		"Liveness signal rejected",
	)

	// SubscriberOverloaded is emitted when a subscription drops a transition.
	SubscriberOverloaded = capitan.NewSignal(
		"pulse.subscriber.overloaded",
		"Subscriber queue overflowed",
	)
)

// Source signals.
var (
	// SourceStarted is emitted when the tracker begins consuming a source.
	SourceStarted = capitan.NewSignal(
		"pulse.source.started",
		"Signal source started",
	)

	// SourceStopped is emitted when a source's channel closes or its context ends.
	SourceStopped = capitan.NewSignal(
		"pulse.source.stopped",
		"Signal source stopped",
	)

	// SourceDecodeFailed is emitted by backend sources for payloads that do
	// not decode into a signal.
	SourceDecodeFailed = capitan.NewSignal(
		"pulse.source.decode.failed",
		"Signal payload could not be decoded",
	)

	// ProbeFailed is emitted by a Prober when a probe returns an error.
	ProbeFailed = capitan.NewSignal(
		"pulse.probe.failed",
		"Engine probe failed",
	)
)

// Configuration signals.
var (
	// ConfigApplied is emitted when a new policy takes effect.
	ConfigApplied = capitan.NewSignal(
		"pulse.config.applied",
		"Tracker config applied",
	)

	// ConfigRejected is emitted when a configuration update fails to decode
	// or validate. The previous policy stays in effect.
	ConfigRejected = capitan.NewSignal(
		"pulse.config.rejected",
		"Tracker config rejected",
	)
)
