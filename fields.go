package pulse

import "github.com/zoobzio/capitan"

// Field keys for tracker events.
var (
	// KeyEngine is the engine identifier.
	KeyEngine = capitan.NewStringKey("engine")

	// KeyOldState is the state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyKind is the signal kind.
	KeyKind = capitan.NewStringKey("kind")

	// KeySequence is the global transition sequence number.
	KeySequence = capitan.NewIntKey("sequence")

	// KeyCause is the transition cause.
	KeyCause = capitan.NewStringKey("cause")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeySubscription is the subscription identifier.
	KeySubscription = capitan.NewStringKey("subscription")

	// KeyDropped is a subscription's cumulative loss count.
	KeyDropped = capitan.NewIntKey("dropped")

	// KeyThreshold is the configured debounce threshold.
	KeyThreshold = capitan.NewIntKey("threshold")

	// KeyWindow is the configured debounce window.
	KeyWindow = capitan.NewDurationKey("window")

	// KeySource is the type name of a signal source.
	KeySource = capitan.NewStringKey("source")
)
