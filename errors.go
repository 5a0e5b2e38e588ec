package pulse

import "errors"

var (
	// ErrAlreadyRegistered is returned when registering an engine twice.
	ErrAlreadyRegistered = errors.New("engine already registered")

	// ErrNotFound is returned for operations on an engine that is not
	// registered, including signals when explicit registration is required.
	ErrNotFound = errors.New("engine not found")

	// ErrSubscriberOverloaded is reported by a Subscription whose queue
	// overflowed and dropped transitions.
	ErrSubscriberOverloaded = errors.New("subscriber overloaded")

	// ErrInvalidSignal is returned for signals with an empty engine id or an
	// undefined kind.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrClosed is returned by operations on a closed tracker.
	ErrClosed = errors.New("tracker closed")
)
