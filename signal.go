package pulse

import (
	"fmt"
	"time"
)

// EngineID identifies a child engine. It is opaque to the tracker and must
// stay stable for as long as the engine is registered.
type EngineID string

// SignalKind is the outcome carried by a single liveness observation.
type SignalKind int

const (
	// KindSuccess reports a heartbeat or a successful probe.
	KindSuccess SignalKind = iota + 1

	// KindFailure reports a failed probe.
	KindFailure

	// KindTimeout reports a probe or heartbeat that did not arrive in time.
	KindTimeout
)

// String returns the wire name of the kind.
func (k SignalKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindTimeout:
		return "timeout"
	default:
		return "invalid"
	}
}

// Valid reports whether k is one of the defined kinds.
func (k SignalKind) Valid() bool {
	return k >= KindSuccess && k <= KindTimeout
}

// Candidate maps a kind to the state it argues for.
// Success argues for Up; Failure and Timeout argue for Down.
func (k SignalKind) Candidate() EngineState {
	if k == KindSuccess {
		return StateUp
	}
	return StateDown
}

// MarshalText implements encoding.TextMarshaler.
func (k SignalKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid signal kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SignalKind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind parses the wire name of a signal kind.
func ParseKind(s string) (SignalKind, error) {
	switch s {
	case "success":
		return KindSuccess, nil
	case "failure":
		return KindFailure, nil
	case "timeout":
		return KindTimeout, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, s)
	}
}

// Signal is a single timestamped liveness observation for one engine.
// A zero ObservedAt is stamped with the tracker's clock on ingest.
type Signal struct {
	Engine     EngineID
	Kind       SignalKind
	ObservedAt time.Time
}

// validate checks the fields a tracker relies on.
func (s Signal) validate() error {
	if s.Engine == "" {
		return fmt.Errorf("%w: empty engine id", ErrInvalidSignal)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: invalid kind %d for engine %s", ErrInvalidSignal, int(s.Kind), s.Engine)
	}
	return nil
}
