package pulse

import "fmt"

// EngineState is the confirmed liveness classification of a child engine.
type EngineState int32

const (
	// StateUnknown indicates no transition has been confirmed for the engine
	// yet. Every newly registered engine starts here and never returns to it.
	StateUnknown EngineState = iota

	// StateUp indicates the engine has been confirmed alive.
	StateUp

	// StateDown indicates the engine has been confirmed unavailable.
	StateDown
)

// String returns the string representation of the state.
func (s EngineState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EngineState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unknown":
		*s = StateUnknown
	case "up":
		*s = StateUp
	case "down":
		*s = StateDown
	default:
		return fmt.Errorf("unknown engine state %q", text)
	}
	return nil
}
