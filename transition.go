package pulse

import (
	"fmt"
	"time"
)

// Cause records why a transition was produced.
type Cause int

const (
	// CauseSignal marks a transition confirmed by the debounce policy.
	CauseSignal Cause = iota

	// CauseDeregistered marks the final Up -> Down transition synthesized
	// when an Up engine is deregistered.
	CauseDeregistered
)

// String returns the string representation of the cause.
func (c Cause) String() string {
	switch c {
	case CauseSignal:
		return "signal"
	case CauseDeregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cause) UnmarshalText(text []byte) error {
	switch string(text) {
	case "signal":
		*c = CauseSignal
	case "deregistered":
		*c = CauseDeregistered
	default:
		return fmt.Errorf("unknown transition cause %q", text)
	}
	return nil
}

// Transition is a confirmed change of an engine's state.
//
// Sequence is assigned from a single counter shared by all engines, so
// subscribers observe one total order matching the order in which the
// tracker completed the corresponding mutations.
type Transition struct {
	Engine   EngineID    `json:"engine"`
	From     EngineState `json:"from"`
	To       EngineState `json:"to"`
	At       time.Time   `json:"at"`
	Sequence uint64      `json:"sequence"`
	Cause    Cause       `json:"cause"`
}

// String returns a compact human-readable form.
func (t Transition) String() string {
	return fmt.Sprintf("#%d %s %s->%s (%s)", t.Sequence, t.Engine, t.From, t.To, t.Cause)
}
