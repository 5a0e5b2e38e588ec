package pulse

import (
	"fmt"
	"time"
)

// Heartbeat is the wire form of a Signal used by network sources.
//
//	{"engine": "engine-1", "kind": "success", "observed_at": "2026-01-02T15:04:05Z"}
//
// observed_at is optional; when absent the receiving tracker stamps the
// signal on arrival.
type Heartbeat struct {
	Engine     EngineID   `json:"engine" yaml:"engine"`
	Kind       SignalKind `json:"kind" yaml:"kind"`
	ObservedAt *time.Time `json:"observed_at,omitempty" yaml:"observed_at,omitempty"`
}

// DecodeSignal decodes a heartbeat payload into a Signal.
func DecodeSignal(codec Codec, data []byte) (Signal, error) {
	var hb Heartbeat
	if err := codec.Unmarshal(data, &hb); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	sig := Signal{Engine: hb.Engine, Kind: hb.Kind}
	if hb.ObservedAt != nil {
		sig.ObservedAt = *hb.ObservedAt
	}
	if err := sig.validate(); err != nil {
		return Signal{}, err
	}
	return sig, nil
}

// EncodeSignal encodes a Signal as a heartbeat payload.
func EncodeSignal(codec Codec, sig Signal) ([]byte, error) {
	if err := sig.validate(); err != nil {
		return nil, err
	}
	hb := Heartbeat{Engine: sig.Engine, Kind: sig.Kind}
	if !sig.ObservedAt.IsZero() {
		at := sig.ObservedAt.UTC()
		hb.ObservedAt = &at
	}
	return codec.Marshal(hb)
}
