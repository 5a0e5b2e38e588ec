// Package vdb resolves virtual databases onto the child engines that serve
// them.
//
// A VDB maps a logical database name onto one or more engines. A combinator
// fans a query out to every mapped engine; a distributor picks one, either
// at random (LoadBalance) or by preferring a primary (FailOver). Selection
// consults a Liveness view so confirmed-down engines are skipped.
package vdb

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/zoobzio/pulse"
)

var (
	// ErrPrimaryNotMapped is returned when a failover primary is not one of
	// the VDB's mapped engines.
	ErrPrimaryNotMapped = errors.New("primary engine is not mapped")

	// ErrNoEngine is returned when every mapped engine is down.
	ErrNoEngine = errors.New("no engine available")

	// ErrNotDistributor is returned when setting a primary on a combinator.
	ErrNotDistributor = errors.New("vdb is not a distributor")

	// ErrNotFailOver is returned when setting a primary on a load balancer.
	ErrNotFailOver = errors.New("vdb does not use failover")

	// ErrUnknownVDB is returned when resolving names the collection lacks.
	ErrUnknownVDB = errors.New("unknown vdb")

	// ErrInvalidVDB is returned when adding a malformed VDB to a collection.
	ErrInvalidVDB = errors.New("invalid vdb")
)

// Kind is the resolution strategy of a VDB.
type Kind int

const (
	// Combinator resolves to every mapped engine.
	Combinator Kind = iota

	// Distributor resolves to a single engine chosen by Method.
	Distributor
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Combinator:
		return "combinator"
	case Distributor:
		return "distributor"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "combinator":
		*k = Combinator
	case "distributor":
		*k = Distributor
	default:
		return fmt.Errorf("unknown vdb kind %q", text)
	}
	return nil
}

// Method is how a distributor picks its engine.
type Method int

const (
	// LoadBalance picks a random engine that is not down.
	LoadBalance Method = iota

	// FailOver picks the primary, or the first engine in mapping order that
	// is not down when the primary is.
	FailOver
)

// String returns the string representation of the method.
func (m Method) String() string {
	switch m {
	case LoadBalance:
		return "loadbalance"
	case FailOver:
		return "failover"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "loadbalance", "load_balance":
		*m = LoadBalance
	case "failover", "fail_over":
		*m = FailOver
	default:
		return fmt.Errorf("unknown distribution method %q", text)
	}
	return nil
}

// Mapping binds one engine to the database name it serves for a VDB.
type Mapping struct {
	Engine   pulse.EngineID `json:"engine" yaml:"engine"`
	Database string         `json:"database" yaml:"database"`
}

// Resolved is one engine selected for a query and the database match to
// send it.
type Resolved struct {
	Engine   pulse.EngineID `json:"engine"`
	Database string         `json:"database"`
}

// Liveness reports the confirmed state of an engine. *pulse.Tracker and
// *Follower implement it.
type Liveness interface {
	State(id pulse.EngineID) (pulse.EngineState, error)
}

// States is a fixed Liveness view.
type States map[pulse.EngineID]pulse.EngineState

// State returns the recorded state, or pulse.ErrNotFound.
func (s States) State(id pulse.EngineID) (pulse.EngineState, error) {
	state, ok := s[id]
	if !ok {
		return pulse.StateUnknown, pulse.ErrNotFound
	}
	return state, nil
}

// down reports whether live has confirmed the engine unavailable. Unknown
// and untracked engines count as available.
func down(live Liveness, id pulse.EngineID) bool {
	if live == nil {
		return false
	}
	state, err := live.State(id)
	return err == nil && state == pulse.StateDown
}

// VDB is a virtual database. Mapping order is significant: it is the
// failover order and the order combinator results are returned in.
type VDB struct {
	Name    string         `json:"name" yaml:"name"`
	Kind    Kind           `json:"kind" yaml:"kind"`
	Method  Method         `json:"method,omitempty" yaml:"method,omitempty"`
	Primary pulse.EngineID `json:"primary,omitempty" yaml:"primary,omitempty"`
	Mapping []Mapping      `json:"mapping" yaml:"mapping"`
}

// Validate checks the VDB is usable.
func (v *VDB) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidVDB)
	}
	if strings.Contains(v.Name, ",") {
		return fmt.Errorf("%w: name %q contains a comma", ErrInvalidVDB, v.Name)
	}
	if len(v.Mapping) == 0 {
		return fmt.Errorf("%w: %s has no mapped engines", ErrInvalidVDB, v.Name)
	}
	seen := make(map[pulse.EngineID]struct{}, len(v.Mapping))
	for _, m := range v.Mapping {
		if m.Engine == "" {
			return fmt.Errorf("%w: %s maps an empty engine id", ErrInvalidVDB, v.Name)
		}
		if _, dup := seen[m.Engine]; dup {
			return fmt.Errorf("%w: %s maps engine %s twice", ErrInvalidVDB, v.Name, m.Engine)
		}
		seen[m.Engine] = struct{}{}
	}
	if v.Kind == Distributor && v.Method == FailOver {
		if _, ok := v.database(v.Primary); !ok {
			return fmt.Errorf("%w: %s of vdb %s", ErrPrimaryNotMapped, v.Primary, v.Name)
		}
	}
	return nil
}

// SetPrimary changes the preferred engine of a failover distributor.
func (v *VDB) SetPrimary(engine pulse.EngineID) error {
	if v.Kind != Distributor {
		return fmt.Errorf("%w: %s", ErrNotDistributor, v.Name)
	}
	if v.Method != FailOver {
		return fmt.Errorf("%w: %s", ErrNotFailOver, v.Name)
	}
	if _, ok := v.database(engine); !ok {
		return fmt.Errorf("%w: %s of vdb %s", ErrPrimaryNotMapped, engine, v.Name)
	}
	v.Primary = engine
	return nil
}

// Select picks the engines a query against this VDB goes to. A nil live
// treats every engine as available.
func (v *VDB) Select(live Liveness) ([]Resolved, error) {
	switch v.Kind {
	case Combinator:
		return v.combine(live)
	case Distributor:
		if v.Method == FailOver {
			return v.failover(live)
		}
		return v.balance(live)
	default:
		return nil, fmt.Errorf("%w: %s has kind %d", ErrInvalidVDB, v.Name, v.Kind)
	}
}

func (v *VDB) combine(live Liveness) ([]Resolved, error) {
	out := make([]Resolved, 0, len(v.Mapping))
	for _, m := range v.Mapping {
		if !down(live, m.Engine) {
			out = append(out, Resolved(m))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: vdb %s", ErrNoEngine, v.Name)
	}
	return out, nil
}

func (v *VDB) balance(live Liveness) ([]Resolved, error) {
	candidates := make([]Mapping, 0, len(v.Mapping))
	for _, m := range v.Mapping {
		if !down(live, m.Engine) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: vdb %s", ErrNoEngine, v.Name)
	}
	return []Resolved{Resolved(candidates[rand.IntN(len(candidates))])}, nil
}

func (v *VDB) failover(live Liveness) ([]Resolved, error) {
	db, ok := v.database(v.Primary)
	if !ok {
		return nil, fmt.Errorf("%w: %s of vdb %s", ErrPrimaryNotMapped, v.Primary, v.Name)
	}
	if !down(live, v.Primary) {
		return []Resolved{{Engine: v.Primary, Database: db}}, nil
	}
	for _, m := range v.Mapping {
		if !down(live, m.Engine) {
			return []Resolved{Resolved(m)}, nil
		}
	}
	return nil, fmt.Errorf("%w: vdb %s", ErrNoEngine, v.Name)
}

func (v *VDB) database(engine pulse.EngineID) (string, bool) {
	for _, m := range v.Mapping {
		if m.Engine == engine {
			return m.Database, true
		}
	}
	return "", false
}
