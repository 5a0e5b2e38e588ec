package pulse

import (
	"fmt"
	"sort"
	"time"
)

// EngineInfo is a point-in-time view of one registry entry, including the
// debounce bookkeeping that State hides.
type EngineInfo struct {
	Engine         EngineID
	State          EngineState
	Pending        *EngineState
	Consecutive    int
	LastKind       SignalKind
	LastObservedAt time.Time
}

type entry struct {
	state  EngineState
	record debounceRecord
}

// registry is the authoritative engine table. It is not safe for concurrent
// use; the Tracker serializes every call.
type registry struct {
	entries  map[EngineID]*entry
	policy   policy
	sequence uint64
}

func newRegistry(p policy) *registry {
	return &registry{
		entries: make(map[EngineID]*entry),
		policy:  p,
	}
}

// register creates an Unknown entry with an empty debounce record.
func (r *registry) register(id EngineID) error {
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.entries[id] = &entry{state: StateUnknown}
	return nil
}

// deregister removes the entry. An engine confirmed Up yields a final
// Up -> Down transition so it never silently disappears while up.
func (r *registry) deregister(id EngineID, at time.Time) (*Transition, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.entries, id)

	if e.state != StateUp {
		return nil, nil
	}
	return r.next(id, StateUp, StateDown, at, CauseDeregistered), nil
}

// state returns the last confirmed state; pending state is never reported.
func (r *registry) state(id EngineID) (EngineState, error) {
	e, ok := r.entries[id]
	if !ok {
		return StateUnknown, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.state, nil
}

// apply is the only path that changes a confirmed state.
func (r *registry) apply(sig Signal, autoRegister bool) (*Transition, error) {
	e, ok := r.entries[sig.Engine]
	if !ok {
		if !autoRegister {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sig.Engine)
		}
		e = &entry{state: StateUnknown}
		r.entries[sig.Engine] = e
	}

	to, changed := r.policy.step(&e.record, e.state, sig)
	if !changed {
		return nil, nil
	}
	from := e.state
	e.state = to
	return r.next(sig.Engine, from, to, sig.ObservedAt, CauseSignal), nil
}

func (r *registry) next(id EngineID, from, to EngineState, at time.Time, cause Cause) *Transition {
	r.sequence++
	return &Transition{
		Engine:   id,
		From:     from,
		To:       to,
		At:       at,
		Sequence: r.sequence,
		Cause:    cause,
	}
}

func (r *registry) snapshot() map[EngineID]EngineState {
	out := make(map[EngineID]EngineState, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.state
	}
	return out
}

func (r *registry) inspect(id EngineID) (EngineInfo, error) {
	e, ok := r.entries[id]
	if !ok {
		return EngineInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info := EngineInfo{
		Engine:         id,
		State:          e.state,
		Consecutive:    e.record.consecutive,
		LastKind:       e.record.lastKind,
		LastObservedAt: e.record.lastObservedAt,
	}
	if e.record.pending != nil {
		p := *e.record.pending
		info.Pending = &p
	}
	return info, nil
}

func (r *registry) ids() []EngineID {
	out := make([]EngineID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *registry) size() int {
	return len(r.entries)
}
