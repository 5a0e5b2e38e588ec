package pulse

import (
	"errors"
	"testing"
	"time"
)

func newTestRegistry(threshold int) *registry {
	return newRegistry(policy{threshold: threshold, window: time.Minute})
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := newTestRegistry(1)
	if err := r.register("e1"); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	if err := r.register("e1"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
	if s, _ := r.state("e1"); s != StateUnknown {
		t.Errorf("expected unknown, got %s", s)
	}
}

func TestRegistry_ApplyUnknownEngine(t *testing.T) {
	r := newTestRegistry(1)
	sig := Signal{Engine: "ghost", Kind: KindSuccess, ObservedAt: epoch}

	if _, err := r.apply(sig, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if r.size() != 0 {
		t.Errorf("expected empty registry, got %d entries", r.size())
	}

	tr, err := r.apply(sig, true)
	if err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if tr == nil || tr.From != StateUnknown || tr.To != StateUp {
		t.Errorf("expected unknown->up, got %v", tr)
	}
}

func TestRegistry_SequenceIsGlobal(t *testing.T) {
	r := newTestRegistry(1)

	t1, _ := r.apply(Signal{Engine: "a", Kind: KindSuccess, ObservedAt: epoch}, true)
	t2, _ := r.apply(Signal{Engine: "b", Kind: KindFailure, ObservedAt: epoch}, true)
	t3, _ := r.apply(Signal{Engine: "a", Kind: KindFailure, ObservedAt: epoch}, true)

	for i, tr := range []*Transition{t1, t2, t3} {
		if tr == nil {
			t.Fatalf("transition %d missing", i+1)
		}
		if tr.Sequence != uint64(i+1) {
			t.Errorf("expected sequence %d, got %d", i+1, tr.Sequence)
		}
	}
}

func TestRegistry_DeregisterUp(t *testing.T) {
	r := newTestRegistry(1)
	_, _ = r.apply(Signal{Engine: "e", Kind: KindSuccess, ObservedAt: epoch}, true)

	tr, err := r.deregister("e", at(time.Second))
	if err != nil {
		t.Fatalf("deregister() error = %v", err)
	}
	if tr == nil {
		t.Fatal("expected final transition")
	}
	if tr.From != StateUp || tr.To != StateDown || tr.Cause != CauseDeregistered {
		t.Errorf("unexpected final transition %v", tr)
	}
	if tr.Sequence != 2 {
		t.Errorf("expected sequence 2, got %d", tr.Sequence)
	}
	if _, err := r.state("e"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after deregister, got %v", err)
	}
}

func TestRegistry_DeregisterNotUp(t *testing.T) {
	r := newTestRegistry(1)
	_ = r.register("unknown")
	_, _ = r.apply(Signal{Engine: "down", Kind: KindFailure, ObservedAt: epoch}, true)

	for _, id := range []EngineID{"unknown", "down"} {
		tr, err := r.deregister(id, epoch)
		if err != nil {
			t.Fatalf("deregister(%s) error = %v", id, err)
		}
		if tr != nil {
			t.Errorf("deregister(%s): expected no transition, got %v", id, tr)
		}
	}

	if _, err := r.deregister("missing", epoch); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_ReRegisterStartsFresh(t *testing.T) {
	r := newTestRegistry(3)
	_ = r.register("e")
	_, _ = r.apply(Signal{Engine: "e", Kind: KindSuccess, ObservedAt: epoch}, false)
	_, _ = r.apply(Signal{Engine: "e", Kind: KindSuccess, ObservedAt: epoch}, false)
	_, _ = r.deregister("e", epoch)
	_ = r.register("e")

	info, err := r.inspect("e")
	if err != nil {
		t.Fatalf("inspect() error = %v", err)
	}
	if info.State != StateUnknown || info.Consecutive != 0 || info.Pending != nil {
		t.Errorf("expected fresh entry, got %+v", info)
	}
}

func TestRegistry_InspectCopiesPending(t *testing.T) {
	r := newTestRegistry(3)
	_, _ = r.apply(Signal{Engine: "e", Kind: KindSuccess, ObservedAt: epoch}, true)

	info, _ := r.inspect("e")
	if info.Pending == nil || *info.Pending != StateUp {
		t.Fatalf("expected pending up, got %v", info.Pending)
	}
	*info.Pending = StateDown

	again, _ := r.inspect("e")
	if *again.Pending != StateUp {
		t.Error("expected inspect to return a copy of pending state")
	}
	if again.State != StateUnknown {
		t.Errorf("expected confirmed state unknown, got %s", again.State)
	}
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := newTestRegistry(1)
	for _, id := range []EngineID{"c", "a", "b"} {
		_ = r.register(id)
	}
	ids := r.ids()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("expected [a b c], got %v", ids)
	}
}
