package pulse

import (
	"errors"
	"fmt"
	"testing"
)

func TestRejectionRing_NilSafe(t *testing.T) {
	var r *rejectionRing

	// All operations should be safe on nil
	r.push(Rejection{Err: errors.New("test")})

	if r.all() != nil {
		t.Error("expected nil from nil ring")
	}
}

func TestRejectionRing_ZeroSize(t *testing.T) {
	if r := newRejectionRing(0); r != nil {
		t.Error("expected nil ring for size 0")
	}
}

func TestRejectionRing_Empty(t *testing.T) {
	r := newRejectionRing(3)
	if got := r.all(); got != nil {
		t.Errorf("expected nil for empty ring, got %v", got)
	}
}

func TestRejectionRing_KeepsNewestOldestFirst(t *testing.T) {
	r := newRejectionRing(3)
	for i := 1; i <= 5; i++ {
		r.push(Rejection{Signal: Signal{Engine: EngineID(fmt.Sprintf("e%d", i))}})
	}

	got := r.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []EngineID{"e3", "e4", "e5"} {
		if got[i].Signal.Engine != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, got[i].Signal.Engine)
		}
	}
}
