package pulse

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return epoch.Add(d)
}

func TestPolicyStep_ConfirmsAtThreshold(t *testing.T) {
	p := policy{threshold: 3, window: 10 * time.Second}
	var rec debounceRecord

	for i := 1; i <= 2; i++ {
		if _, changed := p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(time.Duration(i) * time.Second)}); changed {
			t.Fatalf("signal %d: unexpected transition", i)
		}
	}
	if rec.pending == nil || *rec.pending != StateUp {
		t.Fatalf("expected pending up, got %v", rec.pending)
	}

	to, changed := p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(3 * time.Second)})
	if !changed || to != StateUp {
		t.Fatalf("expected transition to up, got %s (changed=%v)", to, changed)
	}
	if rec.consecutive != 0 {
		t.Errorf("expected count reset after confirmation, got %d", rec.consecutive)
	}
	if rec.pending != nil {
		t.Errorf("expected pending cleared, got %v", *rec.pending)
	}
}

func TestPolicyStep_ThresholdOneConfirmsImmediately(t *testing.T) {
	p := policy{threshold: 1, window: time.Second}
	var rec debounceRecord

	to, changed := p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindFailure, ObservedAt: epoch})
	if !changed || to != StateDown {
		t.Errorf("expected immediate down, got %s (changed=%v)", to, changed)
	}
}

func TestPolicyStep_KindChangeRestartsCount(t *testing.T) {
	p := policy{threshold: 3, window: 10 * time.Second}
	var rec debounceRecord

	p.step(&rec, StateUp, Signal{Engine: "e", Kind: KindFailure, ObservedAt: at(1 * time.Second)})
	p.step(&rec, StateUp, Signal{Engine: "e", Kind: KindFailure, ObservedAt: at(2 * time.Second)})
	if rec.consecutive != 2 {
		t.Fatalf("expected count 2, got %d", rec.consecutive)
	}

	p.step(&rec, StateUp, Signal{Engine: "e", Kind: KindTimeout, ObservedAt: at(3 * time.Second)})
	if rec.consecutive != 1 {
		t.Errorf("expected timeout to restart the count, got %d", rec.consecutive)
	}
	if rec.lastKind != KindTimeout {
		t.Errorf("expected last kind timeout, got %s", rec.lastKind)
	}
}

func TestPolicyStep_AgreeingSignalClearsPending(t *testing.T) {
	p := policy{threshold: 3, window: 10 * time.Second}
	var rec debounceRecord

	p.step(&rec, StateUp, Signal{Engine: "e", Kind: KindFailure, ObservedAt: at(1 * time.Second)})
	if rec.pending == nil {
		t.Fatal("expected pending down")
	}

	if _, changed := p.step(&rec, StateUp, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(2 * time.Second)}); changed {
		t.Fatal("unexpected transition")
	}
	if rec.pending != nil {
		t.Errorf("expected pending cleared, got %s", *rec.pending)
	}
}

func TestPolicyStep_GapBeyondWindowResets(t *testing.T) {
	p := policy{threshold: 3, window: 10 * time.Second}
	var rec debounceRecord

	p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(0)})
	p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(1 * time.Second)})
	if _, changed := p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(12 * time.Second)}); changed {
		t.Fatal("expected the gap to break the run")
	}
	if rec.consecutive != 1 {
		t.Errorf("expected count 1 after gap, got %d", rec.consecutive)
	}
}

func TestPolicyStep_GapEqualToWindowKeepsRun(t *testing.T) {
	p := policy{threshold: 2, window: 10 * time.Second}
	var rec debounceRecord

	p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(0)})
	to, changed := p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(10 * time.Second)})
	if !changed || to != StateUp {
		t.Errorf("expected transition to up, got %s (changed=%v)", to, changed)
	}
}

func TestPolicyStep_LateSignalDoesNotRewind(t *testing.T) {
	p := policy{threshold: 5, window: 10 * time.Second}
	var rec debounceRecord

	p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(20 * time.Second)})
	p.step(&rec, StateUnknown, Signal{Engine: "e", Kind: KindSuccess, ObservedAt: at(15 * time.Second)})

	if !rec.lastObservedAt.Equal(at(20 * time.Second)) {
		t.Errorf("expected window reference to stay at 20s, got %v", rec.lastObservedAt.Sub(epoch))
	}
	if rec.consecutive != 2 {
		t.Errorf("expected late signal to extend the run, got %d", rec.consecutive)
	}
}
