package pulse

import "testing"

func TestEngineState_String_Unknown(t *testing.T) {
	if s := StateUnknown.String(); s != "unknown" {
		t.Errorf("expected 'unknown', got %q", s)
	}
}

func TestEngineState_String_Up(t *testing.T) {
	if s := StateUp.String(); s != "up" {
		t.Errorf("expected 'up', got %q", s)
	}
}

func TestEngineState_String_Down(t *testing.T) {
	if s := StateDown.String(); s != "down" {
		t.Errorf("expected 'down', got %q", s)
	}
}

func TestEngineState_String_Invalid(t *testing.T) {
	if s := EngineState(999).String(); s != "invalid" {
		t.Errorf("expected 'invalid', got %q", s)
	}
}

func TestEngineState_Values(t *testing.T) {
	// Unknown must be the zero value so new entries start there.
	var zero EngineState
	if zero != StateUnknown {
		t.Errorf("expected zero value to be StateUnknown, got %s", zero)
	}
	if StateUp != 1 {
		t.Errorf("expected StateUp=1, got %d", StateUp)
	}
	if StateDown != 2 {
		t.Errorf("expected StateDown=2, got %d", StateDown)
	}
}

func TestEngineState_TextRoundTrip(t *testing.T) {
	for _, s := range []EngineState{StateUnknown, StateUp, StateDown} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%s) error = %v", s, err)
		}
		var got EngineState
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != s {
			t.Errorf("expected %s, got %s", s, got)
		}
	}
}

func TestEngineState_UnmarshalTextRejectsUnknownName(t *testing.T) {
	var s EngineState
	if err := s.UnmarshalText([]byte("sideways")); err == nil {
		t.Error("expected error for unknown state name")
	}
}
