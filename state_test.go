package rat

import "testing"

func TestStateCheckAllowsListedStates(t *testing.T) {
	s := New(nil)
	s.currentState = Established
	if err := s.stateCheck(HloSent, Established, ByeSent); err != nil {
		t.Fatalf("stateCheck returned %v, want nil", err)
	}
}

func TestStateCheckRejectsUnlistedState(t *testing.T) {
	s := New(nil)
	s.currentState = Unopened
	if err := s.stateCheck(Established); err != ErrInvalidState {
		t.Fatalf("stateCheck returned %v, want ErrInvalidState", err)
	}
}

func TestStateCheckLeavesStateUnchanged(t *testing.T) {
	s := New(nil)
	s.currentState = ServOpen
	_ = s.stateCheck(Established)
	if s.state() != ServOpen {
		t.Fatalf("state mutated by a failed stateCheck: got %s", s.state())
	}
}

func TestSetStateRefusesToLeaveClosed(t *testing.T) {
	s := New(nil)
	s.currentState = Closed
	s.setState(Established)
	if s.state() != Closed {
		t.Fatalf("setState moved a CLOSED socket to %s", s.state())
	}
}

func TestStateStringCoversAllValues(t *testing.T) {
	for st := Unopened; st <= Closed; st++ {
		if got := st.String(); got == "UNKNOWN" {
			t.Errorf("State(%d).String() = UNKNOWN", st)
		}
	}
	if got := State(99).String(); got != "UNKNOWN" {
		t.Errorf("State(99).String() = %q, want UNKNOWN", got)
	}
}
