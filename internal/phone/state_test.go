package phone

import "testing"

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		valid bool
	}{
		{"ringing to answered", StateRinging, StateAnswered, true},
		{"ringing to missed", StateRinging, StateMissed, true},
		{"ringing to rejected", StateRinging, StateRejected, true},
		{"ringing to canceled", StateRinging, StateCanceled, false},
		{"trying to answered", StateTrying, StateAnswered, true},
		{"trying to canceled", StateTrying, StateCanceled, true},
		{"answered to holding", StateAnswered, StateHolding, true},
		{"answered to ended", StateAnswered, StateEnded, true},
		{"answered to ringing", StateAnswered, StateRinging, false},
		{"holding to answered", StateHolding, StateAnswered, true},
		{"holding to ended", StateHolding, StateEnded, true},
		{"holding to missed", StateHolding, StateMissed, false},
		{"ended is terminal", StateEnded, StateAnswered, false},
		{"missed is terminal", StateMissed, StateRinging, false},
		{"rejected is terminal", StateRejected, StateEnded, false},
		{"canceled is terminal", StateCanceled, StateAnswered, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
				t.Errorf("%s -> %s = %t, want %t", tt.from, tt.to, got, tt.valid)
			}
		})
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := []State{StateEnded, StateMissed, StateRejected, StateCanceled}
	live := []State{StateRinging, StateTrying, StateAnswered, StateHolding}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestDirectionString(t *testing.T) {
	if got := DirectionIncoming.String(); got != "incoming" {
		t.Errorf("DirectionIncoming = %q", got)
	}
	if got := DirectionOutgoing.String(); got != "outgoing" {
		t.Errorf("DirectionOutgoing = %q", got)
	}
}

func TestCapabilityHas(t *testing.T) {
	caps := CapBye | CapHold | CapDTMF
	if !caps.Has(CapBye) || !caps.Has(CapHold | CapDTMF) {
		t.Error("Has missed present capability")
	}
	if caps.Has(CapAccept) || caps.Has(CapBye|CapReject) {
		t.Error("Has reported absent capability")
	}
}
