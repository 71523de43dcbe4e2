package phone

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Session{ID: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(&Session{ID: "a"})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("second Register = %v, want ErrDuplicateSession", err)
	}
}

func TestRegistrySetActive(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		wantErr bool
	}{
		{"answered", &Session{ID: "s", State: StateAnswered}, false},
		{"answered on hold", &Session{ID: "s", State: StateAnswered, IsOnHold: true}, true},
		{"ringing", &Session{ID: "s", State: StateRinging}, true},
		{"holding", &Session{ID: "s", State: StateHolding}, true},
		{"ended", &Session{ID: "s", State: StateEnded}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Register(tt.session); err != nil {
				t.Fatal(err)
			}
			err := r.SetActive("s")
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidActivation) {
					t.Errorf("SetActive = %v, want ErrInvalidActivation", err)
				}
				if _, ok := r.Active(); ok {
					t.Error("pointer set despite rejected activation")
				}
				return
			}
			if err != nil {
				t.Fatalf("SetActive: %v", err)
			}
			if id, ok := r.Active(); !ok || id != "s" {
				t.Errorf("Active = %q, %t", id, ok)
			}
		})
	}
}

func TestRegistrySetActiveUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.SetActive("nope"); !errors.Is(err, ErrInvalidActivation) {
		t.Errorf("SetActive(unknown) = %v, want ErrInvalidActivation", err)
	}
}

func TestRegistryRemoveClearsPointer(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&Session{ID: "a", State: StateAnswered})
	_ = r.Register(&Session{ID: "b", State: StateAnswered})
	_ = r.SetActive("a")

	// Removing a non-owner leaves the pointer alone.
	r.Remove("b")
	if id, _ := r.Active(); id != "a" {
		t.Errorf("Active after removing non-owner = %q", id)
	}

	r.Remove("a")
	if _, ok := r.Active(); ok {
		t.Error("pointer survived owner removal")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

// TestRegistryActiveInvariant drives the registry with random operation
// sequences and checks that the pointer only ever names a live session
// that is answered and not on hold.
func TestRegistryActiveInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		ids := []string{"s0", "s1", "s2", "s3"}

		ops := rapid.SliceOfN(rapid.IntRange(0, 4), 1, 40).Draw(t, "ops")
		for i, op := range ops {
			id := ids[rapid.IntRange(0, len(ids)-1).Draw(t, fmt.Sprintf("id%d", i))]
			switch op {
			case 0:
				_ = r.Register(&Session{ID: id, State: StateRinging})
			case 1:
				if s, ok := r.Get(id); ok && s.State.CanTransitionTo(StateAnswered) {
					s.State = StateAnswered
				}
			case 2:
				_ = r.SetActive(id)
			case 3:
				if s, ok := r.Get(id); ok && s.State == StateAnswered {
					s.State = StateHolding
					s.IsOnHold = true
					r.ClearActive(id)
				}
			case 4:
				r.Remove(id)
			}

			if activeID, ok := r.Active(); ok {
				s, found := r.Get(activeID)
				if !found {
					t.Fatalf("active pointer %q names no session", activeID)
				}
				if s.State != StateAnswered || s.IsOnHold {
					t.Fatalf("active session %q in state %s (on hold %t)", activeID, s.State, s.IsOnHold)
				}
			}
		}
	})
}
