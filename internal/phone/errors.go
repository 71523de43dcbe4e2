package phone

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrDuplicateSession indicates a session id is already registered.
	ErrDuplicateSession = errors.New("session already registered")

	// ErrInvalidTransition indicates a command was issued in a state
	// that does not permit it. The command is rejected without mutating
	// any state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidActivation indicates an attempt to mark a session
	// active while it is not answered or is on hold.
	ErrInvalidActivation = errors.New("session cannot be activated")

	// ErrSignalingUnavailable indicates the signaling collaborator is
	// missing or exposes no capability for the requested operation.
	ErrSignalingUnavailable = errors.New("signaling layer not available")

	// ErrPhoneClosed indicates the controller's event loop has stopped.
	ErrPhoneClosed = errors.New("phone is shut down")
)

// TransitionError describes a rejected state transition.
type TransitionError struct {
	SessionID string
	From      State
	To        State
	Op        string // the command that was rejected
}

// Error returns the error message.
func (e *TransitionError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("session %s: %s not allowed in state %s", e.SessionID, e.Op, e.From)
	}
	return fmt.Sprintf("session %s: cannot transition from %s to %s", e.SessionID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
