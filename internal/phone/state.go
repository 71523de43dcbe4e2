// Package phone implements the softphone control core: the per-session
// call state machine, the multi-session registry with its single
// active-call pointer, per-call timers, and the controller that
// serializes user commands and signaling events onto one event loop.
package phone

import "fmt"

// State represents the lifecycle state of a call session.
type State int

const (
	// StateRinging is an incoming call awaiting answer.
	StateRinging State = iota
	// StateTrying is an outgoing call awaiting remote answer.
	StateTrying
	// StateAnswered is an established call. Mute and hold are flags on
	// top of this state, not states of their own.
	StateAnswered
	// StateHolding is an established call parked off the audio path.
	StateHolding
	// StateEnded is the normal terminal state after BYE.
	StateEnded
	// StateMissed is the terminal state of a call that terminated
	// without ever being answered.
	StateMissed
	// StateRejected is the terminal state of a declined call.
	StateRejected
	// StateCanceled is the terminal state of an outgoing call canceled
	// before answer.
	StateCanceled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRinging:
		return "Ringing"
	case StateTrying:
		return "Trying"
	case StateAnswered:
		return "Answered"
	case StateHolding:
		return "Holding"
	case StateEnded:
		return "Ended"
	case StateMissed:
		return "Missed"
	case StateRejected:
		return "Rejected"
	case StateCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool {
	switch s {
	case StateEnded, StateMissed, StateRejected, StateCanceled:
		return true
	}
	return false
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StateRinging:  {StateAnswered, StateEnded, StateMissed, StateRejected},
	StateTrying:   {StateAnswered, StateEnded, StateMissed, StateRejected, StateCanceled},
	StateAnswered: {StateHolding, StateEnded},
	StateHolding:  {StateAnswered, StateEnded},
	// Terminal states allow no transitions.
	StateEnded:    {},
	StateMissed:   {},
	StateRejected: {},
	StateCanceled: {},
}

// CanTransitionTo checks if a transition from the current state to next
// is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Direction indicates whether a session is incoming or outgoing.
// Immutable after session creation.
type Direction int

const (
	// DirectionIncoming represents a call received from the remote party.
	DirectionIncoming Direction = iota
	// DirectionOutgoing represents a call placed by the local party.
	DirectionOutgoing
)

// String returns the string representation of the direction. The values
// double as the call-log flow field.
func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}
