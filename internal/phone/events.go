package phone

import "fmt"

// EventKind identifies a signaling event delivered for one session.
// The machine consumes events through a single dispatch table rather
// than per-event callbacks, so the full transition surface lives in one
// place.
type EventKind int

const (
	// EventProgress is a provisional response on an outgoing call.
	EventProgress EventKind = iota
	// EventAccepted means the call was answered by either side.
	EventAccepted
	// EventDirectionChanged reports a media direction renegotiation;
	// anything other than send/receive both ways means the session was
	// placed on hold by the remote side.
	EventDirectionChanged
	// EventTrackAdded reports that media tracks were attached. The
	// audio path is a collaborator concern; the machine ignores it.
	EventTrackAdded
	// EventCancel means a pre-answer call was canceled.
	EventCancel
	// EventBye means the established call was terminated.
	EventBye
	// EventFailed means the call failed (transport error, timeout).
	EventFailed
	// EventRejected means the remote party declined the call.
	EventRejected
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventAccepted:
		return "accepted"
	case EventDirectionChanged:
		return "directionChanged"
	case EventTrackAdded:
		return "trackAdded"
	case EventCancel:
		return "cancel"
	case EventBye:
		return "bye"
	case EventFailed:
		return "failed"
	case EventRejected:
		return "rejected"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Event is one signaling event. Events carry no session id; the
// controller binds each transport's event stream to its session when
// the session is attached.
type Event struct {
	Kind EventKind

	// SendRecv accompanies EventDirectionChanged: true when media flows
	// both ways after the renegotiation.
	SendRecv bool
}
