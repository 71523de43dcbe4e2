package phone

import (
	"context"
	"strings"
	"time"
)

// Capability is a bit set describing which operations the signaling
// transport currently accepts for a session. It replaces duck-typed
// method probing with an explicit query.
type Capability int

const (
	CapAccept Capability = 1 << iota
	CapReject
	CapCancel
	CapBye
	CapHold
	CapRefer
	CapDTMF
)

// Has reports whether all bits of c are present.
func (s Capability) Has(c Capability) bool {
	return s&c == c
}

// Transport is the per-session signaling collaborator. Implementations
// wrap one leg of the underlying call-control protocol; all state
// tracking stays in the phone core.
//
// Command methods may block on network I/O and must not be called from
// the controller's event loop goroutine.
type Transport interface {
	// Direction reports whether the call is incoming or outgoing.
	Direction() Direction

	// RemoteDisplayName returns the remote party's display name, or ""
	// if none was supplied.
	RemoteDisplayName() string

	// RemoteAddress returns the remote party's address (URI or number).
	RemoteAddress() string

	// Capabilities returns the set of operations currently valid on
	// this session.
	Capabilities() Capability

	// OnEvent registers the single consumer of this session's events.
	// Implementations buffer events raised before registration and
	// flush them in order once the consumer is attached.
	OnEvent(fn func(Event))

	Accept(ctx context.Context) error
	Bye(ctx context.Context) error
	Reject(ctx context.Context) error
	Cancel(ctx context.Context) error
	Hold(ctx context.Context) error
	Unhold(ctx context.Context) error
	Refer(ctx context.Context, target string) error
	DTMF(ctx context.Context, digit rune) error
}

// Signaling is the user-agent-level collaborator: the only operation
// the core needs from it is placing outbound calls. Incoming calls are
// pushed by the agent through Phone.HandleIncoming.
type Signaling interface {
	// Dial places an outbound call and returns its transport. Dial
	// failures after this returns are delivered as session events.
	Dial(ctx context.Context, target string) (Transport, error)
}

// Session is one call attempt or conversation. Fields are mutated only
// by Machine transitions, never by callers.
type Session struct {
	ID                string
	Direction         Direction
	RemoteDisplayName string
	RemoteAddress     string

	State    State
	IsOnHold bool
	IsMuted  bool

	StartedAt time.Time // set when the call is answered
	EndedAt   time.Time // set on terminal transition

	// Transport is the signaling collaborator bound to this session.
	Transport Transport
}

// newSession builds a Session from its transport. The display name
// falls back to the user part of the remote address, matching how the
// remote identity is rendered in the call log.
func newSession(id string, t Transport) *Session {
	name := t.RemoteDisplayName()
	addr := t.RemoteAddress()
	if name == "" {
		name = userPart(addr)
	}

	state := StateRinging
	if t.Direction() == DirectionOutgoing {
		state = StateTrying
	}

	return &Session{
		ID:                id,
		Direction:         t.Direction(),
		RemoteDisplayName: name,
		RemoteAddress:     addr,
		State:             state,
		Transport:         t,
	}
}

// userPart extracts the user portion of a SIP address, e.g.
// "sip:alice@example.com" -> "alice".
func userPart(addr string) string {
	s := addr
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	return s
}
