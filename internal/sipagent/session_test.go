package sipagent

import (
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/softphone/internal/phone"
)

func outboundTestSession(t *testing.T) (*Agent, *session) {
	t.Helper()
	a := newTestAgent(t)
	s := newOutboundSession(a, "call-1", sip.Uri{Scheme: "sip", User: "1004", Host: "pbx.example.com"})
	a.put(s)
	return a, s
}

func TestEventsBufferedUntilConsumerAttaches(t *testing.T) {
	_, s := outboundTestSession(t)

	s.emit(phone.Event{Kind: phone.EventProgress})
	s.emit(phone.Event{Kind: phone.EventAccepted})

	var got []phone.EventKind
	s.OnEvent(func(ev phone.Event) { got = append(got, ev.Kind) })

	want := []phone.EventKind{phone.EventProgress, phone.EventAccepted}
	if len(got) != len(want) {
		t.Fatalf("flushed %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Events after registration are delivered directly.
	s.emit(phone.Event{Kind: phone.EventBye})
	if len(got) != 3 || got[2] != phone.EventBye {
		t.Errorf("post-registration events = %v", got)
	}
}

func TestTerminalEventEmittedOnce(t *testing.T) {
	a, s := outboundTestSession(t)

	var got []phone.EventKind
	s.OnEvent(func(ev phone.Event) { got = append(got, ev.Kind) })

	s.emitTerminal(phone.Event{Kind: phone.EventBye})
	s.emitTerminal(phone.Event{Kind: phone.EventRejected}) // late duplicate

	if len(got) != 1 || got[0] != phone.EventBye {
		t.Errorf("terminal events = %v, want [EventBye]", got)
	}
	if s.Capabilities() != 0 {
		t.Errorf("capabilities = %v after terminal event, want none", s.Capabilities())
	}
	if a.get("call-1") != nil {
		t.Error("session still registered with agent")
	}
}

func TestInitialCapabilities(t *testing.T) {
	a := newTestAgent(t)

	out := newOutboundSession(a, "out", sip.Uri{Scheme: "sip", User: "1", Host: "h"})
	if caps := out.Capabilities(); !caps.Has(phone.CapCancel) || caps.Has(phone.CapAccept) {
		t.Errorf("outbound caps = %v, want cancel only", caps)
	}
	if out.Direction() != phone.DirectionOutgoing {
		t.Errorf("direction = %v", out.Direction())
	}

	in := newInboundSession(a, "in", "Alice", "sip:alice@h", nil, nil)
	caps := in.Capabilities()
	if !caps.Has(phone.CapAccept) || !caps.Has(phone.CapReject) || caps.Has(phone.CapBye) {
		t.Errorf("inbound caps = %v, want accept and reject", caps)
	}
	if in.RemoteDisplayName() != "Alice" {
		t.Errorf("display name = %q", in.RemoteDisplayName())
	}
}
