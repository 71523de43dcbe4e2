package sipagent

import (
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/softphone/internal/phone"
)

type stubHandler struct{}

func (stubHandler) HandleIncoming(phone.Transport) error { return nil }
func (stubHandler) SetConnectionStatus(string)           {}

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	a, err := NewAgent(Config{
		Username: "1000",
		Realm:    "pbx.example.com",
		BindAddr: "127.0.0.1",
		Port:     5060,
	}, stubHandler{})
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestResolveTarget(t *testing.T) {
	a := newTestAgent(t)

	tests := []struct {
		name     string
		target   string
		wantUser string
		wantHost string
	}{
		{"bare extension gets realm", "1004", "1004", "pbx.example.com"},
		{"user at host gets scheme", "alice@10.0.0.5", "alice", "10.0.0.5"},
		{"full uri passes through", "sip:bob@example.net", "bob", "example.net"},
		{"e164 number gets realm", "+12125551234", "+12125551234", "pbx.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := a.resolveTarget(tt.target)
			if err != nil {
				t.Fatalf("resolveTarget(%q): %v", tt.target, err)
			}
			if uri.User != tt.wantUser || uri.Host != tt.wantHost {
				t.Errorf("resolveTarget(%q) = %s@%s, want %s@%s",
					tt.target, uri.User, uri.Host, tt.wantUser, tt.wantHost)
			}
		})
	}
}

func TestHasScheme(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"sip:1004@host", true},
		{"tel:+1234", true},
		{"1004", false},
		{"alice@host", false},
		{"host.example.com:5060", false}, // dot before colon means bare host
		{":broken", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasScheme(tt.in); got != tt.want {
			t.Errorf("hasScheme(%q) = %t, want %t", tt.in, got, tt.want)
		}
	}
}

func TestHasHost(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"alice@host", true},
		{"1004", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasHost(tt.in); got != tt.want {
			t.Errorf("hasHost(%q) = %t, want %t", tt.in, got, tt.want)
		}
	}
}

func TestNewTagShape(t *testing.T) {
	a, b := newTag(), newTag()
	if len(a) != 8 || len(b) != 8 {
		t.Errorf("tag lengths = %d, %d; want 8", len(a), len(b))
	}
	if a == b {
		t.Errorf("consecutive tags collided: %q", a)
	}
}

func TestRequestCallID(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, sip.Uri{Scheme: "sip", User: "bob", Host: "example.net"})
	if got := requestCallID(req); got != "" {
		t.Errorf("requestCallID without header = %q, want empty", got)
	}

	cid := sip.CallIDHeader("abc-123")
	req.AppendHeader(&cid)
	if got := requestCallID(req); got != "abc-123" {
		t.Errorf("requestCallID = %q, want abc-123", got)
	}
}

func TestBuildINVITE(t *testing.T) {
	a := newTestAgent(t)
	target := sip.Uri{Scheme: "sip", User: "1004", Host: "pbx.example.com"}

	invite, err := a.buildINVITE("call-1", "tag-1", target)
	if err != nil {
		t.Fatalf("buildINVITE: %v", err)
	}

	if got := requestCallID(invite); got != "call-1" {
		t.Errorf("Call-ID = %q", got)
	}
	cseq := invite.CSeq()
	if cseq == nil || cseq.SeqNo != 1 || cseq.MethodName != sip.INVITE {
		t.Errorf("CSeq = %+v, want 1 INVITE", cseq)
	}
	from := invite.From()
	if from == nil {
		t.Fatal("missing From header")
	}
	if from.Address.User != "1000" || from.Address.Host != "pbx.example.com" {
		t.Errorf("From = %s@%s", from.Address.User, from.Address.Host)
	}
	if tag, ok := from.Params.Get("tag"); !ok || tag != "tag-1" {
		t.Errorf("From tag = %q, %t", tag, ok)
	}
	to := invite.To()
	if to == nil || to.Address.User != "1004" {
		t.Errorf("To = %+v", to)
	}
	if _, ok := to.Params.Get("tag"); ok {
		t.Error("To of an initial INVITE must not carry a tag")
	}
}

func TestSessionLookup(t *testing.T) {
	a := newTestAgent(t)
	s := newOutboundSession(a, "call-1", sip.Uri{Scheme: "sip", User: "1004", Host: "pbx.example.com"})

	a.put(s)
	if a.SessionCount() != 1 {
		t.Fatalf("session count = %d, want 1", a.SessionCount())
	}
	if got := a.get("call-1"); got != s {
		t.Error("get returned wrong session")
	}
	a.drop("call-1")
	if a.get("call-1") != nil {
		t.Error("session survived drop")
	}
	a.drop("call-1") // absent drop is a no-op
}
