// Package sipagent binds the phone core to SIP signaling using sipgo.
// The agent owns the user agent, the registration refresh loop, and the
// per-call transports handed to the phone controller.
package sipagent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/softphone/internal/phone"
)

const (
	// ConnectionReady and ConnectionFailed are the connection status
	// lines reported to the handler.
	ConnectionReady  = "Ready"
	ConnectionFailed = "Error: Registration Failed"

	dialTimeout     = 2 * time.Minute
	registerTimeout = 10 * time.Second
	registerRetry   = 30 * time.Second
)

// Config holds the SIP account and listener settings.
type Config struct {
	Username    string
	DisplayName string
	Realm       string // SIP domain used in From/To and register URIs
	ServerAddr  string // registrar/proxy host:port
	BindAddr    string
	Port        int
	Transport   string        // "udp" or "tcp"
	Expiry      time.Duration // registration expiry
	Register    bool          // register with ServerAddr on start
}

// Handler receives inbound calls and connection status updates. The
// phone controller implements it.
type Handler interface {
	HandleIncoming(t phone.Transport) error
	SetConnectionStatus(status string)
}

// Agent is the SIP user agent. One Agent serves one account.
type Agent struct {
	cfg      Config
	handler  Handler
	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	client   *sipgo.Client
	dialogUA *sipgo.DialogUA
	contact  sip.ContactHeader

	regCallID string
	regSeq    uint32

	mu       sync.RWMutex
	sessions map[string]*session // by Call-ID
}

// NewAgent creates the SIP stack and wires the request handlers.
func NewAgent(cfg Config, handler Handler) (*Agent, error) {
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 10 * time.Minute
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   cfg.Username,
			Host:   cfg.BindAddr,
			Port:   cfg.Port,
		},
	}

	a := &Agent{
		cfg:     cfg,
		handler: handler,
		ua:      ua,
		srv:     srv,
		client:  client,
		dialogUA: &sipgo.DialogUA{
			Client:     client,
			ContactHDR: contact,
		},
		contact:   contact,
		regCallID: uuid.NewString(),
		sessions:  make(map[string]*session),
	}

	srv.OnRequest(sip.INVITE, a.onInvite)
	srv.OnRequest(sip.ACK, a.onAck)
	srv.OnRequest(sip.BYE, a.onBye)
	srv.OnRequest(sip.CANCEL, a.onCancel)

	return a, nil
}

// Run registers with the server and serves SIP until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.Register {
		go a.registerLoop(ctx)
	}

	listenAddr := fmt.Sprintf("%s:%d", a.cfg.BindAddr, a.cfg.Port)
	slog.Info("[Agent] Starting SIP listener", "addr", listenAddr, "transport", a.cfg.Transport)
	return a.srv.ListenAndServe(ctx, a.cfg.Transport, listenAddr)
}

// Close shuts down the SIP stack.
func (a *Agent) Close() error {
	return a.ua.Close()
}

// registerLoop keeps the registration fresh, refreshing at half the
// expiry and backing off after failures.
func (a *Agent) registerLoop(ctx context.Context) {
	for {
		interval := a.cfg.Expiry / 2
		if err := a.register(ctx); err != nil {
			slog.Warn("[Agent] Registration failed", "server", a.cfg.ServerAddr, "error", err)
			a.handler.SetConnectionStatus(ConnectionFailed)
			interval = registerRetry
		} else {
			slog.Info("[Agent] Registered", "server", a.cfg.ServerAddr, "expiry", a.cfg.Expiry)
			a.handler.SetConnectionStatus(ConnectionReady)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// register sends one REGISTER transaction and waits for the final
// response.
func (a *Agent) register(ctx context.Context) error {
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Scheme: "sip", Host: a.cfg.Realm})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	accountURI := sip.Uri{Scheme: "sip", User: a.cfg.Username, Host: a.cfg.Realm}
	fromParams := sip.NewParams()
	fromParams.Add("tag", newTag())
	req.AppendHeader(&sip.FromHeader{
		DisplayName: a.cfg.DisplayName,
		Address:     accountURI,
		Params:      fromParams,
	})
	req.AppendHeader(&sip.ToHeader{Address: accountURI, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(a.regCallID)
	req.AppendHeader(&callIDHdr)

	a.regSeq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: a.regSeq, MethodName: sip.REGISTER})
	req.AppendHeader(&a.contact)
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(a.cfg.Expiry.Seconds()))))

	req.SetDestination(a.cfg.ServerAddr)

	regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	tx, err := a.client.TransactionRequest(regCtx, req)
	if err != nil {
		return fmt.Errorf("send REGISTER: %w", err)
	}

	for {
		select {
		case <-regCtx.Done():
			return fmt.Errorf("REGISTER timeout: %w", regCtx.Err())
		case <-tx.Done():
			return fmt.Errorf("REGISTER transaction terminated without response")
		case resp := <-tx.Responses():
			if resp == nil {
				return fmt.Errorf("REGISTER transaction terminated without response")
			}
			if resp.StatusCode < 200 {
				continue
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("REGISTER rejected: %d %s", resp.StatusCode, resp.Reason)
			}
			return nil
		}
	}
}

// Dial places an outbound call. The returned transport reports
// progress and the final outcome through session events.
func (a *Agent) Dial(ctx context.Context, target string) (phone.Transport, error) {
	targetURI, err := a.resolveTarget(target)
	if err != nil {
		return nil, err
	}

	callID := uuid.NewString()
	localTag := newTag()

	s := newOutboundSession(a, callID, targetURI)

	invite, err := a.buildINVITE(callID, localTag, targetURI)
	if err != nil {
		return nil, err
	}
	s.storeOutboundInvite(invite)

	a.put(s)
	go s.runInvite(invite)

	slog.Info("[Agent] Dialing", "call_id", callID, "target", targetURI.String())
	return s, nil
}

// resolveTarget turns a dialed string into a SIP URI, defaulting the
// scheme and host to the configured realm for bare numbers.
func (a *Agent) resolveTarget(target string) (sip.Uri, error) {
	raw := target
	if !hasScheme(raw) {
		if hasHost(raw) {
			raw = "sip:" + raw
		} else {
			raw = fmt.Sprintf("sip:%s@%s", raw, a.cfg.Realm)
		}
	}
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("invalid dial target %q: %w", target, err)
	}
	return uri, nil
}

// buildINVITE constructs the initial INVITE for an outbound call.
func (a *Agent) buildINVITE(callID, localTag string, target sip.Uri) (*sip.Request, error) {
	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	invite.AppendHeader(&sip.FromHeader{
		DisplayName: a.cfg.DisplayName,
		Address:     sip.Uri{Scheme: "sip", User: a.cfg.Username, Host: a.cfg.Realm},
		Params:      fromParams,
	})

	invite.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(callID)
	invite.AppendHeader(&callIDHdr)

	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&a.contact)

	if a.cfg.ServerAddr != "" {
		invite.SetDestination(a.cfg.ServerAddr)
	}
	return invite, nil
}

func (a *Agent) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := requestCallID(req)
	if callID == "" {
		resp := sip.NewResponseFromRequest(req, 400, "Missing Call-ID", nil)
		_ = tx.Respond(resp)
		return
	}

	if existing := a.get(callID); existing != nil {
		// Retransmission of an INVITE we are already ringing on.
		slog.Debug("[Agent] Duplicate INVITE", "call_id", callID)
		return
	}

	var name, addr string
	if from := req.From(); from != nil {
		name = from.DisplayName
		addr = from.Address.String()
	}

	s := newInboundSession(a, callID, name, addr, req, tx)
	a.put(s)

	// 100 Trying then 180 Ringing while the user decides.
	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		slog.Warn("[Agent] Failed to send 100 Trying", "call_id", callID, "error", err)
	}
	ringing := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
	if err := tx.Respond(ringing); err != nil {
		slog.Warn("[Agent] Failed to send 180 Ringing", "call_id", callID, "error", err)
	}

	slog.Info("[Agent] Incoming call", "call_id", callID, "from", addr)

	if err := a.handler.HandleIncoming(s); err != nil {
		slog.Warn("[Agent] Incoming call not admitted", "call_id", callID, "error", err)
		a.drop(callID)
		busy := sip.NewResponseFromRequest(req, 486, "Busy Here", nil)
		_ = tx.Respond(busy)
	}
}

func (a *Agent) onAck(req *sip.Request, tx sip.ServerTransaction) {
	s := a.get(requestCallID(req))
	if s == nil {
		slog.Debug("[Agent] ACK for unknown call", "call_id", requestCallID(req))
		return
	}
	s.handleAck(req, tx)
}

func (a *Agent) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := requestCallID(req)
	s := a.get(callID)
	if s == nil {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return
	}
	s.handleRemoteBye(req, tx)
}

func (a *Agent) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := requestCallID(req)
	s := a.get(callID)
	if s == nil {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return
	}
	s.handleRemoteCancel(req, tx)
}

func (a *Agent) put(s *session) {
	a.mu.Lock()
	a.sessions[s.callID] = s
	a.mu.Unlock()
}

func (a *Agent) get(callID string) *session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessions[callID]
}

func (a *Agent) drop(callID string) {
	a.mu.Lock()
	delete(a.sessions, callID)
	a.mu.Unlock()
}

// SessionCount reports the number of live SIP sessions.
func (a *Agent) SessionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

func requestCallID(req *sip.Request) string {
	if req.CallID() == nil {
		return ""
	}
	// Cast to string directly - .String() adds "Call-ID: " prefix
	return string(*req.CallID())
}

func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ':':
			return i > 0
		case '@', '.':
			return false
		}
	}
	return false
}

func hasHost(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '@' {
			return true
		}
	}
	return false
}

func newTag() string {
	return uuid.NewString()[:8]
}
