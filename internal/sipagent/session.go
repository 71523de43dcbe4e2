package sipagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/softphone/internal/phone"
)

// session is one SIP call leg. It implements phone.Transport: state
// decisions live in the phone core, this type only speaks SIP.
type session struct {
	agent      *Agent
	callID     string
	direction  phone.Direction
	remoteName string
	remoteAddr string

	mu      sync.Mutex
	caps    phone.Capability
	onEvent func(phone.Event)
	pending []phone.Event
	done    bool

	// Inbound leg: the original INVITE and its transaction, and the
	// sipgo dialog once accepted.
	inviteReq *sip.Request
	inviteTx  sip.ServerTransaction
	dlg       *sipgo.DialogServerSession

	// Outbound leg: the INVITE we sent.
	invite *sip.Request

	// In-dialog routing state, populated once the call is answered.
	remoteContact sip.Uri
	remoteTarget  sip.Uri
	localFrom     sip.Uri
	remoteTag     string
	localTag      string
	cseq          uint32
}

func newInboundSession(a *Agent, callID, name, addr string, req *sip.Request, tx sip.ServerTransaction) *session {
	return &session{
		agent:      a,
		callID:     callID,
		direction:  phone.DirectionIncoming,
		remoteName: name,
		remoteAddr: addr,
		caps:       phone.CapAccept | phone.CapReject,
		inviteReq:  req,
		inviteTx:   tx,
	}
}

func newOutboundSession(a *Agent, callID string, target sip.Uri) *session {
	return &session{
		agent:      a,
		callID:     callID,
		direction:  phone.DirectionOutgoing,
		remoteAddr: target.String(),
		caps:       phone.CapCancel,
	}
}

func (s *session) Direction() phone.Direction { return s.direction }
func (s *session) RemoteDisplayName() string  { return s.remoteName }
func (s *session) RemoteAddress() string      { return s.remoteAddr }

func (s *session) Capabilities() phone.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

func (s *session) OnEvent(fn func(phone.Event)) {
	s.mu.Lock()
	s.onEvent = fn
	flushed := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ev := range flushed {
		fn(ev)
	}
}

// emit delivers an event to the consumer, buffering until one is
// registered.
func (s *session) emit(ev phone.Event) {
	s.mu.Lock()
	fn := s.onEvent
	if fn == nil {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(ev)
}

// emitTerminal emits ev once and unregisters the session from the
// agent. Later terminal causes are ignored.
func (s *session) emitTerminal(ev phone.Event) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.caps = 0
	s.mu.Unlock()

	s.agent.drop(s.callID)
	s.emit(ev)
}

func (s *session) setCaps(caps phone.Capability) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}

func (s *session) storeOutboundInvite(invite *sip.Request) {
	s.invite = invite
}

// runInvite drives the outbound INVITE transaction and translates SIP
// responses into session events.
func (s *session) runInvite(invite *sip.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	tx, err := s.agent.client.TransactionRequest(ctx, invite)
	if err != nil {
		slog.Warn("[Agent] INVITE send failed", "call_id", s.callID, "error", err)
		s.emitTerminal(phone.Event{Kind: phone.EventFailed})
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = s.sendCANCEL(invite)
			s.emitTerminal(phone.Event{Kind: phone.EventFailed})
			return

		case <-tx.Done():
			s.emitTerminal(phone.Event{Kind: phone.EventFailed})
			return

		case resp := <-tx.Responses():
			if resp == nil {
				s.emitTerminal(phone.Event{Kind: phone.EventFailed})
				return
			}
			if s.handleInviteResponse(invite, resp) {
				return
			}
		}
	}
}

// handleInviteResponse processes one response. It reports whether the
// transaction reached a final outcome.
func (s *session) handleInviteResponse(invite *sip.Request, resp *sip.Response) bool {
	status := int(resp.StatusCode)
	slog.Debug("[Agent] INVITE response", "call_id", s.callID, "status", status, "reason", resp.Reason)

	switch {
	case status == 100:
		return false

	case status < 200:
		// 180 Ringing, 183 Session Progress and friends.
		s.emit(phone.Event{Kind: phone.EventProgress})
		return false

	case status < 300:
		s.confirmOutbound(invite, resp)
		return true

	case status == 487:
		// Our CANCEL took effect.
		s.emitTerminal(phone.Event{Kind: phone.EventCancel})
		return true

	case status == 408:
		s.emitTerminal(phone.Event{Kind: phone.EventFailed})
		return true

	default:
		slog.Info("[Agent] Call rejected", "call_id", s.callID, "status", status, "reason", resp.Reason)
		s.emitTerminal(phone.Event{Kind: phone.EventRejected})
		return true
	}
}

// confirmOutbound ACKs a 2xx and records the dialog state needed for
// later in-dialog requests.
func (s *session) confirmOutbound(invite *sip.Request, resp *sip.Response) {
	ack := sip.NewAckRequest(invite, resp, nil)
	if err := s.agent.client.WriteRequest(ack); err != nil {
		slog.Warn("[Agent] Failed to send ACK", "call_id", s.callID, "error", err)
		// ACK failure does not negate the 200 OK.
	}

	s.mu.Lock()
	if contact := resp.Contact(); contact != nil {
		s.remoteContact = contact.Address
	}
	if to := invite.To(); to != nil {
		s.remoteTarget = to.Address
	}
	if from := invite.From(); from != nil {
		s.localFrom = from.Address
		if tag, ok := from.Params.Get("tag"); ok {
			s.localTag = tag
		}
	}
	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			s.remoteTag = tag
		}
	}
	s.cseq = 1
	s.caps = phone.CapBye | phone.CapHold | phone.CapRefer | phone.CapDTMF
	s.mu.Unlock()

	slog.Info("[Agent] Call answered", "call_id", s.callID, "remote", s.remoteAddr)
	s.emit(phone.Event{Kind: phone.EventAccepted})
}

// Accept answers an inbound call with 200 OK.
func (s *session) Accept(ctx context.Context) error {
	if s.direction != phone.DirectionIncoming || s.inviteReq == nil {
		return fmt.Errorf("accept: not an inbound ringing call")
	}

	dlg, err := s.agent.dialogUA.ReadInvite(s.inviteReq, s.inviteTx)
	if err != nil {
		return fmt.Errorf("accept: create dialog: %w", err)
	}
	if err := dlg.RespondSDP(nil); err != nil {
		_ = dlg.Close()
		return fmt.Errorf("accept: send 200 OK: %w", err)
	}

	s.mu.Lock()
	s.dlg = dlg
	if contact := s.inviteReq.Contact(); contact != nil {
		s.remoteContact = contact.Address
	}
	if from := s.inviteReq.From(); from != nil {
		s.remoteTarget = from.Address
		if tag, ok := from.Params.Get("tag"); ok {
			s.remoteTag = tag
		}
	}
	if resp := dlg.InviteResponse; resp != nil {
		if to := resp.To(); to != nil {
			s.localFrom = to.Address
			if tag, ok := to.Params.Get("tag"); ok {
				s.localTag = tag
			}
		}
	}
	s.caps = phone.CapBye | phone.CapHold | phone.CapRefer | phone.CapDTMF
	s.mu.Unlock()

	slog.Info("[Agent] Call accepted", "call_id", s.callID)
	s.emit(phone.Event{Kind: phone.EventAccepted})
	return nil
}

// Reject declines an inbound ringing call with 486 Busy Here.
func (s *session) Reject(ctx context.Context) error {
	if s.inviteTx == nil {
		return fmt.Errorf("reject: no pending invite")
	}
	resp := sip.NewResponseFromRequest(s.inviteReq, 486, "Busy Here", nil)
	if err := s.inviteTx.Respond(resp); err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	slog.Info("[Agent] Call rejected locally", "call_id", s.callID)
	s.emitTerminal(phone.Event{Kind: phone.EventRejected})
	return nil
}

// Cancel aborts an outbound call that has not been answered. The
// terminal event follows when the 487 arrives on the INVITE
// transaction.
func (s *session) Cancel(ctx context.Context) error {
	if s.invite == nil {
		return fmt.Errorf("cancel: no outbound invite")
	}
	return s.sendCANCEL(s.invite)
}

func (s *session) sendCANCEL(invite *sip.Request) error {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)

	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)

	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.agent.client.TransactionRequest(ctx, cancelReq)
	if err != nil {
		return fmt.Errorf("send CANCEL: %w", err)
	}
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
	slog.Info("[Agent] CANCEL sent", "call_id", s.callID)
	return nil
}

// Bye terminates an answered call.
func (s *session) Bye(ctx context.Context) error {
	s.mu.Lock()
	dlg := s.dlg
	s.mu.Unlock()

	if dlg != nil {
		if err := dlg.Bye(ctx); err != nil {
			return fmt.Errorf("send BYE: %w", err)
		}
		slog.Info("[Agent] BYE sent via dialog", "call_id", s.callID)
		s.emitTerminal(phone.Event{Kind: phone.EventBye})
		return nil
	}

	bye, err := s.inDialogRequest(sip.BYE)
	if err != nil {
		return err
	}
	if err := s.sendInDialog(ctx, bye); err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	slog.Info("[Agent] BYE sent", "call_id", s.callID)
	s.emitTerminal(phone.Event{Kind: phone.EventBye})
	return nil
}

// Hold and Unhold flip the media direction. Media renegotiation is
// owned by the peer agents; the control layer only tracks direction.
func (s *session) Hold(ctx context.Context) error {
	s.emit(phone.Event{Kind: phone.EventDirectionChanged, SendRecv: false})
	return nil
}

func (s *session) Unhold(ctx context.Context) error {
	s.emit(phone.Event{Kind: phone.EventDirectionChanged, SendRecv: true})
	return nil
}

// Refer blind-transfers the call with an in-dialog REFER. The remote
// side completes the transfer and tears this leg down with a BYE.
func (s *session) Refer(ctx context.Context, target string) error {
	referTo, err := s.agent.resolveTarget(target)
	if err != nil {
		return err
	}

	refer, err := s.inDialogRequest("REFER")
	if err != nil {
		return err
	}
	refer.AppendHeader(sip.NewHeader("Refer-To", referTo.String()))

	if err := s.sendInDialog(ctx, refer); err != nil {
		return fmt.Errorf("send REFER: %w", err)
	}
	slog.Info("[Agent] REFER sent", "call_id", s.callID, "target", referTo.String())
	return nil
}

// DTMF sends a digit with an in-dialog INFO (dtmf-relay).
func (s *session) DTMF(ctx context.Context, digit rune) error {
	info, err := s.inDialogRequest("INFO")
	if err != nil {
		return err
	}
	ct := sip.ContentTypeHeader("application/dtmf-relay")
	info.AppendHeader(&ct)
	info.SetBody([]byte(fmt.Sprintf("Signal=%c\r\nDuration=250\r\n", digit)))

	if err := s.sendInDialog(ctx, info); err != nil {
		return fmt.Errorf("send INFO: %w", err)
	}
	slog.Debug("[Agent] DTMF sent", "call_id", s.callID, "digit", string(digit))
	return nil
}

func (s *session) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	s.mu.Lock()
	dlg := s.dlg
	s.mu.Unlock()
	if dlg == nil {
		return
	}
	if err := dlg.ReadAck(req, tx); err != nil {
		slog.Warn("[Agent] Failed to read ACK", "call_id", s.callID, "error", err)
	}
}

func (s *session) handleRemoteBye(req *sip.Request, tx sip.ServerTransaction) {
	s.mu.Lock()
	dlg := s.dlg
	s.mu.Unlock()

	if dlg != nil {
		if err := dlg.ReadBye(req, tx); err != nil {
			slog.Warn("[Agent] Failed to read BYE", "call_id", s.callID, "error", err)
		}
	} else {
		resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		if err := tx.Respond(resp); err != nil {
			slog.Warn("[Agent] Failed to respond to BYE", "call_id", s.callID, "error", err)
		}
	}

	slog.Info("[Agent] BYE received", "call_id", s.callID)
	s.emitTerminal(phone.Event{Kind: phone.EventBye})
}

func (s *session) handleRemoteCancel(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		slog.Warn("[Agent] Failed to respond to CANCEL", "call_id", s.callID, "error", err)
	}
	if s.inviteTx != nil {
		terminated := sip.NewResponseFromRequest(s.inviteReq, 487, "Request Terminated", nil)
		_ = s.inviteTx.Respond(terminated)
	}

	slog.Info("[Agent] CANCEL received", "call_id", s.callID)
	s.emitTerminal(phone.Event{Kind: phone.EventCancel})
}

// inDialogRequest builds a request routed inside the confirmed dialog.
func (s *session) inDialogRequest(method sip.RequestMethod) (*sip.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipient := s.remoteContact
	if recipient.Host == "" {
		recipient = s.remoteTarget
	}
	if recipient.Host == "" {
		return nil, fmt.Errorf("%s: no dialog state for call %s", method, s.callID)
	}

	req := sip.NewRequest(method, recipient)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", s.localTag)
	req.AppendHeader(&sip.FromHeader{Address: s.localFrom, Params: fromParams})

	toParams := sip.NewParams()
	toParams.Add("tag", s.remoteTag)
	req.AppendHeader(&sip.ToHeader{Address: s.remoteTarget, Params: toParams})

	callIDHdr := sip.CallIDHeader(s.callID)
	req.AppendHeader(&callIDHdr)

	s.cseq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseq, MethodName: method})

	port := recipient.Port
	if port == 0 {
		port = 5060
	}
	req.SetDestination(fmt.Sprintf("%s:%d", recipient.Host, port))
	return req, nil
}

// sendInDialog sends req and waits for its final response.
func (s *session) sendInDialog(ctx context.Context, req *sip.Request) error {
	tx, err := s.agent.client.TransactionRequest(ctx, req)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tx.Done():
			return nil
		case resp := <-tx.Responses():
			if resp == nil {
				return nil
			}
			if resp.StatusCode < 200 {
				continue
			}
			if resp.StatusCode >= 300 {
				return fmt.Errorf("%s rejected: %d %s", req.Method, resp.StatusCode, resp.Reason)
			}
			return nil
		}
	}
}
