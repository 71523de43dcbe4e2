package phone

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebas/softphone/internal/calllog"
	"github.com/sebas/softphone/internal/tone"
)

// transportTimeout bounds every signaling command fired by a transition.
const transportTimeout = 5 * time.Second

// MachineConfig configures a Machine.
type MachineConfig struct {
	Registry *Registry
	Log      *calllog.Store
	Tones    tone.Player

	// OnCallStatus receives the human-readable call status line
	// ("Incoming: alice", "Answered", ...).
	OnCallStatus func(status string)

	// OnTick receives timer refresh notifications per session.
	OnTick func(sessionID string, elapsed time.Duration)

	// TickInterval overrides the timer tick period. Zero means
	// DefaultTickInterval.
	TickInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Machine drives per-session state transitions. Every transition
// updates the registry, writes the call-log projection, and may start
// or stop the session's timer. All methods must be called from the
// controller's event loop; signaling side effects are dispatched
// asynchronously so the loop never blocks on the wire.
type Machine struct {
	registry *Registry
	log      *calllog.Store
	tones    tone.Player
	timers   map[string]*Timer

	onStatus     func(string)
	onTick       func(string, time.Duration)
	tickInterval time.Duration
	now          func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		registry:     cfg.Registry,
		log:          cfg.Log,
		tones:        cfg.Tones,
		timers:       make(map[string]*Timer),
		onStatus:     cfg.OnCallStatus,
		onTick:       cfg.OnTick,
		tickInterval: cfg.TickInterval,
		now:          cfg.Now,
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	if m.tones == nil {
		m.tones = tone.NewNop()
	}
	if m.tickInterval <= 0 {
		m.tickInterval = DefaultTickInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Registry exposes the session registry for status queries.
func (m *Machine) Registry() *Registry {
	return m.registry
}

// NewSession registers a session for the given transport and runs its
// creation transition: the call is logged as ringing and the matching
// tone starts.
func (m *Machine) NewSession(id string, t Transport) (*Session, error) {
	sess := newSession(id, t)
	if err := m.registry.Register(sess); err != nil {
		return nil, err
	}

	if sess.Direction == DirectionIncoming {
		m.tones.StartRing()
		m.setStatus("Incoming: " + sess.RemoteDisplayName)
	} else {
		m.tones.StartRingback()
		m.setStatus("Trying: " + sess.RemoteDisplayName)
	}
	m.logStatus(sess, calllog.StatusRinging)

	slog.Info("[Phone] Session created",
		"session_id", id,
		"direction", sess.Direction,
		"remote", sess.RemoteAddress,
	)
	return sess, nil
}

// HandleEvent applies one signaling event to the session. Events for
// unknown ids are ignored: a session already removed by an earlier
// terminal event stays removed, so only the first terminal event wins.
func (m *Machine) HandleEvent(id string, ev Event) {
	sess, ok := m.registry.Get(id)
	if !ok {
		slog.Debug("[Phone] Event for unknown session", "session_id", id, "event", ev.Kind)
		return
	}

	slog.Debug("[Phone] Event", "session_id", id, "event", ev.Kind, "state", sess.State)

	switch ev.Kind {
	case EventProgress:
		if sess.Direction == DirectionOutgoing {
			m.setStatus("Calling...")
		}

	case EventAccepted:
		m.accepted(sess)

	case EventDirectionChanged:
		// Remote-driven hold/resume renegotiation.
		sess.IsOnHold = !ev.SendRecv

	case EventTrackAdded:
		// Media wiring belongs to the audio collaborator.

	case EventCancel:
		if sess.Direction == DirectionOutgoing {
			m.terminate(sess, StateCanceled, "Canceled")
		} else {
			// Remote canceled before we answered.
			m.terminate(sess, StateMissed, "Canceled")
		}

	case EventBye:
		m.terminate(sess, StateEnded, "")

	case EventFailed:
		m.terminate(sess, StateEnded, "Terminated")

	case EventRejected:
		m.terminate(sess, StateRejected, "Rejected")
	}
}

// Answer accepts an incoming ringing call. The answered transition
// itself happens when the accepted event comes back from the signaling
// layer.
func (m *Machine) Answer(id string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil
	}
	if sess.Direction != DirectionIncoming || sess.State != StateRinging || !sess.StartedAt.IsZero() {
		return &TransitionError{SessionID: id, From: sess.State, Op: "answer"}
	}
	if !sess.Transport.Capabilities().Has(CapAccept) {
		return fmt.Errorf("answer %s: %w", id, ErrSignalingUnavailable)
	}

	m.async("accept", id, sess.Transport.Accept)
	return nil
}

// HoldResume toggles hold for the session: a held session is resumed,
// an answered session is parked. The direction is inferred from the
// current state.
func (m *Machine) HoldResume(id string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil
	}
	if sess.IsOnHold || sess.State == StateHolding {
		return m.resumeSession(sess)
	}
	return m.holdSession(sess)
}

// Mute toggles the muted flag on an answered call. Mute is status-only:
// it never writes a call-log entry.
func (m *Machine) Mute(id string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil
	}
	if sess.State != StateAnswered {
		return &TransitionError{SessionID: id, From: sess.State, Op: "mute"}
	}

	sess.IsMuted = !sess.IsMuted
	if sess.IsMuted {
		m.setStatus("Muted")
	} else {
		m.setStatus("Answered")
	}
	return nil
}

// Transfer starts a blind transfer of an answered call. Local state is
// unchanged until a terminal event arrives from the signaling layer.
func (m *Machine) Transfer(id, target string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil
	}
	if sess.State != StateAnswered {
		return &TransitionError{SessionID: id, From: sess.State, Op: "transfer"}
	}
	if !sess.Transport.Capabilities().Has(CapRefer) {
		return fmt.Errorf("transfer %s: %w", id, ErrSignalingUnavailable)
	}

	m.setStatus("Transferring...")
	m.async("refer", id, func(ctx context.Context) error {
		return sess.Transport.Refer(ctx, target)
	})
	return nil
}

// SendDigit forwards a DTMF digit to the active call. The keypad tone
// plays regardless; without an active call the digit is dropped.
func (m *Machine) SendDigit(digit rune) error {
	m.tones.PlayDTMF()

	sess, ok := m.registry.ActiveSession()
	if !ok {
		return nil
	}
	if !sess.Transport.Capabilities().Has(CapDTMF) {
		return nil
	}
	m.async("dtmf", sess.ID, func(ctx context.Context) error {
		return sess.Transport.DTMF(ctx, digit)
	})
	return nil
}

// HangUp terminates the session. An established call is ended with a
// bye; a call without a recorded start time falls back to the first
// available of reject then cancel.
func (m *Machine) HangUp(id string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil
	}

	caps := sess.Transport.Capabilities()
	switch {
	case !sess.StartedAt.IsZero() && caps.Has(CapBye):
		m.async("bye", id, sess.Transport.Bye)
	case caps.Has(CapReject):
		m.async("reject", id, sess.Transport.Reject)
	case caps.Has(CapCancel):
		m.async("cancel", id, sess.Transport.Cancel)
	case caps.Has(CapBye):
		m.async("bye", id, sess.Transport.Bye)
	default:
		return fmt.Errorf("hang up %s: %w", id, ErrSignalingUnavailable)
	}
	return nil
}

// Timer returns the session's timer, if one was started.
func (m *Machine) Timer(id string) (*Timer, bool) {
	tm, ok := m.timers[id]
	return tm, ok
}

// accepted runs the answered transition: any other active call is
// parked first so at most one answered session stays un-held, tones
// stop, the pointer moves here, and the timer starts.
func (m *Machine) accepted(sess *Session) {
	if sess.State == StateAnswered {
		return
	}

	if activeID, ok := m.registry.Active(); ok && activeID != sess.ID {
		if other, found := m.registry.Get(activeID); found {
			if err := m.holdSession(other); err != nil {
				slog.Warn("[Phone] Failed to park active call", "session_id", activeID, "error", err)
			}
		}
	}

	m.tones.StopRing()
	m.tones.StopRingback()

	if !sess.State.CanTransitionTo(StateAnswered) {
		slog.Warn("[Phone] Accepted in unexpected state", "session_id", sess.ID, "state", sess.State)
		return
	}
	sess.State = StateAnswered
	sess.IsOnHold = false
	if sess.StartedAt.IsZero() {
		sess.StartedAt = m.now()
	}

	m.logStatus(sess, calllog.StatusAnswered)
	if err := m.registry.SetActive(sess.ID); err != nil {
		slog.Warn("[Phone] Failed to activate session", "session_id", sess.ID, "error", err)
	}
	m.startTimer(sess.ID)
	m.setStatus("Answered")

	slog.Info("[Phone] Call answered", "session_id", sess.ID, "remote", sess.RemoteAddress)
}

// holdSession parks an answered call. Holding an already-held session
// is a no-op and writes nothing to the log.
func (m *Machine) holdSession(sess *Session) error {
	if sess.IsOnHold || sess.State == StateHolding {
		return nil
	}
	if sess.State != StateAnswered {
		return &TransitionError{SessionID: sess.ID, From: sess.State, Op: "hold"}
	}

	m.registry.ClearActive(sess.ID)
	sess.State = StateHolding
	sess.IsOnHold = true
	if tm, ok := m.timers[sess.ID]; ok {
		tm.Stop()
	}
	m.logStatus(sess, calllog.StatusHolding)

	m.async("hold", sess.ID, sess.Transport.Hold)
	return nil
}

// resumeSession takes a held call back. Whatever other session owned
// the pointer is parked first, keeping a single un-held answered call.
func (m *Machine) resumeSession(sess *Session) error {
	if sess.State == StateAnswered && !sess.IsOnHold {
		return nil
	}
	if sess.State != StateHolding {
		return &TransitionError{SessionID: sess.ID, From: sess.State, Op: "resume"}
	}

	if other, ok := m.registry.ActiveSession(); ok && other.ID != sess.ID {
		if err := m.holdSession(other); err != nil {
			slog.Warn("[Phone] Failed to park active call", "session_id", other.ID, "error", err)
		}
	}

	sess.State = StateAnswered
	sess.IsOnHold = false
	if err := m.registry.SetActive(sess.ID); err != nil {
		slog.Warn("[Phone] Failed to activate session", "session_id", sess.ID, "error", err)
	}
	if tm, ok := m.timers[sess.ID]; ok {
		tm.Start()
	}
	m.logStatus(sess, calllog.StatusResumed)
	m.setStatus("Answered")

	m.async("unhold", sess.ID, sess.Transport.Unhold)
	return nil
}

// terminate runs a terminal transition: tones stop, the log records the
// outcome (the store derives "missed" for never-answered calls), the
// pointer is released, the timer stops, and the session leaves the
// registry.
func (m *Machine) terminate(sess *Session, target State, status string) {
	m.tones.StopRing()
	m.tones.StopRingback()
	if status != "" {
		m.setStatus(status)
	}

	m.logStatus(sess, calllog.StatusEnded)

	if target == StateEnded && sess.StartedAt.IsZero() {
		target = StateMissed
	}
	if sess.State.CanTransitionTo(target) {
		sess.State = target
	} else if !sess.State.IsTerminal() {
		sess.State = StateEnded
	}
	sess.EndedAt = m.now()

	if tm, ok := m.timers[sess.ID]; ok {
		tm.Stop()
		delete(m.timers, sess.ID)
	}
	m.registry.Remove(sess.ID)

	slog.Info("[Phone] Session terminated",
		"session_id", sess.ID,
		"state", sess.State,
		"remote", sess.RemoteAddress,
	)
}

// Shutdown stops every session timer. Called by the controller after
// the event loop exits.
func (m *Machine) Shutdown() {
	for id, tm := range m.timers {
		tm.Stop()
		delete(m.timers, id)
	}
}

func (m *Machine) startTimer(id string) {
	tm, ok := m.timers[id]
	if !ok {
		tm = NewTimer(m.tickInterval, func(elapsed time.Duration) {
			if m.onTick != nil {
				m.onTick(id, elapsed)
			}
		})
		m.timers[id] = tm
	}
	tm.Start()
}

// logStatus writes the call-log projection. Persistence degradation is
// logged and absorbed: a failing backend must not corrupt call state.
func (m *Machine) logStatus(sess *Session, status calllog.Status) {
	if m.log == nil {
		return
	}
	e := calllog.Entry{
		ID:   sess.ID,
		CLID: sess.RemoteDisplayName,
		URI:  sess.RemoteAddress,
		Flow: sess.Direction.String(),
	}
	if err := m.log.UpsertStatus(context.Background(), e, status); err != nil {
		slog.Warn("[Phone] Call log write failed", "session_id", sess.ID, "status", status, "error", err)
	}
}

func (m *Machine) setStatus(status string) {
	if m.onStatus != nil {
		m.onStatus(status)
	}
}

// async runs a signaling command off the event loop with a bounded
// context. Failures surface later as signaling events, so here they
// are only logged.
func (m *Machine) async(op, id string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transportTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("[Phone] Signaling command failed", "op", op, "session_id", id, "error", err)
		}
	}()
}
