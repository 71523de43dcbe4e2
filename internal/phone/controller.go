package phone

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/softphone/internal/calllog"
	"github.com/sebas/softphone/internal/number"
	"github.com/sebas/softphone/internal/tone"
)

// Status is the externally visible phone state.
type Status struct {
	Connection string `json:"connection"`
	Call       string `json:"call"`
}

// Config configures a Phone.
type Config struct {
	// Signaling places outbound calls. Without it Dial fails with
	// ErrSignalingUnavailable; inbound handling still works.
	Signaling Signaling

	// Log is the call-history store. Optional.
	Log *calllog.Store

	// Tones is the audio collaborator. Defaults to a no-op player.
	Tones tone.Player

	// OnCallStatus and OnConnectionStatus receive status line updates.
	OnCallStatus       func(status string)
	OnConnectionStatus func(status string)

	// OnTick receives per-session timer refresh notifications,
	// serialized on the event loop.
	OnTick func(sessionID string, elapsed time.Duration)

	TickInterval time.Duration
	Now          func() time.Time
}

type op struct {
	fn    func() error
	reply chan error
}

// Phone orchestrates user commands and signaling events. Both are
// serialized onto a single event loop, so no two transitions ever run
// concurrently and the active-call pointer needs no further locking
// discipline from callers.
type Phone struct {
	cfg      Config
	machine  *Machine
	registry *Registry

	ops       chan op
	closed    chan struct{}
	closeOnce sync.Once

	statusMu   sync.RWMutex
	connStatus string
	callStatus string
}

// NewPhone creates a Phone. Run must be called before commands are
// issued.
func NewPhone(cfg Config) *Phone {
	p := &Phone{
		cfg:    cfg,
		ops:    make(chan op),
		closed: make(chan struct{}),
	}
	p.registry = NewRegistry()
	p.machine = NewMachine(MachineConfig{
		Registry:     p.registry,
		Log:          cfg.Log,
		Tones:        cfg.Tones,
		OnCallStatus: p.setCallStatus,
		OnTick:       p.postTick,
		TickInterval: cfg.TickInterval,
		Now:          cfg.Now,
	})
	return p
}

// SetSignaling installs the outbound-call collaborator. The agent and
// the phone reference each other, so the agent is wired in after both
// are constructed and before Run.
func (p *Phone) SetSignaling(s Signaling) {
	p.cfg.Signaling = s
}

// Run drives the event loop until ctx is canceled or Close is called.
func (p *Phone) Run(ctx context.Context) error {
	defer p.machine.Shutdown()
	for {
		select {
		case <-ctx.Done():
			p.Close()
			return nil
		case <-p.closed:
			return nil
		case o := <-p.ops:
			o.reply <- o.fn()
		}
	}
}

// Close stops the event loop. Pending and later commands fail with
// ErrPhoneClosed.
func (p *Phone) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// do posts fn onto the event loop and waits for its result.
func (p *Phone) do(fn func() error) error {
	o := op{fn: fn, reply: make(chan error, 1)}
	select {
	case p.ops <- o:
	case <-p.closed:
		return ErrPhoneClosed
	}
	select {
	case err := <-o.reply:
		return err
	case <-p.closed:
		return ErrPhoneClosed
	}
}

// Dial places an outbound call. It always creates a new session.
func (p *Phone) Dial(ctx context.Context, target string) error {
	if p.cfg.Signaling == nil {
		return fmt.Errorf("dial: %w", ErrSignalingUnavailable)
	}
	t, err := p.cfg.Signaling.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	return p.attach(t)
}

// HandleIncoming adopts an inbound call from the signaling agent.
func (p *Phone) HandleIncoming(t Transport) error {
	return p.attach(t)
}

// attach assigns a session id, registers the session, and binds the
// transport's event stream to it.
func (p *Phone) attach(t Transport) error {
	id := number.NewID()
	if err := p.do(func() error {
		_, err := p.machine.NewSession(id, t)
		return err
	}); err != nil {
		return err
	}

	t.OnEvent(func(ev Event) {
		if err := p.do(func() error {
			p.machine.HandleEvent(id, ev)
			return nil
		}); err != nil {
			slog.Debug("[Phone] Dropped event after shutdown", "session_id", id, "event", ev.Kind)
		}
	})
	return nil
}

// Answer accepts an incoming ringing call.
func (p *Phone) Answer(id string) error {
	return p.do(func() error { return p.machine.Answer(id) })
}

// HoldResume toggles hold on the session.
func (p *Phone) HoldResume(id string) error {
	return p.do(func() error { return p.machine.HoldResume(id) })
}

// Mute toggles mute on the session.
func (p *Phone) Mute(id string) error {
	return p.do(func() error { return p.machine.Mute(id) })
}

// Transfer blind-transfers the session to target.
func (p *Phone) Transfer(id, target string) error {
	return p.do(func() error { return p.machine.Transfer(id, target) })
}

// HangUp terminates the session.
func (p *Phone) HangUp(id string) error {
	return p.do(func() error { return p.machine.HangUp(id) })
}

// SendDigit sends a DTMF digit on the active call; a no-op when no
// call is active.
func (p *Phone) SendDigit(digit rune) error {
	return p.do(func() error { return p.machine.SendDigit(digit) })
}

// Status returns the connection and call status lines.
func (p *Phone) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return Status{Connection: p.connStatus, Call: p.callStatus}
}

// Active returns the active session id, if any.
func (p *Phone) Active() (string, bool) {
	return p.registry.Active()
}

// SessionCount returns the number of live sessions.
func (p *Phone) SessionCount() int {
	return p.registry.Len()
}

// CallLog returns the call history, newest first.
func (p *Phone) CallLog(ctx context.Context) []calllog.Entry {
	if p.cfg.Log == nil {
		return nil
	}
	return p.cfg.Log.List(ctx)
}

// ClearCallLog removes the entire call history.
func (p *Phone) ClearCallLog(ctx context.Context) error {
	if p.cfg.Log == nil {
		return nil
	}
	return p.cfg.Log.Clear(ctx)
}

// SetConnectionStatus is called by the signaling agent to report
// registration state ("Ready", "Error: Registration Failed", ...).
func (p *Phone) SetConnectionStatus(status string) {
	p.statusMu.Lock()
	p.connStatus = status
	p.statusMu.Unlock()
	if p.cfg.OnConnectionStatus != nil {
		p.cfg.OnConnectionStatus(status)
	}
}

// setCallStatus is the machine's status sink. It runs on the loop.
func (p *Phone) setCallStatus(status string) {
	p.statusMu.Lock()
	p.callStatus = status
	p.statusMu.Unlock()
	if p.cfg.OnCallStatus != nil {
		p.cfg.OnCallStatus(status)
	}
}

// postTick serializes a timer tick onto the loop before notifying.
func (p *Phone) postTick(id string, elapsed time.Duration) {
	if p.cfg.OnTick == nil {
		return
	}
	_ = p.do(func() error {
		p.cfg.OnTick(id, elapsed)
		return nil
	})
}
