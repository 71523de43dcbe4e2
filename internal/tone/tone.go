// Package tone defines the audio collaborator for call-progress tones.
// All playback is fire-and-forget; failures are silently ignored and
// never affect call state.
package tone

import "log/slog"

// Player plays and stops local call-progress tones.
type Player interface {
	// StartRing starts the incoming-call ring tone.
	StartRing()
	// StopRing stops the incoming-call ring tone.
	StopRing()
	// StartRingback starts the outbound ringback tone.
	StartRingback()
	// StopRingback stops the outbound ringback tone.
	StopRingback()
	// PlayDTMF plays a short keypad feedback tone.
	PlayDTMF()
}

// Nop is a Player that does nothing. Useful for tests and headless
// deployments.
type Nop struct{}

// NewNop returns a no-op player.
func NewNop() Nop { return Nop{} }

func (Nop) StartRing()     {}
func (Nop) StopRing()      {}
func (Nop) StartRingback() {}
func (Nop) StopRingback()  {}
func (Nop) PlayDTMF()      {}

// Log is a Player that records tone activity at debug level. It stands
// in for a real audio device where none is attached.
type Log struct{}

// NewLog returns a logging player.
func NewLog() Log { return Log{} }

func (Log) StartRing()     { slog.Debug("[Tone] Ring started") }
func (Log) StopRing()      { slog.Debug("[Tone] Ring stopped") }
func (Log) StartRingback() { slog.Debug("[Tone] Ringback started") }
func (Log) StopRingback()  { slog.Debug("[Tone] Ringback stopped") }
func (Log) PlayDTMF()      { slog.Debug("[Tone] DTMF tone") }

var (
	_ Player = Nop{}
	_ Player = Log{}
)
