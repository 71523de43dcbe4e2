package phone

import (
	"sync"
	"time"
)

// DefaultTickInterval is the timer tick period.
const DefaultTickInterval = time.Second

// Timer tracks elapsed talk time for one session. Elapsed time is
// accumulated from wall-clock deltas on each tick rather than counting
// ticks, so a delayed tick never loses time.
type Timer struct {
	mu       sync.Mutex
	interval time.Duration
	elapsed  time.Duration
	last     time.Time
	running  bool
	stopCh   chan struct{}
	onTick   func(elapsed time.Duration)
	now      func() time.Time
}

// NewTimer creates a stopped timer. onTick, if non-nil, is invoked on
// every tick with the accumulated elapsed time.
func NewTimer(interval time.Duration, onTick func(elapsed time.Duration)) *Timer {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Timer{
		interval: interval,
		onTick:   onTick,
		now:      time.Now,
	}
}

// Start begins ticking. Calling Start on a running timer is a no-op.
func (t *Timer) Start() {
	t.StartFrom(-1)
}

// StartFrom begins ticking with the elapsed counter preset to base.
// A negative base keeps the current counter, which is how a resumed
// call continues from its pre-hold talk time.
func (t *Timer) StartFrom(base time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if base >= 0 {
		t.elapsed = base
	}
	if t.running {
		return
	}
	t.running = true
	t.last = t.now()
	t.stopCh = make(chan struct{})
	go t.loop(t.stopCh)
}

// Stop halts ticking and folds the time since the last tick into the
// counter. The elapsed value is retained.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	t.elapsed += t.now().Sub(t.last)
	close(t.stopCh)
}

// Reset zeroes the counter. The running state is unchanged.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elapsed = 0
	t.last = t.now()
}

// Elapsed returns the accumulated duration, including time since the
// last tick while running.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.elapsed + t.now().Sub(t.last)
	}
	return t.elapsed
}

// Running reports whether the timer is ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			if !t.running {
				t.mu.Unlock()
				return
			}
			now := t.now()
			t.elapsed += now.Sub(t.last)
			t.last = now
			elapsed := t.elapsed
			cb := t.onTick
			t.mu.Unlock()

			if cb != nil {
				cb(elapsed)
			}
		case <-stopCh:
			return
		}
	}
}
