// Package calllog maintains the durable call-history projection.
//
// Entries are keyed by session id: created on the first status write
// for a session and updated in place afterwards. Persistence is
// delegated to a kv.Store collaborator; a missing or corrupt backing
// value degrades to an empty history, and a failed write keeps the
// in-memory projection intact while reporting ErrPersistenceDegraded.
package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sebas/softphone/internal/kv"
)

// ErrPersistenceDegraded indicates the backing store rejected a write.
// The in-memory history remains usable for the rest of the process
// lifetime.
var ErrPersistenceDegraded = errors.New("call log persistence degraded")

// storageKey is the kv key holding the serialized history.
const storageKey = "softphone.calls"

// Status is a call-log status value.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAnswered Status = "answered"
	StatusHolding  Status = "holding"
	StatusResumed  Status = "resumed"
	StatusEnded    Status = "ended"
	StatusMissed   Status = "missed"
)

// Terminal reports whether the status reflects a finished call.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusMissed
}

// Entry is one call-history record.
type Entry struct {
	ID     string    `json:"id"`
	CLID   string    `json:"clid"` // remote display name
	URI    string    `json:"uri"`
	Start  time.Time `json:"start"`
	Stop   time.Time `json:"stop,omitzero"`
	Flow   string    `json:"flow"` // "incoming" or "outgoing"
	Status Status    `json:"status"`
}

// Store is the call-log projection over a kv.Store backend.
type Store struct {
	mu      sync.Mutex
	backend kv.Store
	entries map[string]Entry
	loaded  bool
	now     func() time.Time
}

// NewStore creates a call-log store over the given backend. The history
// is loaded lazily on first use.
func NewStore(backend kv.Store) *Store {
	return &Store{
		backend: backend,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// UpsertStatus records a status change for the session described by e.
// The first write for an id creates the entry with Start set; later
// writes update Status in place. An "ended" write sets Stop, and is
// rewritten to "missed" when the call never left the ringing state.
// Repeating the current status is a no-op.
func (s *Store) UpsertStatus(ctx context.Context, e Entry, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	now := s.now()

	cur, exists := s.entries[e.ID]
	if !exists {
		cur = Entry{
			ID:    e.ID,
			CLID:  e.CLID,
			URI:   e.URI,
			Flow:  e.Flow,
			Start: now,
		}
	}

	next := status
	if status == StatusEnded && cur.Status == StatusRinging {
		next = StatusMissed
	}

	// Idempotent: a repeated write of the same status changes nothing.
	if exists && cur.Status == next && (!next.Terminal() || !cur.Stop.IsZero()) {
		return nil
	}

	if next.Terminal() && cur.Stop.IsZero() {
		cur.Stop = now
	}
	cur.Status = next
	s.entries[e.ID] = cur

	return s.persistLocked(ctx)
}

// List returns all entries sorted by start time descending. Ties are
// broken by id so the order is deterministic.
func (s *Store) List(ctx context.Context) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.After(out[j].Start)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Get returns the entry for a session id.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	e, ok := s.entries[id]
	return e, ok
}

// Clear removes the entire history.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry)
	s.loaded = true
	if err := s.backend.Remove(ctx, storageKey); err != nil {
		slog.Warn("[CallLog] Failed to clear backing store", "error", err)
		return fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}
	return nil
}

// loadLocked populates the projection from the backend once. Missing or
// corrupt data degrades to an empty history. Callers must hold s.mu.
func (s *Store) loadLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	raw, ok, err := s.backend.Get(ctx, storageKey)
	if err != nil {
		slog.Warn("[CallLog] Failed to read backing store, starting empty", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(raw), &s.entries); err != nil {
		slog.Warn("[CallLog] Corrupt call history, starting empty", "error", err)
		s.entries = make(map[string]Entry)
	}
}

// persistLocked writes the projection through to the backend. Callers
// must hold s.mu.
func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encoding call history: %w", err)
	}
	if err := s.backend.Set(ctx, storageKey, string(data)); err != nil {
		slog.Warn("[CallLog] Failed to persist call history", "error", err)
		return fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}
	return nil
}
