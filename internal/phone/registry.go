package phone

import (
	"fmt"
	"sync"
)

// Registry maps session ids to live sessions and tracks the single
// active-call pointer: the one session currently bound to the local
// audio path and DTMF input.
//
// Invariant: at most one session owns the pointer at any time, and that
// session is always answered and not on hold. All mutation funnels
// through Machine transitions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	activeID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts a session by id. Registering an id twice is a
// programming error and fails with ErrDuplicateSession.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("register %s: %w", s.ID, ErrDuplicateSession)
	}
	r.sessions[s.ID] = s
	return nil
}

// Get retrieves a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes a session. Removing an absent id is a no-op. A removed
// session can no longer own the active pointer.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	if r.activeID == id {
		r.activeID = ""
	}
}

// SetActive marks the session as the active call. The session must be
// answered and not on hold, otherwise ErrInvalidActivation is returned
// and the pointer is unchanged.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("activate %s: %w", id, ErrInvalidActivation)
	}
	if s.State != StateAnswered || s.IsOnHold {
		return fmt.Errorf("activate %s (state %s, on hold %t): %w", id, s.State, s.IsOnHold, ErrInvalidActivation)
	}
	r.activeID = id
	return nil
}

// ClearActive drops the pointer if id currently owns it.
func (r *Registry) ClearActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeID == id {
		r.activeID = ""
	}
}

// Active returns the active session id, if any.
func (r *Registry) Active() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID, r.activeID != ""
}

// ActiveSession returns the active session, if any.
func (r *Registry) ActiveSession() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, false
	}
	s, ok := r.sessions[r.activeID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach iterates over all sessions, stopping if fn returns false.
func (r *Registry) ForEach(fn func(*Session) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if !fn(s) {
			break
		}
	}
}
