package coordinator

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the concurrency-safe table of live sessions keyed by account
// identifier. It holds at most one record per account.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // accountID -> session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Admit reserves the slot for accountID and stores the record built by
// newFn. It fails with ErrAlreadyActive if the account already holds a slot.
func (r *Registry) Admit(accountID string, newFn func() *Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[accountID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, accountID)
	}
	s := newFn()
	r.sessions[accountID] = s
	return s, nil
}

// Get returns the live record for accountID, or nil.
func (r *Registry) Get(accountID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[accountID]
}

// Remove deletes the slot for accountID if it still belongs to sessionID.
// Returns false when the slot is absent or owned by another session.
func (r *Registry) Remove(accountID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[accountID]
	if !ok || s.SessionID != sessionID {
		return false
	}
	delete(r.sessions, accountID)
	return true
}

// List returns the live records ordered by start time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of occupied slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
