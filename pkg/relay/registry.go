package relay

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrSessionNotFound is returned by Get for unknown session IDs.
	ErrSessionNotFound = errors.New("live session not found")
	// ErrSessionExists is returned by Create when the ID is already active.
	ErrSessionExists = errors.New("live session already active")
)

// Session is one live connection bound to a conversation.
type Session struct {
	ID           string
	ConnectionID string
	AppName      string
	UserID       string
	Voice        string
	Modalities   []string
	Queue        *LiveRequestQueue
	ConnectedAt  time.Time
}

// SessionRegistry tracks the live sessions of a server.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Create registers sess under its ID.
func (r *SessionRegistry) Create(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.ID]; exists {
		return ErrSessionExists
	}
	r.sessions[sess.ID] = sess
	return nil
}

// Get looks up a live session.
func (r *SessionRegistry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove drops a session. Unknown IDs are ignored.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// IDs returns the active session IDs, sorted.
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
