// ABOUTME: In-memory registry of active protocol sessions.
// ABOUTME: Create, lookup, and remove are linearizable under one lock.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry manages active sessions. Session ids are v4 UUIDs, generated
// server-side and never reused.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Transport
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Transport),
		logger:   slog.Default().With("component", "session"),
	}
}

// Create registers a new session and returns its transport. owner is the
// authenticated identity that opened the session, empty when auth is off.
func (r *Registry) Create(owner string) *Transport {
	t := &Transport{
		id:        uuid.New().String(),
		owner:     owner,
		createdAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[t.id] = t
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", t.id)
	return t
}

// Lookup returns the transport for a session id. Repeated lookups of a live
// session return the same transport.
func (r *Registry) Lookup(id string) (*Transport, bool) {
	r.mu.RLock()
	t, ok := r.sessions[id]
	r.mu.RUnlock()
	return t, ok
}

// Remove closes and unregisters a session. Returns false if the session was
// not present; removing twice is safe.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	t, existed := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if existed {
		t.close()
		r.logger.Info("session removed", "session_id", id)
	}
	return existed
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
