// Package registry tracks live sessions in process memory. Sessions do not
// survive a relay restart; clients that present an unknown id are simply
// classified as first connects again.
package registry

import (
	"sync"
	"time"

	"github.com/twinelabs/twine/internal/models"
)

// Registry is a concurrent map of session id to session. Lookups are O(1)
// by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*models.Session),
	}
}

// Register returns the session for id, creating it if absent. The bool
// reports whether this call created it, so two racing registrations of the
// same id agree on a single session.
func (r *Registry) Register(id, room string, now time.Time) (*models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		return sess, false
	}

	sess := &models.Session{
		ID:         id,
		Room:       room,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	r.sessions[id] = sess
	return sess, true
}

// Lookup returns the session for id if present.
func (r *Registry) Lookup(id string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// Touch updates the session's last-seen time and room on reconnect.
func (r *Registry) Touch(id, room string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		sess.Room = room
		sess.LastSeenAt = now
	}
}

// Forget removes the session. Called on explicit logout only; ordinary
// disconnects leave the session registered so the client can reconnect.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// ExpireIdle removes sessions not seen since the cutoff and returns the
// number removed.
func (r *Registry) ExpireIdle(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, sess := range r.sessions {
		if sess.LastSeenAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
