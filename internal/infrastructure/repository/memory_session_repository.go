package repository

import (
	"context"
	"sync"

	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/ports"
)

// MemorySessionRepository is an in-process SessionRepository for development
// and tests. Sessions are copied on the way in and out so callers cannot
// mutate stored state in place.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewMemorySessionRepository creates an empty in-memory session repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]domain.Session),
	}
}

var _ ports.SessionRepository = (*MemorySessionRepository)(nil)

// Load retrieves a session by ID. Returns (nil, nil) when absent.
func (r *MemorySessionRepository) Load(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// Save stores a copy of the session under its ID.
func (r *MemorySessionRepository) Save(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = *session
	return nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

// Len reports how many sessions are stored, for tests.
func (r *MemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
