package ports

import (
	"context"

	"shopify-embedded-auth/internal/domain"
)

// SessionRepository defines the interface for session persistence. Sessions
// are keyed by the IDs produced in the domain package (offline_{shop} or
// {shop}_{userID}).
type SessionRepository interface {
	// Load returns the session for the given ID, or (nil, nil) when absent.
	Load(ctx context.Context, id string) (*domain.Session, error)
	// Save stores the session, replacing any existing session with the same ID.
	Save(ctx context.Context, session *domain.Session) error
	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error
}
