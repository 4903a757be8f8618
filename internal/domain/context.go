package domain

import "context"

// contextKey is a private type so context values set here cannot collide with
// other packages.
type contextKey string

const sessionContextKey contextKey = "shopify_session"

// WithSession returns a context carrying the authenticated session.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext returns the authenticated session for this request, or
// nil when the request has not passed verification.
func SessionFromContext(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey).(*Session)
	return session
}
