package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Closed set of failure classes surfaced by the identity client boundary and
// the session layer. Callers discriminate with errors.Is / errors.As rather
// than matching on message text.
var (
	// ErrMissingToken: no bearer session token on the request.
	ErrMissingToken = errors.New("missing bearer token in authorization header")
	// ErrInvalidToken: the bearer session token is malformed, expired, or
	// failed signature validation.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrSessionNotFound: the repository has no session for the derived key.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCookieNotFound: a required cookie (OAuth state) is missing or expired.
	ErrCookieNotFound = errors.New("oauth cookie not found")
	// ErrInvalidOAuth: the OAuth callback failed state or HMAC validation.
	ErrInvalidOAuth = errors.New("invalid oauth callback")
	// ErrSessionInactive: a freshly constructed session failed its activity
	// check, which points at a corrupted or unexpected provider response.
	ErrSessionInactive = errors.New("exchanged session is not active")
	// ErrExchangeTimeout: the token exchange did not settle within its deadline.
	ErrExchangeTimeout = errors.New("token exchange request timed out")
)

// HTTPResponseError is a non-2xx reply from Shopify, carrying the status code
// and response body for diagnostics.
type HTTPResponseError struct {
	Status int
	Body   string
}

func (e *HTTPResponseError) Error() string {
	return fmt.Sprintf("shopify responded with status %d: %s", e.Status, e.Body)
}

// IsAuthError reports whether the response means the credentials were
// rejected, as opposed to a transport or server problem.
func (e *HTTPResponseError) IsAuthError() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsAuthenticationError reports whether err means the caller must
// re-authorize: a 401/403 from Shopify, or any of the token and session
// failure classes. Anything else is treated as fatal by the middleware.
func IsAuthenticationError(err error) bool {
	var httpErr *HTTPResponseError
	if errors.As(err, &httpErr) {
		return httpErr.IsAuthError()
	}
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionInactive)
}
