package ports

import (
	"context"
	"net/http"

	"shopify-embedded-auth/internal/domain"
)

// IdentityClient defines the boundary to Shopify's identity surface: session
// token validation, the token-exchange grant, access token liveness, and the
// interactive OAuth handshake. Failures are reported using the closed error
// set in the domain package so callers can switch on them exhaustively.
type IdentityClient interface {
	// DecodeSessionToken validates the signature and expiry of an encoded
	// session token and returns its decoded payload. Returns
	// domain.ErrInvalidToken (wrapped) for malformed, expired, or
	// wrong-audience tokens.
	DecodeSessionToken(encoded string) (*domain.SessionToken, error)

	// ExchangeSessionToken swaps a session token for a durable access token
	// of the given mode via the token-exchange grant. A non-2xx reply is
	// returned as *domain.HTTPResponseError.
	ExchangeSessionToken(ctx context.Context, shop, encodedToken string, mode domain.AccessMode) (*domain.AccessTokenResponse, error)

	// VerifyAccessToken performs a lightweight authenticated read against the
	// shop to confirm the access token is still accepted. A rejection comes
	// back as *domain.HTTPResponseError with status 401 or 403.
	VerifyAccessToken(ctx context.Context, shop, accessToken string) error

	// BeginAuth starts the interactive authorization flow: it sets the state
	// nonce cookie on the response and returns the authorization URL the
	// merchant must be redirected to.
	BeginAuth(w http.ResponseWriter, r *http.Request, shop string, mode domain.AccessMode) (string, error)

	// ValidateCallback verifies the OAuth callback (state cookie and HMAC),
	// exchanges the authorization code, and returns the resulting session.
	// State/cookie problems come back as domain.ErrCookieNotFound or
	// domain.ErrInvalidOAuth.
	ValidateCallback(ctx context.Context, w http.ResponseWriter, r *http.Request) (*domain.Session, error)
}
