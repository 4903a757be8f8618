package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/ports"

	"github.com/rs/zerolog"
)

// SessionCookieName carries the signed session ID for non-embedded requests,
// where no bearer session token is available.
const SessionCookieName = "shopify_app_session"

// SignSessionCookie returns the session ID with an HMAC-SHA256 signature over
// the app secret appended. Session IDs are deterministic (offline_{shop},
// {shop}_{userID}), so a bare ID in a cookie would let anyone impersonate a
// shop that has a stored session; the signature binds the cookie to issuance.
func SignSessionCookie(secret []byte, id string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

// verifySessionCookie checks the signature on a cookie value and returns the
// session ID it carries.
func verifySessionCookie(secret []byte, value string) (string, bool) {
	i := strings.LastIndex(value, ".")
	if i <= 0 {
		return "", false
	}
	id := value[:i]
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(value[i+1:]), []byte(expected)) {
		return "", false
	}
	return id, true
}

// SessionService resolves the session belonging to the current request. For
// embedded requests the session key is derived from the signed bearer token;
// non-embedded requests fall back to the signed session cookie. The service
// only holds transient read-only views; the repository owns the data.
type SessionService struct {
	identity     ports.IdentityClient
	sessions     ports.SessionRepository
	mode         domain.AccessMode
	cookieSecret []byte
	logger       zerolog.Logger
}

// NewSessionService creates a session service for the given access mode. The
// cookie secret verifies session cookie signatures; it is the app's API
// secret.
func NewSessionService(
	identity ports.IdentityClient,
	sessions ports.SessionRepository,
	mode domain.AccessMode,
	cookieSecret []byte,
	logger zerolog.Logger,
) *SessionService {
	return &SessionService{
		identity:     identity,
		sessions:     sessions,
		mode:         mode,
		cookieSecret: cookieSecret,
		logger:       logger,
	}
}

// Repository exposes the underlying session repository.
func (s *SessionService) Repository() ports.SessionRepository {
	return s.sessions
}

// BearerSessionToken extracts the encoded session token from the request's
// Authorization header. Returns domain.ErrMissingToken when there is none.
func BearerSessionToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", domain.ErrMissingToken
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}

// DecodeBearer extracts and decodes the bearer session token from the
// request. Signature and expiry validation is delegated to the identity
// client.
func (s *SessionService) DecodeBearer(r *http.Request) (*domain.SessionToken, error) {
	encoded, err := BearerSessionToken(r)
	if err != nil {
		return nil, err
	}
	return s.identity.DecodeSessionToken(encoded)
}

// CurrentSessionID derives the repository key for the current request. An
// empty ID with a nil error means the request carries no session identity at
// all.
func (s *SessionService) CurrentSessionID(r *http.Request) (string, error) {
	token, err := s.DecodeBearer(r)
	if err == nil {
		if s.mode == domain.AccessModeOnline {
			return domain.OnlineSessionID(token.Shop(), token.UserID()), nil
		}
		return domain.OfflineSessionID(token.Shop()), nil
	}
	if !errors.Is(err, domain.ErrMissingToken) {
		return "", err
	}

	cookie, cookieErr := r.Cookie(SessionCookieName)
	if cookieErr != nil || cookie.Value == "" {
		return "", nil
	}
	id, ok := verifySessionCookie(s.cookieSecret, cookie.Value)
	if !ok {
		s.logger.Warn().Msg("Discarding session cookie with missing or invalid signature")
		return "", nil
	}
	return id, nil
}

// LoadCurrent loads the session for the current request, or (nil, nil) when
// the request has no session.
func (s *SessionService) LoadCurrent(ctx context.Context, r *http.Request) (*domain.Session, error) {
	id, err := s.CurrentSessionID(r)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return s.sessions.Load(ctx, id)
}

// DeleteCurrent removes the session for the current request, if any.
func (s *SessionService) DeleteCurrent(ctx context.Context, r *http.Request) error {
	id, err := s.CurrentSessionID(r)
	if err != nil || id == "" {
		// Nothing to clear for requests without a resolvable session key.
		return nil
	}
	return s.sessions.Delete(ctx, id)
}
