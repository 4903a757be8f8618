package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"shopify-embedded-auth/internal/application"
	"shopify-embedded-auth/internal/domain"

	"github.com/rs/zerolog"
)

// Response headers telling an API client (header mode) how to re-authorize.
const (
	ReauthHeader       = "X-Shopify-API-Request-Failure-Reauthorize"
	ReauthURLHeader    = "X-Shopify-API-Request-Failure-Reauthorize-Url"
	InvalidTokenHeader = "X-Shopify-API-Request-Failure-Invalid-Session-Token"
)

// VerifyOptions configures the request verification middleware.
type VerifyOptions struct {
	// AccessMode selects online (per-user) or offline (per-shop) sessions.
	// Defaults to online.
	AccessMode domain.AccessMode
	// AuthRoute is where unauthenticated callers are sent. Defaults to "/auth".
	AuthRoute string
	// ReturnHeader switches the reauthorization signal from an HTTP redirect
	// to a 401 with the reauth headers, for XHR/fetch callers that cannot
	// follow a redirect chain.
	ReturnHeader bool
	// AfterSessionRefresh runs after a silent token exchange produced a new
	// session, before the next handler is invoked.
	AfterSessionRefresh func(r *http.Request, session *domain.Session)
}

// Verifier decides, per request, whether an existing session is valid,
// whether it can be refreshed silently through a token exchange, or whether
// the caller must be sent through the interactive authorization flow.
type Verifier struct {
	sessions            *application.SessionService
	exchanger           *application.TokenExchangeService
	liveness            *application.TokenLivenessVerifier
	logger              zerolog.Logger
	accessMode          domain.AccessMode
	authRoute           string
	returnHeader        bool
	afterSessionRefresh func(r *http.Request, session *domain.Session)
	now                 func() time.Time
}

// NewVerifier creates the verification middleware. The auth route must start
// with "/" and must not end with one.
func NewVerifier(
	sessions *application.SessionService,
	exchanger *application.TokenExchangeService,
	liveness *application.TokenLivenessVerifier,
	logger zerolog.Logger,
	opts VerifyOptions,
) (*Verifier, error) {
	if opts.AccessMode == "" {
		opts.AccessMode = domain.AccessModeOnline
	}
	if opts.AuthRoute == "" {
		opts.AuthRoute = "/auth"
	}
	if err := validateAuthPath(opts.AuthRoute); err != nil {
		return nil, err
	}
	return &Verifier{
		sessions:            sessions,
		exchanger:           exchanger,
		liveness:            liveness,
		logger:              logger,
		accessMode:          opts.AccessMode,
		authRoute:           opts.AuthRoute,
		returnHeader:        opts.ReturnHeader,
		afterSessionRefresh: opts.AfterSessionRefresh,
		now:                 time.Now,
	}, nil
}

// Middleware returns the chi-compatible wrapper.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v.handle(w, r, next)
		})
	}
}

func (v *Verifier) handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	session, err := v.sessions.LoadCurrent(ctx, r)
	if err != nil {
		if domain.IsAuthenticationError(err) {
			v.logger.Warn().Err(err).Msg("Rejecting request with unusable session token")
			v.reauthorize(w, r, nil, true)
			return
		}
		v.logger.Error().Err(err).Msg("Failed to load session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// A shop parameter naming a different shop than the stored session means
	// the merchant switched stores: the old session is gone, log in again.
	if shop := r.URL.Query().Get("shop"); shop != "" && session != nil && session.Shop != shop {
		if err := v.sessions.DeleteCurrent(ctx, r); err != nil {
			v.logger.Warn().Err(err).Str("shop", shop).Msg("Failed to clear mismatched session")
		}
		http.Redirect(w, r, v.authRoute+"?"+r.URL.RawQuery, http.StatusFound)
		return
	}

	if session != nil && session.IsActive(v.now()) {
		err := v.liveness.Verify(ctx, session)
		if err == nil {
			setTopLevelCookie(w, r, "")
			next.ServeHTTP(w, r.WithContext(domain.WithSession(ctx, session)))
			return
		}
		if !domain.IsAuthenticationError(err) {
			// Transport or server trouble is not a reauth signal.
			v.logger.Error().Err(err).Str("shop", session.Shop).Msg("Access token verification failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		v.logger.Warn().Str("shop", session.Shop).Msg("Stored access token no longer valid")
	}

	// No usable session. Try to exchange the bearer session token for a new
	// one; a missing token means we are not in an embedded context and the
	// caller has to go through the interactive flow instead.
	token, err := v.sessions.DecodeBearer(r)
	if err != nil {
		if errors.Is(err, domain.ErrMissingToken) {
			v.reauthorize(w, r, nil, false)
		} else {
			v.logger.Warn().Err(err).Msg("Invalid bearer session token")
			v.reauthorize(w, r, nil, true)
		}
		return
	}

	refreshed, err := v.exchanger.Exchange(ctx, token.Shop(), token.EncodedPayload, v.accessMode, true)
	if err != nil {
		v.logger.Warn().Err(err).Str("shop", token.Shop()).Msg("Token exchange failed")
		v.reauthorize(w, r, token, false)
		return
	}
	if !refreshed.IsActive(v.now()) {
		v.reauthorize(w, r, token, false)
		return
	}

	setTopLevelCookie(w, r, "")
	if v.afterSessionRefresh != nil {
		v.afterSessionRefresh(r, refreshed)
	}
	next.ServeHTTP(w, r.WithContext(domain.WithSession(ctx, refreshed)))
}

// reauthorize tells the caller to re-drive the authorization flow: a 401 with
// the reauth headers in header mode, an HTTP redirect otherwise. The reauth
// URL is rebuilt from the decoded session token when available, falling back
// to the referer's query string.
func (v *Verifier) reauthorize(w http.ResponseWriter, r *http.Request, token *domain.SessionToken, invalidToken bool) {
	if !v.returnHeader {
		redirectURL := v.authRoute
		if qs := r.URL.RawQuery; qs != "" {
			redirectURL += "?" + qs
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
		return
	}

	query := ""
	if token != nil {
		query = token.ShopHostQuery()
	} else if referer := r.Referer(); referer != "" {
		if u, err := url.Parse(referer); err == nil {
			query = u.RawQuery
		}
	}
	reauthURL := v.authRoute
	if query != "" {
		reauthURL += "?" + query
	}

	w.Header().Set(ReauthHeader, "1")
	w.Header().Set(ReauthURLHeader, reauthURL)
	if invalidToken {
		w.Header().Set(InvalidTokenHeader, "1")
	}
	w.WriteHeader(http.StatusUnauthorized)
}
