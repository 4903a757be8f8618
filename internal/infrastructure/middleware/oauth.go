package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"shopify-embedded-auth/internal/application"
	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/infrastructure/metrics"
	"shopify-embedded-auth/internal/ports"

	"github.com/rs/zerolog"
)

// OAuthOptions configures the interactive authorization middleware.
type OAuthOptions struct {
	// AccessMode selects online or offline access tokens. Defaults to online.
	AccessMode domain.AccessMode
	// AuthPath is the OAuth entry point. Defaults to "/auth".
	AuthPath string
	// AfterAuth runs once the callback validated and the session was saved.
	// It owns the response; when unset the merchant is redirected into the
	// embedded app at "/".
	AfterAuth func(w http.ResponseWriter, r *http.Request, session *domain.Session)
}

// OAuth handles the interactive authorization flow: the top-level redirect
// bridge, the auth start, and the provider callback. Everything else passes
// through to the next handler.
type OAuth struct {
	identity     ports.IdentityClient
	sessions     ports.SessionRepository
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	apiKey       string
	cookieSecret []byte
	accessMode   domain.AccessMode
	authPath     string
	inlinePath   string
	callbackPath string
	afterAuth    func(w http.ResponseWriter, r *http.Request, session *domain.Session)
}

// NewOAuth creates the authorization middleware. The auth path must start
// with "/" and must not end with one. The API secret signs the session cookie
// set after a completed callback.
func NewOAuth(
	identity ports.IdentityClient,
	sessions ports.SessionRepository,
	logger zerolog.Logger,
	m *metrics.Metrics,
	apiKey, apiSecret string,
	opts OAuthOptions,
) (*OAuth, error) {
	if opts.AccessMode == "" {
		opts.AccessMode = domain.AccessModeOnline
	}
	if opts.AuthPath == "" {
		opts.AuthPath = "/auth"
	}
	if err := validateAuthPath(opts.AuthPath); err != nil {
		return nil, err
	}
	return &OAuth{
		identity:     identity,
		sessions:     sessions,
		logger:       logger,
		metrics:      m,
		apiKey:       apiKey,
		cookieSecret: []byte(apiSecret),
		accessMode:   opts.AccessMode,
		authPath:     opts.AuthPath,
		inlinePath:   opts.AuthPath + "/inline",
		callbackPath: opts.AuthPath + "/callback",
		afterAuth:    opts.AfterAuth,
	}, nil
}

// Middleware returns the chi-compatible wrapper.
func (o *OAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch path := r.URL.Path; {
			case path == o.inlinePath || (path == o.authPath && hasTopLevelCookie(r)):
				o.beginAuth(w, r)
			case path == o.authPath:
				o.topLevelRedirect(w, r)
			case path == o.callbackPath:
				o.callback(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// beginAuth starts OAuth proper. By the time this runs the browser has
// already escaped the iframe (marker cookie present) or hit the explicit
// inline path.
func (o *OAuth) beginAuth(w http.ResponseWriter, r *http.Request) {
	shopParam := r.URL.Query().Get("shop")
	if shopParam == "" {
		http.Error(w, "Missing shop parameter", http.StatusBadRequest)
		return
	}
	shop, ok := domain.SanitizeShopDomain(shopParam)
	if !ok {
		http.Error(w, "Invalid shop parameter", http.StatusBadRequest)
		return
	}

	setTopLevelCookie(w, r, "")
	authURL, err := o.identity.BeginAuth(w, r, shop, o.accessMode)
	if err != nil {
		o.logger.Error().Err(err).Str("shop", shop).Msg("Failed to begin OAuth")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// topLevelRedirect serves the bridge script that bounces the browser through
// a top-level navigation, because Shopify's authorization page refuses to
// render inside third-party iframes.
func (o *OAuth) topLevelRedirect(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	params := url.Values{}
	params.Set("shop", shop)
	redirectTo := fmt.Sprintf("https://%s%s?%s", r.Host, o.inlinePath, params.Encode())

	setTopLevelCookie(w, r, "1")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, topLevelRedirectScript(shop, redirectTo, o.apiKey))
}

func (o *OAuth) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := o.identity.ValidateCallback(ctx, w, r)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCookieNotFound) || errors.Is(err, domain.ErrSessionNotFound):
			// Most likely the state cookie expired before the merchant
			// approved the request; send them back to start over.
			o.metrics.OAuthCallbacks.WithLabelValues("retriable").Inc()
			o.logger.Warn().Err(err).Msg("Retriable OAuth callback failure")
			shop := url.QueryEscape(r.URL.Query().Get("shop"))
			http.Redirect(w, r, o.authPath+"?shop="+shop, http.StatusFound)
		case errors.Is(err, domain.ErrInvalidOAuth):
			o.metrics.OAuthCallbacks.WithLabelValues("invalid").Inc()
			o.logger.Warn().Err(err).Msg("Invalid OAuth callback")
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			o.metrics.OAuthCallbacks.WithLabelValues("error").Inc()
			o.logger.Error().Err(err).Msg("OAuth callback validation failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	if err := o.sessions.Save(ctx, session); err != nil {
		o.metrics.OAuthCallbacks.WithLabelValues("error").Inc()
		o.logger.Error().Err(err).Str("shop", session.Shop).Msg("Failed to save session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Non-embedded clients resolve their session through this cookie. The
	// value is signed; a bare session ID would be guessable.
	sessionCookie := &http.Cookie{
		Name:     application.SessionCookieName,
		Value:    application.SignSessionCookie(o.cookieSecret, session.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	if session.Expires != nil {
		sessionCookie.MaxAge = int(time.Until(*session.Expires).Seconds())
	}
	http.SetCookie(w, sessionCookie)
	setTopLevelCookie(w, r, "")

	o.metrics.OAuthCallbacks.WithLabelValues("success").Inc()
	o.logger.Info().Str("shop", session.Shop).Msg("OAuth completed")

	r = r.WithContext(domain.WithSession(ctx, session))
	if o.afterAuth != nil {
		o.afterAuth(w, r, session)
		return
	}

	params := url.Values{}
	params.Set("shop", session.Shop)
	if host := r.URL.Query().Get("host"); host != "" {
		params.Set("host", host)
	}
	http.Redirect(w, r, "/?"+params.Encode(), http.StatusFound)
}
