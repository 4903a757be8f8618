package shopify

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shopify-embedded-auth/internal/domain"
	"shopify-embedded-auth/internal/ports"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// OAuthStateCookieName carries the CSRF nonce between BeginAuth and
// ValidateCallback.
const OAuthStateCookieName = "shopify_oauth_state"

// stateCookieMaxAge bounds how long a merchant has to approve the app before
// the callback becomes unverifiable.
const stateCookieMaxAge = 10 * time.Minute

// Config holds the app credentials and OAuth settings for the client.
type Config struct {
	APIKey      string
	APISecret   string
	RedirectURL string // absolute URL of the OAuth callback
	Scopes      []string
	// HTTPClient overrides the client used for direct Shopify calls.
	HTTPClient *http.Client
}

// Client implements ports.IdentityClient against Shopify's OAuth and Admin
// API endpoints.
type Client struct {
	apiKey     string
	apiSecret  string
	app        goshopify.App
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Shopify identity client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	app := goshopify.App{
		ApiKey:      cfg.APIKey,
		ApiSecret:   cfg.APISecret,
		RedirectUrl: cfg.RedirectURL,
		Scope:       strings.Join(cfg.Scopes, ","),
	}
	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		app:        app,
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ ports.IdentityClient = (*Client)(nil)

// sessionTokenClaims is the JWT payload Shopify signs for embedded apps.
type sessionTokenClaims struct {
	Dest string `json:"dest"`
	Sid  string `json:"sid"`
	jwt.RegisteredClaims
}

// DecodeSessionToken validates an encoded session token against the app
// secret and returns its decoded payload. Shopify signs session tokens with
// HS256; the audience claim must match the app's API key.
func (c *Client) DecodeSessionToken(encoded string) (*domain.SessionToken, error) {
	claims := &sessionTokenClaims{}
	_, err := jwt.ParseWithClaims(encoded, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(c.apiSecret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(c.apiKey),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	token := &domain.SessionToken{
		Issuer:         claims.Issuer,
		Destination:    claims.Dest,
		Subject:        claims.Subject,
		JTI:            claims.ID,
		SessionID:      claims.Sid,
		EncodedPayload: encoded,
	}
	if len(claims.Audience) > 0 {
		token.Audience = claims.Audience[0]
	}
	if claims.ExpiresAt != nil {
		token.Expires = claims.ExpiresAt.Time
	}
	if claims.NotBefore != nil {
		token.NotBefore = claims.NotBefore.Time
	}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.Time
	}
	return token, nil
}

// ExchangeSessionToken performs the token-exchange grant against the shop's
// access token endpoint.
// https://shopify.dev/docs/apps/auth/get-access-tokens/token-exchange
func (c *Client) ExchangeSessionToken(
	ctx context.Context,
	shop string,
	encodedToken string,
	mode domain.AccessMode,
) (*domain.AccessTokenResponse, error) {
	body := map[string]string{
		"client_id":            c.apiKey,
		"client_secret":        c.apiSecret,
		"grant_type":           "urn:ietf:params:oauth:grant-type:token-exchange",
		"subject_token":        encodedToken,
		"subject_token_type":   "urn:ietf:params:oauth:token-type:id_token",
		"requested_token_type": fmt.Sprintf("urn:shopify:params:oauth:token-type:%s-access-token", mode),
	}
	return c.postAccessToken(ctx, shop, body)
}

// VerifyAccessToken makes a lightweight authenticated read against the shop
// to confirm the token is still accepted. Shopify answers 401 for revoked or
// forged tokens.
func (c *Client) VerifyAccessToken(ctx context.Context, shop, accessToken string) error {
	url := fmt.Sprintf("https://%s/admin/shop.json", shop)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create shop request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach shop: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &domain.HTTPResponseError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// BeginAuth sets the OAuth state cookie and returns the authorization URL the
// merchant must be redirected to. Online mode requests a per-user grant.
func (c *Client) BeginAuth(w http.ResponseWriter, r *http.Request, shop string, mode domain.AccessMode) (string, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	state := hex.EncodeToString(stateBytes)

	authURL, err := c.app.AuthorizeUrl(shop, state)
	if err != nil {
		return "", fmt.Errorf("failed to build authorize url: %w", err)
	}
	if mode == domain.AccessModeOnline {
		authURL += "&grant_options%5B%5D=per-user"
	}

	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	c.logger.Debug().Str("shop", shop).Str("accessMode", string(mode)).Msg("Beginning OAuth flow")
	return authURL, nil
}

// ValidateCallback verifies the OAuth callback query (state nonce and HMAC)
// and exchanges the authorization code for a session.
func (c *Client) ValidateCallback(ctx context.Context, w http.ResponseWriter, r *http.Request) (*domain.Session, error) {
	query := r.URL.Query()
	shop := query.Get("shop")
	code := query.Get("code")
	state := query.Get("state")
	if shop == "" || code == "" || state == "" {
		return nil, fmt.Errorf("%w: missing shop, code, or state parameter", domain.ErrInvalidOAuth)
	}

	cookie, err := r.Cookie(OAuthStateCookieName)
	if err != nil || cookie.Value == "" {
		return nil, domain.ErrCookieNotFound
	}
	if cookie.Value != state {
		return nil, fmt.Errorf("%w: state mismatch", domain.ErrInvalidOAuth)
	}

	ok, err := c.app.VerifyAuthorizationURL(r.URL)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: hmac verification failed", domain.ErrInvalidOAuth)
	}

	normalized, ok := domain.SanitizeShopDomain(shop)
	if !ok {
		return nil, fmt.Errorf("%w: invalid shop domain %q", domain.ErrInvalidOAuth, shop)
	}

	resp, err := c.postAccessToken(ctx, normalized, map[string]string{
		"client_id":     c.apiKey,
		"client_secret": c.apiSecret,
		"code":          code,
	})
	if err != nil {
		return nil, err
	}

	// The state nonce is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	session := domain.NewSessionFromAccessToken(resp, normalized, state, time.Now())
	c.logger.Info().
		Str("shop", normalized).
		Str("accessMode", string(session.AccessMode)).
		Msg("OAuth callback validated")
	return session, nil
}

// postAccessToken posts a JSON body to the shop's access token endpoint and
// decodes the response. Both the authorization-code grant and the
// token-exchange grant use the same endpoint.
func (c *Client) postAccessToken(ctx context.Context, shop string, body map[string]string) (*domain.AccessTokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	url := fmt.Sprintf("https://%s/admin/oauth/access_token", shop)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &domain.HTTPResponseError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var tokenResp domain.AccessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &tokenResp, nil
}
