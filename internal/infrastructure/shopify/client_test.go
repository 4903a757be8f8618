package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"shopify-embedded-auth/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
)

// rewriteTransport sends every request to the test server regardless of the
// shop domain the client addressed.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	var httpClient *http.Client
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		target, err := url.Parse(server.URL)
		require.NoError(t, err)
		httpClient = &http.Client{Transport: &rewriteTransport{target: target}}
	}

	return NewClient(Config{
		APIKey:      testAPIKey,
		APISecret:   testAPISecret,
		RedirectURL: "https://app.example.com/auth/callback",
		Scopes:      []string{"read_products", "write_products"},
		HTTPClient:  httpClient,
	}, zerolog.Nop())
}

func signSessionToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString([]byte(testAPISecret))
	require.NoError(t, err)
	return encoded
}

func sessionTokenClaimsFor(shop string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":  "https://" + shop + "/admin",
		"dest": "https://" + shop,
		"aud":  testAPIKey,
		"sub":  "42",
		"sid":  "session-uuid",
		"jti":  "token-uuid",
		"exp":  now.Add(time.Minute).Unix(),
		"nbf":  now.Add(-time.Minute).Unix(),
		"iat":  now.Unix(),
	}
}

func TestDecodeSessionToken(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	encoded := signSessionToken(t, sessionTokenClaimsFor("acme.myshopify.com"))

	token, err := client.DecodeSessionToken(encoded)
	require.NoError(t, err)

	assert.Equal(t, "https://acme.myshopify.com", token.Destination)
	assert.Equal(t, "https://acme.myshopify.com/admin", token.Issuer)
	assert.Equal(t, "42", token.Subject)
	assert.Equal(t, "session-uuid", token.SessionID)
	assert.Equal(t, encoded, token.EncodedPayload)
	assert.Equal(t, "acme.myshopify.com", token.Shop())
	assert.Equal(t, int64(42), token.UserID())
}

func TestDecodeSessionTokenRejections(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)

	expired := sessionTokenClaimsFor("acme.myshopify.com")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongAudience := sessionTokenClaimsFor("acme.myshopify.com")
	wrongAudience["aud"] = "someone-else"

	tests := []struct {
		name    string
		encoded string
	}{
		{"garbage", "not.a.jwt"},
		{"expired", signSessionToken(t, expired)},
		{"wrong audience", signSessionToken(t, wrongAudience)},
		{"wrong secret", func() string {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionTokenClaimsFor("acme.myshopify.com"))
			encoded, err := token.SignedString([]byte("other-secret"))
			require.NoError(t, err)
			return encoded
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.DecodeSessionToken(tt.encoded)
			assert.ErrorIs(t, err, domain.ErrInvalidToken)
		})
	}
}

func TestExchangeSessionTokenPostsGrant(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(domain.AccessTokenResponse{
			AccessToken: "exchanged-token",
			Scope:       "read_products",
		})
	}))

	resp, err := client.ExchangeSessionToken(context.Background(), "acme.myshopify.com", "encoded-jwt", domain.AccessModeOnline)
	require.NoError(t, err)

	assert.Equal(t, "/admin/oauth/access_token", gotPath)
	assert.Equal(t, "exchanged-token", resp.AccessToken)
	assert.Equal(t, map[string]string{
		"client_id":            testAPIKey,
		"client_secret":        testAPISecret,
		"grant_type":           "urn:ietf:params:oauth:grant-type:token-exchange",
		"subject_token":        "encoded-jwt",
		"subject_token_type":   "urn:ietf:params:oauth:token-type:id_token",
		"requested_token_type": "urn:shopify:params:oauth:token-type:online-access-token",
	}, gotBody)
}

func TestExchangeSessionTokenSurfacesRejection(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_subject_token"}`, http.StatusBadRequest)
	}))

	_, err := client.ExchangeSessionToken(context.Background(), "acme.myshopify.com", "bad", domain.AccessModeOffline)

	var httpErr *domain.HTTPResponseError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Contains(t, httpErr.Body, "invalid_subject_token")
}

func TestVerifyAccessToken(t *testing.T) {
	t.Parallel()

	var gotPath, gotToken string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		w.Write([]byte(`{"shop":{}}`))
	}))

	err := client.VerifyAccessToken(context.Background(), "acme.myshopify.com", "live-token")
	require.NoError(t, err)
	assert.Equal(t, "/admin/shop.json", gotPath)
	assert.Equal(t, "live-token", gotToken)
}

func TestVerifyAccessTokenRevoked(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"errors":"Invalid API key or access token"}`, http.StatusUnauthorized)
	}))

	err := client.VerifyAccessToken(context.Background(), "acme.myshopify.com", "revoked")

	var httpErr *domain.HTTPResponseError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.IsAuthError())
}

func TestBeginAuthSetsStateCookie(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/inline?shop=acme.myshopify.com", nil)

	authURL, err := client.BeginAuth(rec, r, "acme.myshopify.com", domain.AccessModeOnline)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "acme.myshopify.com", parsed.Host)
	assert.Equal(t, "/admin/oauth/authorize", parsed.Path)
	assert.Equal(t, testAPIKey, parsed.Query().Get("client_id"))
	assert.Equal(t, "read_products,write_products", parsed.Query().Get("scope"))
	assert.Equal(t, []string{"per-user"}, parsed.Query()["grant_options[]"])

	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == OAuthStateCookieName {
			state = c
		}
	}
	require.NotNil(t, state)
	assert.Equal(t, parsed.Query().Get("state"), state.Value)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, int(stateCookieMaxAge.Seconds()), state.MaxAge)
}

func TestBeginAuthOfflineOmitsPerUserGrant(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/inline?shop=acme.myshopify.com", nil)

	authURL, err := client.BeginAuth(rec, r, "acme.myshopify.com", domain.AccessModeOffline)
	require.NoError(t, err)
	assert.NotContains(t, authURL, "grant_options")
}

// signedCallbackURL builds a callback URL whose hmac parameter is valid for
// the test secret, the way Shopify signs redirect URLs.
func signedCallbackURL(shop, code, state string) string {
	params := url.Values{}
	params.Set("shop", shop)
	params.Set("code", code)
	params.Set("state", state)
	params.Set("timestamp", "1337178173")

	mac := hmac.New(sha256.New, []byte(testAPISecret))
	mac.Write([]byte(params.Encode()))
	params.Set("hmac", hex.EncodeToString(mac.Sum(nil)))
	return "/auth/callback?" + params.Encode()
}

func TestValidateCallbackMissingParams(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	r := httptest.NewRequest(http.MethodGet, "/auth/callback?shop=acme.myshopify.com", nil)

	_, err := client.ValidateCallback(context.Background(), httptest.NewRecorder(), r)
	assert.ErrorIs(t, err, domain.ErrInvalidOAuth)
}

func TestValidateCallbackMissingStateCookie(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	r := httptest.NewRequest(http.MethodGet, signedCallbackURL("acme.myshopify.com", "c", "st"), nil)

	_, err := client.ValidateCallback(context.Background(), httptest.NewRecorder(), r)
	assert.ErrorIs(t, err, domain.ErrCookieNotFound)
}

func TestValidateCallbackStateMismatch(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	r := httptest.NewRequest(http.MethodGet, signedCallbackURL("acme.myshopify.com", "c", "st"), nil)
	r.AddCookie(&http.Cookie{Name: OAuthStateCookieName, Value: "different"})

	_, err := client.ValidateCallback(context.Background(), httptest.NewRecorder(), r)
	assert.ErrorIs(t, err, domain.ErrInvalidOAuth)
	assert.NotErrorIs(t, err, domain.ErrCookieNotFound)
}

func TestValidateCallbackBadHMAC(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	r := httptest.NewRequest(http.MethodGet,
		"/auth/callback?shop=acme.myshopify.com&code=c&state=st&timestamp=1337178173&hmac=deadbeef", nil)
	r.AddCookie(&http.Cookie{Name: OAuthStateCookieName, Value: "st"})

	_, err := client.ValidateCallback(context.Background(), httptest.NewRecorder(), r)
	assert.ErrorIs(t, err, domain.ErrInvalidOAuth)
}

func TestValidateCallbackSuccess(t *testing.T) {
	t.Parallel()

	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(domain.AccessTokenResponse{
			AccessToken: "granted-token",
			Scope:       "read_products",
		})
	}))

	r := httptest.NewRequest(http.MethodGet, signedCallbackURL("acme.myshopify.com", "auth-code", "st"), nil)
	r.AddCookie(&http.Cookie{Name: OAuthStateCookieName, Value: "st"})
	rec := httptest.NewRecorder()

	session, err := client.ValidateCallback(context.Background(), rec, r)
	require.NoError(t, err)

	assert.Equal(t, "auth-code", gotBody["code"])
	assert.Equal(t, testAPIKey, gotBody["client_id"])

	assert.Equal(t, domain.OfflineSessionID("acme.myshopify.com"), session.ID)
	assert.Equal(t, "acme.myshopify.com", session.Shop)
	assert.Equal(t, "granted-token", session.AccessToken)
	assert.Equal(t, domain.AccessModeOffline, session.AccessMode)
	assert.Nil(t, session.Expires)

	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == OAuthStateCookieName {
			state = c
		}
	}
	require.NotNil(t, state, "state nonce cookie must be cleared")
	assert.Empty(t, state.Value)
	assert.Negative(t, state.MaxAge)
}

func TestExchangeSessionTokenHonorsContext(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can observe the client disconnect and
		// cancel the request context; otherwise this handler never returns.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.ExchangeSessionToken(ctx, "acme.myshopify.com", "encoded-jwt", domain.AccessModeOnline)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
