package domain

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SessionToken is the decoded payload of the short-lived signed token that
// embedded apps receive from Shopify on every request. It is never persisted;
// it only lives for the duration of one verification or exchange attempt.
type SessionToken struct {
	Issuer         string    // "iss": https://{shop}/admin
	Destination    string    // "dest": https://{shop}
	Audience       string    // "aud": the app's API key
	Subject        string    // "sub": the user ID
	Expires        time.Time // "exp"
	NotBefore      time.Time // "nbf"
	IssuedAt       time.Time // "iat"
	JTI            string    // "jti"
	SessionID      string    // "sid"
	EncodedPayload string    // the raw bearer token this was decoded from
}

// Shop returns the shop domain carried in the token's destination claim.
func (t *SessionToken) Shop() string {
	return strings.TrimPrefix(t.Destination, "https://")
}

// Host returns the base64-encoded host parameter derived from the issuer,
// as expected by Shopify's embedded app query string.
func (t *SessionToken) Host() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.TrimPrefix(t.Issuer, "https://")))
}

// UserID returns the numeric user ID from the subject claim, or 0 when the
// subject is absent or not numeric.
func (t *SessionToken) UserID() int64 {
	id, err := strconv.ParseInt(t.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ShopHostQuery returns the "shop=...&host=..." query string used to rebuild
// an embedded app URL from the token alone.
func (t *SessionToken) ShopHostQuery() string {
	params := url.Values{}
	params.Set("shop", t.Shop())
	params.Set("host", t.Host())
	return params.Encode()
}
