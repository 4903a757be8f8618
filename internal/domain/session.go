package domain

import (
	"fmt"
	"time"
)

// AccessMode classifies a session as per-user ("online") or per-shop ("offline").
type AccessMode string

const (
	AccessModeOnline  AccessMode = "online"
	AccessModeOffline AccessMode = "offline"
)

// AssociatedUser holds the user block returned with an online access token.
type AssociatedUser struct {
	ID            int64  `json:"id" bson:"id"`
	FirstName     string `json:"first_name" bson:"first_name"`
	LastName      string `json:"last_name" bson:"last_name"`
	Email         string `json:"email" bson:"email"`
	EmailVerified bool   `json:"email_verified" bson:"email_verified"`
	AccountOwner  bool   `json:"account_owner" bson:"account_owner"`
	Locale        string `json:"locale" bson:"locale"`
	Collaborator  bool   `json:"collaborator" bson:"collaborator"`
}

// OnlineAccessInfo holds the extra metadata carried by online sessions.
type OnlineAccessInfo struct {
	ExpiresIn           int64          `json:"expires_in" bson:"expires_in"`
	AssociatedUserScope string         `json:"associated_user_scope" bson:"associated_user_scope"`
	AssociatedUser      AssociatedUser `json:"associated_user" bson:"associated_user"`
}

// Session represents an authenticated Shopify session for a shop.
// Sessions are never mutated in place; an update is always a full replacement
// through the repository.
type Session struct {
	ID               string            `json:"id" bson:"_id"`
	Shop             string            `json:"shop" bson:"shop"`
	State            string            `json:"state" bson:"state"`
	Scope            string            `json:"scope" bson:"scope"`
	AccessToken      string            `json:"access_token" bson:"access_token"`
	AccessMode       AccessMode        `json:"access_mode" bson:"access_mode"`
	Expires          *time.Time        `json:"expires,omitempty" bson:"expires,omitempty"`
	OnlineAccessInfo *OnlineAccessInfo `json:"online_access_info,omitempty" bson:"online_access_info,omitempty"`
	CreatedAt        time.Time         `json:"created_at" bson:"created_at"`
}

// IsOnline reports whether this is a per-user session.
func (s *Session) IsOnline() bool {
	return s.AccessMode == AccessModeOnline
}

// IsActive reports whether the session can still be used at the given instant.
// An offline session with an access token never expires implicitly. An online
// session is active only while its expiry is strictly in the future; the expiry
// instant itself counts as expired.
func (s *Session) IsActive(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	if !s.IsOnline() {
		return true
	}
	return s.Expires != nil && s.Expires.After(now)
}

// OfflineSessionID returns the repository key for a shop's offline session.
func OfflineSessionID(shop string) string {
	return fmt.Sprintf("offline_%s", shop)
}

// OnlineSessionID returns the repository key for an embedded per-user session.
func OnlineSessionID(shop string, userID int64) string {
	return fmt.Sprintf("%s_%d", shop, userID)
}

// AccessTokenResponse is the body returned by Shopify's access token endpoint,
// for both the authorization-code grant and the token-exchange grant. The
// associated user block is only present for online tokens.
type AccessTokenResponse struct {
	AccessToken         string          `json:"access_token"`
	Scope               string          `json:"scope"`
	ExpiresIn           int64           `json:"expires_in"`
	AssociatedUserScope string          `json:"associated_user_scope"`
	AssociatedUser      *AssociatedUser `json:"associated_user"`
}

// NewSessionFromAccessToken builds a session from an access token response.
// The presence of an associated user marks the token as online; online sessions
// get a computed expiry of now + expires_in.
func NewSessionFromAccessToken(resp *AccessTokenResponse, shop, state string, now time.Time) *Session {
	session := &Session{
		Shop:        shop,
		State:       state,
		Scope:       resp.Scope,
		AccessToken: resp.AccessToken,
		AccessMode:  AccessModeOffline,
		CreatedAt:   now,
	}
	if resp.AssociatedUser != nil {
		session.AccessMode = AccessModeOnline
		session.ID = OnlineSessionID(shop, resp.AssociatedUser.ID)
		expires := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
		session.Expires = &expires
		session.OnlineAccessInfo = &OnlineAccessInfo{
			ExpiresIn:           resp.ExpiresIn,
			AssociatedUserScope: resp.AssociatedUserScope,
			AssociatedUser:      *resp.AssociatedUser,
		}
	} else {
		session.ID = OfflineSessionID(shop)
	}
	return session
}
