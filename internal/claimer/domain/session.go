package domain

import "time"

// SessionExpiryBuffer is how long before the real expiry a session is
// already treated as stale, so a refresh happens before the storefront
// starts rejecting calls mid-pass.
const SessionExpiryBuffer = 5 * time.Minute

// Session is the opaque credential material issued by the storefront after
// a successful login. It is owned exclusively by the storefront client and
// persisted after every successful (re)login; a new login atomically
// replaces the prior record.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccountID    string    `json:"account_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsZero reports whether no session material is present at all.
func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Usable reports whether the access token is present and not within the
// expiry buffer at the given time.
func (s Session) Usable(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	return now.Before(s.ExpiresAt.Add(-SessionExpiryBuffer))
}

// Refreshable reports whether a refresh-token renewal can be attempted.
func (s Session) Refreshable() bool {
	return s.RefreshToken != ""
}
