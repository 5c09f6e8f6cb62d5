package model

import "time"

// Credentials is the single persisted session record for this installation.
// It is written by the login flow and by the token refresh path; everything
// else reads it.
type Credentials struct {
	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	UserID               string    `json:"user_id"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
}

// Expired reports whether the access token has passed its expiry at the
// given instant. A zero expiry is treated as never expiring; the server
// remains the authority either way.
func (c Credentials) Expired(now time.Time) bool {
	return !c.AccessTokenExpiresAt.IsZero() && now.After(c.AccessTokenExpiresAt)
}
