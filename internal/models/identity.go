package models

import "time"

// Identity captures an authenticated account. PasswordHash and
// CurrentRefreshTokenHash never leave the server.
type Identity struct {
	ID                      string             `json:"id"`
	Email                   string             `json:"email"`
	Username                string             `json:"username"`
	DisplayName             string             `json:"display_name"`
	PasswordHash            string             `json:"-"`
	Role                    Role               `json:"role"`
	SubscriptionTier        SubscriptionTier   `json:"subscription_tier"`
	SubscriptionStatus      SubscriptionStatus `json:"subscription_status"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
	LastActiveAt            time.Time          `json:"last_active_at"`
	CurrentRefreshTokenHash string             `json:"-"`
}

// EffectiveTier returns the tier honoured by access gates.
func (i Identity) EffectiveTier() SubscriptionTier {
	return EffectiveTier(i.SubscriptionTier, i.SubscriptionStatus)
}

// Snapshot returns a copy with server-only secrets cleared, safe to hand to clients.
func (i Identity) Snapshot() Identity {
	i.PasswordHash = ""
	i.CurrentRefreshTokenHash = ""
	return i
}

// TokenPair is the result of a successful login or registration.
type TokenPair struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// Session is the client-held view of an authenticated identity.
type Session struct {
	Identity        Identity  `json:"identity"`
	Tokens          TokenPair `json:"tokens"`
	IsAuthenticated bool      `json:"is_authenticated"`
}

// AccessExpiresIn returns the remaining access-token lifetime relative to now.
func (s Session) AccessExpiresIn(now time.Time) time.Duration {
	return s.Tokens.AccessExpiresAt.Sub(now)
}
