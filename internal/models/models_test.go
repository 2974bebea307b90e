package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" vip_fan ")
	require.NoError(t, err)
	assert.Equal(t, RoleVIPFan, r)

	_, err = ParseRole("superadmin")
	assert.Error(t, err)
	_, err = ParseRole("")
	assert.Error(t, err)
}

func TestParseSubscriptionTierAndStatus(t *testing.T) {
	tier, err := ParseSubscriptionTier("premium")
	require.NoError(t, err)
	assert.Equal(t, TierPremium, tier)

	status, err := ParseSubscriptionStatus("Cancelled")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionCancelled, status)

	_, err = ParseSubscriptionTier("GOLD")
	assert.Error(t, err)
}

func TestEffectiveTier_OnlyCountsActiveSubscriptions(t *testing.T) {
	assert.Equal(t, TierVIP, EffectiveTier(TierVIP, SubscriptionActive))
	assert.Equal(t, TierFree, EffectiveTier(TierVIP, SubscriptionExpired))
	assert.Equal(t, TierFree, EffectiveTier(TierPremium, SubscriptionInactive))
}

func TestIdentity_SecretsNeverSerialized(t *testing.T) {
	id := Identity{
		ID:                      "id-1",
		Email:                   "a@x.com",
		PasswordHash:            "$2a$12$secret",
		CurrentRefreshTokenHash: "abc123",
	}
	raw, err := json.Marshal(id)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
	assert.NotContains(t, string(raw), "abc123")

	snap := id.Snapshot()
	assert.Empty(t, snap.PasswordHash)
	assert.Empty(t, snap.CurrentRefreshTokenHash)
	assert.Equal(t, "$2a$12$secret", id.PasswordHash, "snapshot must not mutate the original")
}

func TestSession_AccessExpiresIn(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Session{Tokens: TokenPair{AccessExpiresAt: now.Add(4 * time.Minute)}}
	assert.Equal(t, 4*time.Minute, s.AccessExpiresIn(now))
}
