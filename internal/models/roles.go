package models

import (
	"fmt"
	"strings"
)

// Role is the coarse identity classification. Roles are totally ordered;
// see Roles for the order.
type Role string

const (
	RoleGuest      Role = "GUEST"
	RoleFan        Role = "FAN"
	RolePremiumFan Role = "PREMIUM_FAN"
	RoleVIPFan     Role = "VIP_FAN"
	RoleModerator  Role = "MODERATOR"
	RoleBandMember Role = "BAND_MEMBER"
	RoleAdmin      Role = "ADMIN"
)

// Roles lists every role from lowest to highest rank.
var Roles = []Role{
	RoleGuest,
	RoleFan,
	RolePremiumFan,
	RoleVIPFan,
	RoleModerator,
	RoleBandMember,
	RoleAdmin,
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// SubscriptionTier is the paid-access classification, independent of Role.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "FREE"
	TierPremium SubscriptionTier = "PREMIUM"
	TierVIP     SubscriptionTier = "VIP"
)

// Tiers lists every tier from lowest to highest rank.
var Tiers = []SubscriptionTier{TierFree, TierPremium, TierVIP}

// Valid reports whether t is one of Tiers.
func (t SubscriptionTier) Valid() bool {
	for _, v := range Tiers {
		if t == v {
			return true
		}
	}
	return false
}

// ParseSubscriptionTier accepts a tier name in any case.
func ParseSubscriptionTier(s string) (SubscriptionTier, error) {
	t := SubscriptionTier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown subscription tier %q", s)
	}
	return t, nil
}

// SubscriptionStatus is the billing state reported for the identity's tier.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionInactive  SubscriptionStatus = "INACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionInactive, SubscriptionCancelled, SubscriptionExpired:
		return true
	}
	return false
}

// ParseSubscriptionStatus accepts a status name in any case.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	st := SubscriptionStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
	return st, nil
}

// EffectiveTier is the tier that gates should honour: a paid tier only counts
// while its subscription is active.
func EffectiveTier(tier SubscriptionTier, status SubscriptionStatus) SubscriptionTier {
	if status != SubscriptionActive {
		return TierFree
	}
	return tier
}
