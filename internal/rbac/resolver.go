package rbac

import "github.com/hongminglow/fanzone-auth/internal/models"

var (
	roleRanks = rankRoles()
	tierRanks = rankTiers()
)

func rankRoles() map[models.Role]int {
	m := make(map[models.Role]int, len(models.Roles))
	for i, r := range models.Roles {
		m[r] = i
	}
	return m
}

func rankTiers() map[models.SubscriptionTier]int {
	m := make(map[models.SubscriptionTier]int, len(models.Tiers))
	for i, t := range models.Tiers {
		m[t] = i
	}
	return m
}

// RoleRank returns the position of role in the total order, or -1 for an unknown role.
func RoleRank(role models.Role) int {
	if r, ok := roleRanks[role]; ok {
		return r
	}
	return -1
}

// TierRank returns the position of tier in the total order, or -1 for an unknown tier.
func TierRank(tier models.SubscriptionTier) int {
	if r, ok := tierRanks[tier]; ok {
		return r
	}
	return -1
}

// HasRole reports whether actual ranks at or above required. Unknown roles never pass.
func HasRole(actual, required models.Role) bool {
	a, r := RoleRank(actual), RoleRank(required)
	return a >= 0 && r >= 0 && a >= r
}

// HasSubscriptionTier reports whether actual ranks at or above required.
func HasSubscriptionTier(actual, required models.SubscriptionTier) bool {
	a, r := TierRank(actual), TierRank(required)
	return a >= 0 && r >= 0 && a >= r
}

// PermissionsOf returns a copy of the permissions granted to role.
// Unknown roles get an empty set.
func PermissionsOf(role models.Role) PermissionSet {
	perms, ok := rolePermissions[role]
	if !ok {
		return PermissionSet{}
	}
	return perms.Clone()
}

// HasPermission reports whether role grants perm. Unknown roles grant nothing.
func HasPermission(role models.Role, perm Permission) bool {
	return rolePermissions[role].Has(perm)
}

// HasAnyPermission is false for an empty list.
func HasAnyPermission(role models.Role, perms ...Permission) bool {
	granted := rolePermissions[role]
	for _, p := range perms {
		if granted.Has(p) {
			return true
		}
	}
	return false
}

// HasAllPermissions is vacuously true for an empty list.
func HasAllPermissions(role models.Role, perms ...Permission) bool {
	granted := rolePermissions[role]
	for _, p := range perms {
		if !granted.Has(p) {
			return false
		}
	}
	return true
}

// CanAccessPremiumContent is OR-gated: either the role or the paid tier suffices.
func CanAccessPremiumContent(role models.Role, tier models.SubscriptionTier) bool {
	return HasRole(role, models.RolePremiumFan) || HasSubscriptionTier(tier, models.TierPremium)
}

// CanAccessVIPContent is OR-gated like CanAccessPremiumContent, at the VIP level.
func CanAccessVIPContent(role models.Role, tier models.SubscriptionTier) bool {
	return HasRole(role, models.RoleVIPFan) || HasSubscriptionTier(tier, models.TierVIP)
}

// CanModerate reports whether role may moderate the forum or chat.
func CanModerate(role models.Role) bool {
	return HasPermission(role, PermModerateForum) || HasPermission(role, PermModerateChat)
}

// EffectivePermissions is the role's permissions plus whatever the paid tier
// unlocks through the content gates.
func EffectivePermissions(role models.Role, tier models.SubscriptionTier) PermissionSet {
	perms := PermissionsOf(role)
	if CanAccessPremiumContent(role, tier) {
		perms[PermAccessPremiumContent] = struct{}{}
	}
	if CanAccessVIPContent(role, tier) {
		perms[PermAccessVIPContent] = struct{}{}
		perms[PermAccessExclusiveEvents] = struct{}{}
	}
	return perms
}
