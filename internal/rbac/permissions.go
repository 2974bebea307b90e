package rbac

import (
	"sort"

	"github.com/hongminglow/fanzone-auth/internal/models"
)

// Permission is an atomic capability checked at the point of a protected operation.
type Permission string

const (
	PermViewPublicContent     Permission = "VIEW_PUBLIC_CONTENT"
	PermViewEvents            Permission = "VIEW_EVENTS"
	PermCreatePosts           Permission = "CREATE_POSTS"
	PermCommentPosts          Permission = "COMMENT_POSTS"
	PermJoinChat              Permission = "JOIN_CHAT"
	PermRSVPEvents            Permission = "RSVP_EVENTS"
	PermAccessPremiumContent  Permission = "ACCESS_PREMIUM_CONTENT"
	PermAccessExclusiveEvents Permission = "ACCESS_EXCLUSIVE_EVENTS"
	PermAccessVIPContent      Permission = "ACCESS_VIP_CONTENT"
	PermMeetAndGreet          Permission = "MEET_AND_GREET"
	PermModerateForum         Permission = "MODERATE_FORUM"
	PermModerateChat          Permission = "MODERATE_CHAT"
	PermManageUsers           Permission = "MANAGE_USERS"
	PermPostAnnouncements     Permission = "POST_ANNOUNCEMENTS"
	PermManageEvents          Permission = "MANAGE_EVENTS"
	PermManageContent         Permission = "MANAGE_CONTENT"
	PermSystemAdmin           Permission = "SYSTEM_ADMIN"
)

// grants lists what each role adds on top of the role directly below it.
var grants = map[models.Role][]Permission{
	models.RoleGuest:      {PermViewPublicContent, PermViewEvents},
	models.RoleFan:        {PermCreatePosts, PermCommentPosts, PermJoinChat, PermRSVPEvents},
	models.RolePremiumFan: {PermAccessPremiumContent, PermAccessExclusiveEvents},
	models.RoleVIPFan:     {PermAccessVIPContent, PermMeetAndGreet},
	models.RoleModerator:  {PermModerateForum, PermModerateChat},
	models.RoleBandMember: {PermPostAnnouncements, PermManageEvents, PermManageContent},
	models.RoleAdmin:      {PermManageUsers, PermSystemAdmin},
}

// rolePermissions is the cumulative RolePermissionMap. Building it from the
// per-role grants in rank order makes every role a superset of the ones below.
var rolePermissions = buildRolePermissions()

func buildRolePermissions() map[models.Role]PermissionSet {
	out := make(map[models.Role]PermissionSet, len(models.Roles))
	acc := PermissionSet{}
	for _, role := range models.Roles {
		for _, p := range grants[role] {
			acc[p] = struct{}{}
		}
		out[role] = acc.Clone()
	}
	return out
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// SubsetOf reports whether every member of s is in other.
func (s PermissionSet) SubsetOf(other PermissionSet) bool {
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// Strings returns the members sorted by name.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// AllPermissions returns every declared permission.
func AllPermissions() []Permission {
	all := rolePermissions[models.RoleAdmin]
	out := make([]Permission, 0, len(all))
	for _, s := range all.Strings() {
		out = append(out, Permission(s))
	}
	return out
}
