// Package roles models user roles and tiers and persists user profiles.
// Roles gate uploads and admin surfaces; tiers gate upload quota.
package roles

import "strings"

// Role is a user's role in the app.
type Role string

const (
	RoleFan     Role = "FAN"
	RoleBestie  Role = "BESTIE"
	RoleCreator Role = "CREATOR"
	RoleCollab  Role = "COLLAB"
	RoleAdmin   Role = "ADMIN"
)

// Tier is a user's subscription tier.
type Tier string

const (
	TierFree  Tier = "FREE"
	TierPrime Tier = "PRIME"
)

// ParseRole normalizes a role string. Unknown or absent values default to
// FAN; a bad claim never grants anything.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleBestie:
		return RoleBestie
	case RoleCreator:
		return RoleCreator
	case RoleCollab:
		return RoleCollab
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleFan
	}
}

// ValidRole reports whether s names a known role exactly.
func ValidRole(s string) bool {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleFan, RoleBestie, RoleCreator, RoleCollab, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseTier normalizes a tier string, defaulting to FREE.
func ParseTier(s string) Tier {
	if Tier(strings.ToUpper(strings.TrimSpace(s))) == TierPrime {
		return TierPrime
	}
	return TierFree
}

// CanUpload reports whether the role may publish to the closet.
func CanUpload(r Role) bool {
	switch r {
	case RoleCreator, RoleCollab, RoleAdmin:
		return true
	default:
		return false
	}
}
