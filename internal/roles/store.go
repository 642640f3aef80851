package roles

import (
	"context"
	"strings"
	"time"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// Profile is one user record.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetRoleInput is the admin/self role mutation. Omitted email and tier
// keep the existing values; a missing record is created.
type SetRoleInput struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	Tier   string `json:"tier,omitempty"`
}

// Store persists user profiles.
type Store interface {
	// Get returns the profile for sub, or NotFoundError.
	Get(ctx context.Context, sub string) (*Profile, error)
	// EnsureProfile returns the profile for sub, creating a default FAN
	// record when absent. Creation races resolve to the surviving record.
	EnsureProfile(ctx context.Context, sub, email string) (*Profile, error)
	// SetRole applies the mutation and returns the merged profile.
	SetRole(ctx context.Context, input SetRoleInput) (*Profile, error)
}

// defaultProfile is what a first-seen user gets.
func defaultProfile(sub, email string, now time.Time) *Profile {
	return &Profile{
		ID:        sub,
		Email:     strings.ToLower(email),
		Role:      RoleFan,
		Tier:      TierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// mergeSetRole overlays the mutation onto an existing profile (nil when
// the user has no record yet).
func mergeSetRole(existing *Profile, input SetRoleInput, now time.Time) (*Profile, error) {
	if input.UserID == "" || input.Role == "" {
		return nil, &apperr.ValidationError{Field: "input", Message: "userId and role are required"}
	}
	if !ValidRole(input.Role) {
		return nil, &apperr.ValidationError{Field: "role", Message: "unknown role " + input.Role}
	}

	merged := &Profile{
		ID:        input.UserID,
		Role:      ParseRole(input.Role),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		merged.Email = existing.Email
		merged.Tier = existing.Tier
		merged.CreatedAt = existing.CreatedAt
	} else {
		merged.Tier = TierFree
	}
	if input.Email != "" {
		merged.Email = strings.ToLower(input.Email)
	}
	if input.Tier != "" {
		merged.Tier = ParseTier(input.Tier)
	}
	return merged, nil
}
