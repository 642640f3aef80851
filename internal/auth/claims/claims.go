// Package claims decodes ID-token claims. Decoding here is unverified;
// signature checks, when configured, happen in the API middleware against
// the provider's JWKS.
package claims

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IDTokenClaims represents the claims section of a provider-issued ID token.
type IDTokenClaims struct {
	Sub           string     `json:"sub"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	Exp           int64      `json:"exp"`
	Iat           int64      `json:"iat"`
	Iss           string     `json:"iss"`
	Aud           string     `json:"aud"`
	TokenUse      string     `json:"token_use"`
	Username      string     `json:"cognito:username"`
	Groups        GroupClaim `json:"cognito:groups"`
}

// GroupClaim is the provider's group membership claim. Depending on the
// issuer it arrives as a JSON array or as a single comma-joined string;
// both decode to a slice.
type GroupClaim []string

// UnmarshalJSON accepts ["ADMIN","BESTIE"], "ADMIN,BESTIE", or null.
func (g *GroupClaim) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*g = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("unsupported group claim shape: %s", string(data))
	}
	if joined == "" {
		*g = nil
		return nil
	}
	parts := strings.Split(joined, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	*g = parts
	return nil
}

// ParseIDToken parses a JWT string and extracts its claims without
// performing cryptographic signature verification. This is useful for
// introspecting a token's contents after the provider (or the verifying
// middleware) has already vouched for it.
func ParseIDToken(token string) (*IDTokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT token format: expected 3 parts, got %d", len(parts))
	}

	claimsData, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT claims: %w", err)
	}

	var claims IDTokenClaims
	if err = json.Unmarshal(claimsData, &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JWT claims: %w", err)
	}

	return &claims, nil
}

// base64URLDecode decodes a Base64 URL-encoded string, adding padding if
// necessary. JWTs use a URL-safe Base64 alphabet and omit padding.
func base64URLDecode(data string) ([]byte, error) {
	switch len(data) % 4 {
	case 2:
		data += "=="
	case 3:
		data += "="
	}
	return base64.URLEncoding.DecodeString(data)
}

// ExpiresAt returns the expiry instant of the token.
func (c *IDTokenClaims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

// Expired reports whether the token's exp claim has passed.
func (c *IDTokenClaims) Expired(now time.Time) bool {
	return c.Exp > 0 && !now.Before(c.ExpiresAt())
}

// InGroup reports whether the token carries the named group.
func (c *IDTokenClaims) InGroup(name string) bool {
	for _, g := range c.Groups {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}
