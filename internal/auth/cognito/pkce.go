// Package cognito implements the hosted-UI OAuth2 login flow for the
// closet service. It handles PKCE code generation, login URL minting,
// authorization-code exchange, and refresh-token rotation against a
// Cognito-style identity provider.
package cognito

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PKCECodes holds a verifier/challenge pair for one login attempt.
type PKCECodes struct {
	// CodeVerifier is the high-entropy secret kept server-side until redemption.
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the S256 transform of the verifier, sent in the login URL.
	CodeChallenge string `json:"code_challenge"`
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636 for the OAuth 2.0 PKCE extension. Only the browser
// session that initiated the login can later redeem its authorization code.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// generateCodeVerifier creates a cryptographically random URL-safe string.
// 64 random bytes encode to 86 characters, inside RFC 7636's 43-128 range.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, 64)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// generateCodeChallenge creates a SHA256 hash of the code verifier
// and encodes it using URL-safe base64 encoding without padding.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

// GenerateState creates a random hex state token for CSRF protection of
// the OAuth callback.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
