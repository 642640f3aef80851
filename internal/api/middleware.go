// Package api exposes the closet service's HTTP surface: the login
// broker, the uploads API, the thumbnail probes, and the approval and
// role admin endpoints.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/lestrrat-go/jwx/jwt"
	log "github.com/sirupsen/logrus"

	"github.com/stylingadventures/closetd/internal/auth/claims"
	"github.com/stylingadventures/closetd/internal/roles"
)

const identityKey = "__identity__"

// Identity is the verified caller of an authenticated request.
type Identity struct {
	Sub    string
	Email  string
	Groups []string
}

// IsAdmin reports membership in the ADMIN group.
func (id *Identity) IsAdmin() bool { return id.inGroup("ADMIN") }

// IsBestie reports membership in the BESTIE group.
func (id *Identity) IsBestie() bool { return id.inGroup("BESTIE") }

func (id *Identity) inGroup(name string) bool {
	for _, g := range id.Groups {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}

// Role returns the caller's strongest group as a role, FAN when none map.
func (id *Identity) Role() roles.Role {
	for _, r := range []roles.Role{roles.RoleAdmin, roles.RoleCollab, roles.RoleCreator, roles.RoleBestie} {
		if id.inGroup(string(r)) {
			return r
		}
	}
	return roles.RoleFan
}

// CallerIdentity returns the identity the auth middleware attached.
func CallerIdentity(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}

// TokenVerifier checks an id token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*claims.IDTokenClaims, error)
}

// JWKSVerifier validates token signatures against the provider's JWKS,
// refreshed in the background.
type JWKSVerifier struct {
	url     string
	refresh *jwk.AutoRefresh
}

// NewJWKSVerifier sets up background-refreshed key fetching for the
// given JWKS URL.
func NewJWKSVerifier(ctx context.Context, jwksURL string) (*JWKSVerifier, error) {
	ar := jwk.NewAutoRefresh(ctx)
	ar.Configure(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute))
	if _, err := ar.Refresh(ctx, jwksURL); err != nil {
		return nil, err
	}
	return &JWKSVerifier{url: jwksURL, refresh: ar}, nil
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*claims.IDTokenClaims, error) {
	set, err := v.refresh.Fetch(ctx, v.url)
	if err != nil {
		return nil, err
	}
	if _, err = jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true)); err != nil {
		return nil, err
	}
	// Signature and exp are good; the custom claims come from the
	// payload decode.
	return claims.ParseIDToken(token)
}

// UnverifiedVerifier decodes claims and checks exp without a signature
// check. Used when no jwks-url is configured, matching deployments where
// an upstream gateway authorizer already validated the token.
type UnverifiedVerifier struct{}

func (UnverifiedVerifier) Verify(ctx context.Context, token string) (*claims.IDTokenClaims, error) {
	c, err := claims.ParseIDToken(token)
	if err != nil {
		return nil, err
	}
	if c.Expired(time.Now()) {
		return nil, errTokenExpired
	}
	return c, nil
}

var errTokenExpired = &tokenExpiredError{}

type tokenExpiredError struct{}

func (*tokenExpiredError) Error() string { return "id token expired" }

// AuthRequired extracts the bearer (or raw) id token, verifies it, and
// attaches the caller identity. Requests without a valid token get 401.
func AuthRequired(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing bearer token",
			})
			return
		}
		cl, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.Debugf("token verification failed: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid or expired token",
			})
			return
		}
		c.Set(identityKey, &Identity{Sub: cl.Sub, Email: cl.Email, Groups: cl.Groups})
		c.Next()
	}
}

// AdminRequired gates a route to ADMIN group members. Must run after
// AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CallerIdentity(c)
		if !ok || !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin access required",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return ""
	}
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	// Some callers send the raw token without a scheme.
	return auth
}

// CORS echoes allow-listed origins and answers preflights. Preflights
// from unknown origins are refused outright.
func CORS(allowed func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && originAllowed(origin, allowed()) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			if origin != "" && !originAllowed(origin, allowed()) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
