package cognito

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upb/storefront/backend/models"
)

// Every verification failure wraps ErrUnauthenticated. The distinct causes
// exist for server-side logs only.
var (
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMissingToken is returned when no credential was presented
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrUnauthenticated)

	// ErrMalformedToken is returned when the token cannot be decoded or has no kid
	ErrMalformedToken = fmt.Errorf("%w: malformed token", ErrUnauthenticated)

	// ErrUnknownKey is returned when the kid is not in the cached key set
	ErrUnknownKey = fmt.Errorf("%w: unknown signing key", ErrUnauthenticated)

	// ErrKeySetNotLoaded is returned while no key set has ever been loaded
	ErrKeySetNotLoaded = fmt.Errorf("%w: signing keys not loaded", ErrUnauthenticated)

	// ErrInvalidSignature is returned when the signature or algorithm is rejected
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthenticated)

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthenticated)

	// ErrInvalidClaims is returned for issuer, audience or token_use mismatches
	ErrInvalidClaims = fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
)

const (
	TokenUseID     = "id"
	TokenUseAccess = "access"
)

// Claims represents the claims carried by Cognito id and access tokens
type Claims struct {
	jwt.RegisteredClaims
	Email           string   `json:"email,omitempty"`
	EmailVerified   bool     `json:"email_verified,omitempty"`
	TokenUse        string   `json:"token_use,omitempty"`
	AuthTime        int64    `json:"auth_time,omitempty"`
	ClientID        string   `json:"client_id,omitempty"` // access tokens only
	Username        string   `json:"username,omitempty"`  // access tokens only
	CognitoUsername string   `json:"cognito:username,omitempty"`
	Groups          []string `json:"cognito:groups,omitempty"`

	CustomRole string `json:"custom:role,omitempty"`
	Role       string `json:"role,omitempty"`
}

// RoleName resolves the role tag: custom:role, then role, then the first group
func (c *Claims) RoleName() string {
	switch {
	case c.CustomRole != "":
		return c.CustomRole
	case c.Role != "":
		return c.Role
	case len(c.Groups) > 0:
		return c.Groups[0]
	}
	return ""
}

// UsernameOrEmpty returns whichever username claim the token type carries
func (c *Claims) UsernameOrEmpty() string {
	if c.CognitoUsername != "" {
		return c.CognitoUsername
	}
	return c.Username
}

// Principal converts verified claims into the request principal.
// A role tag outside the known roles leaves Role empty.
func (c *Claims) Principal() *models.Principal {
	p := &models.Principal{
		Subject:  c.Subject,
		Email:    c.Email,
		Username: c.UsernameOrEmpty(),
		Groups:   c.Groups,
		TokenUse: c.TokenUse,
	}
	if role := models.UserRole(c.RoleName()); role.Valid() {
		p.Role = role
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}
