package cognito

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upb/storefront/backend/models"
)

// KeyResolver resolves a key ID to a verification key without network I/O
type KeyResolver interface {
	Lookup(ctx context.Context, kid string) (any, error)
}

// VerifierConfig holds configuration for the token verifier.
// Empty Issuer or ClientID disables the corresponding check.
type VerifierConfig struct {
	Issuer    string
	ClientID  string
	ClockSkew time.Duration
}

// Verifier validates Cognito-issued JWTs against a cached key set
type Verifier struct {
	keys     KeyResolver
	issuer   string
	clientID string
	parser   *jwt.Parser
}

// NewVerifier creates a verifier reading keys from the given resolver
func NewVerifier(keys KeyResolver, cfg VerifierConfig) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Verifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		clientID: cfg.ClientID,
		parser:   jwt.NewParser(opts...),
	}
}

// Verify checks the raw token and returns the principal it carries.
// Every returned error wraps ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, raw string) (*models.Principal, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	// Decode the header without verifying to find the signing key
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrMalformedToken)
	}

	key, err := v.keys.Lookup(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		return nil, classifyParseError(err)
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	return claims.Principal(), nil
}

// validateClaims applies the Cognito-specific checks jwt.Parser does not cover
func (v *Verifier) validateClaims(claims *Claims) error {
	if claims.Subject == "" {
		return fmt.Errorf("%w: missing sub", ErrInvalidClaims)
	}

	switch claims.TokenUse {
	case TokenUseAccess:
		if v.clientID != "" && claims.ClientID != v.clientID {
			return fmt.Errorf("%w: client_id mismatch", ErrInvalidClaims)
		}
	case TokenUseID, "":
		if v.clientID != "" && !slices.Contains(claims.Audience, v.clientID) {
			return fmt.Errorf("%w: audience mismatch", ErrInvalidClaims)
		}
	default:
		return fmt.Errorf("%w: token_use %q", ErrInvalidClaims, claims.TokenUse)
	}

	return nil
}

// classifyParseError maps jwt parse errors onto the verifier's error kinds
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
}
