package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/models"
	"github.com/upb/storefront/backend/utils"
)

// TokenVerifier defines the interface for verifying bearer tokens
type TokenVerifier interface {
	// Verify validates a raw token and returns the principal it carries
	Verify(ctx context.Context, token string) (*models.Principal, error)
}

// unauthorizedMessage is the only message a rejected request ever sees
const unauthorizedMessage = "Authentication required"

// legacyAuthHeader carries a raw token without the Bearer scheme
const legacyAuthHeader = "Auth"

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier           TokenVerifier
	logger             *zap.Logger
	acceptLegacyHeader bool
}

// NewAuthMiddleware creates a new AuthMiddleware. When acceptLegacyHeader is
// set, a raw token in the "Auth" header is read if no Bearer token is present.
func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger, acceptLegacyHeader bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:           verifier,
		logger:             logger,
		acceptLegacyHeader: acceptLegacyHeader,
	}
}

// RequireAuth is a middleware that requires a valid token.
// Every rejection gets the same 401 body; the cause is only logged.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := m.extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			writeUnauthorized(w)
			return
		}

		principal, err := m.verifier.Verify(ctx, token)
		if err != nil || principal == nil {
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			writeUnauthorized(w)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", principal.Subject),
			zap.String("role", string(principal.Role)))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}

// RequireRole is a middleware that requires one of the given roles.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			principal, ok := PrincipalFromContext(ctx)
			if !ok {
				m.logger.Error("principal not found in context",
					zap.String("request_id", requestID))
				writeUnauthorized(w)
				return
			}

			if !principal.HasAnyRole(roles...) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("sub", principal.Subject),
					zap.String("role", string(principal.Role)),
					zap.Any("required_roles", roles))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="storefront"`)
	_ = utils.WriteUnauthorized(w, unauthorizedMessage)
}

// extractToken reads "Authorization: Bearer TOKEN", then the legacy "Auth" header
func (m *AuthMiddleware) extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if !m.acceptLegacyHeader {
		return ""
	}

	token := strings.TrimSpace(r.Header.Get(legacyAuthHeader))
	if parts := strings.SplitN(token, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		token = strings.TrimSpace(parts[1])
	}
	return token
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
