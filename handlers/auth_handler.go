package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/cognito"
	"github.com/upb/storefront/backend/middleware"
	"github.com/upb/storefront/backend/models"
	"github.com/upb/storefront/backend/services"
	"github.com/upb/storefront/backend/utils"
)

// AuthService defines the account registration and sign-in operations
type AuthService interface {
	SignUp(ctx context.Context, in services.SignUpInput) (*models.User, error)
	Verify(ctx context.Context, in services.VerifyInput) error
	SignIn(ctx context.Context, in services.SignInInput) (*cognito.AuthTokens, error)
}

// AuthHandler handles the public account endpoints
type AuthHandler struct {
	service AuthService
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// HandleSignUp handles POST /api/auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var in services.SignUpInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}

	user, err := h.service.SignUp(r.Context(), in)
	if err != nil {
		h.logger.Debug("sign up failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, user, "User registered successfully")
}

// HandleVerify handles POST /api/auth/verify
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var in services.VerifyInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}

	if err := h.service.Verify(r.Context(), in); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: "Verification successful"})
}

// HandleSignIn handles POST /api/auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var in services.SignInInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}

	tokens, err := h.service.SignIn(r.Context(), in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{
		Data:    tokens,
		Message: "Sign in successful",
	})
}
