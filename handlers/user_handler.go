package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/middleware"
	"github.com/upb/storefront/backend/models"
	"github.com/upb/storefront/backend/services"
	"github.com/upb/storefront/backend/utils"
)

// UserService defines the operations on the authenticated account
type UserService interface {
	GetProfile(ctx context.Context, principal *models.Principal) (*models.User, error)
	UpdateProfile(ctx context.Context, principal *models.Principal, in services.UpdateProfileInput) (*models.User, error)
	DeleteAccount(ctx context.Context, principal *models.Principal) error
}

// UserHandler serves routes mounted behind RequireAuth
type UserHandler struct {
	service UserService
	logger  *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

// principal returns the verified principal or answers 401 when the route was mounted without the gate
func (h *UserHandler) principal(w http.ResponseWriter, r *http.Request) (*models.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.logger.Error("protected handler reached without principal",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}
	return principal, true
}

// HandleMe handles GET /api/users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, principal)
}

// HandleGetProfile handles GET /api/users/profile
func (h *UserHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetProfile(r.Context(), principal)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, user)
}

// HandleUpdateProfile handles PUT /api/users/profile
func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var in services.UpdateProfileInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), principal, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, user)
}

// HandleDeleteAccount handles DELETE /api/users/account
func (h *UserHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), principal); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleSecret handles GET /protected/secret
func (h *UserHandler) HandleSecret(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: "The secret is YOU!"})
}
