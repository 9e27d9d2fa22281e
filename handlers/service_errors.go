package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/services"
	"github.com/upb/storefront/backend/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	message := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, message, details)

	case services.IsExternalError(err):
		logger.Warn("external dependency error",
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		writeErr = utils.WriteError(w, http.StatusBadGateway, message, nil)

	case services.IsInternalError(err):
		// Internal causes stay in the log
		logger.Error("internal server error",
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleDecodeError answers a request whose JSON body could not be read
func HandleDecodeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	message := "Invalid JSON body"
	if errors.Is(err, utils.ErrEmptyBody) {
		message = "Request body is required"
	}
	logger.Debug("request body rejected", zap.Error(err))
	if err := utils.WriteBadRequest(w, message, nil); err != nil {
		logger.Error("failed to write bad request response", zap.Error(err))
	}
}
