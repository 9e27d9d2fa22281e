package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/storefront/backend/cognito"
	"github.com/upb/storefront/backend/utils"
)

// DatabaseChecker reports database connectivity
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
	HealthStats() map[string]int
}

// KeySetStatus reports whether the signing keys are loaded
type KeySetStatus interface {
	IsReady() bool
	Stats() cognito.KeySetStats
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string               `json:"status"`
	Timestamp string               `json:"timestamp"`
	Checks    map[string]string    `json:"checks,omitempty"`
	KeySet    *cognito.KeySetStats `json:"signing_keys,omitempty"`
	Pool      map[string]int       `json:"database_pool,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     DatabaseChecker
	keys   KeySetStatus
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler; nil checkers are skipped
func NewHealthHandler(db DatabaseChecker, keys KeySetStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		keys:   keys,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz.
// Not ready until the database answers and the first key set fetch succeeded.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	var pool map[string]int
	if h.db != nil {
		pool = h.db.HealthStats()
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["database"] = "healthy"
		}
	}

	var keyStats *cognito.KeySetStats
	if h.keys != nil {
		stats := h.keys.Stats()
		keyStats = &stats
		if h.keys.IsReady() {
			checks["signing_keys"] = "loaded"
		} else {
			checks["signing_keys"] = "not_loaded"
			allHealthy = false
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		KeySet:    keyStats,
		Pool:      pool,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
