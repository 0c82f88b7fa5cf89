package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/promptpot/promptpot/internal/store"
)

// FreshnessChecker reports whether chain data is recent.
type FreshnessChecker interface {
	Fresh() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	feed    FreshnessChecker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, feed FreshnessChecker) *HealthHandler {
	return &HealthHandler{repo: repo, feed: feed, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies. Stale
// chain data degrades the status but keeps 200, since the API still serves.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "unhealthy"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.feed != nil {
		if h.feed.Fresh() {
			checks["chain"] = "ok"
		} else {
			checks["chain"] = "stale"
			if statusCode == http.StatusOK {
				status["status"] = "degraded"
			}
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
