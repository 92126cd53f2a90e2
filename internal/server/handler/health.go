package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	// checks maps dependency name to a probe. Readiness fails when any
	// probe errors.
	checks map[string]func(context.Context) error
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the given dependency
// probes.
func NewHealthHandler(checks map[string]func(context.Context) error, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck reports process liveness.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready probes every dependency and reports per-dependency state.
// GET /api/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			ready = false
			continue
		}
		deps[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
		h.logger.WarnContext(r.Context(), "handler: readiness check failed")
	}
	writeJSON(w, status, map[string]any{
		"ready":        ready,
		"dependencies": deps,
	})
}
