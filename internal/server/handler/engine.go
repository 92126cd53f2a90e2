package handler

import (
	"log/slog"
	"net/http"

	"github.com/driftline/riskbot/internal/engine"
)

// EngineController is the slice of the engine the control endpoints need.
type EngineController interface {
	CurrentStatus() engine.Status
	StartTrading()
	StopTrading()
}

// EngineHandler serves engine status and control endpoints.
type EngineHandler struct {
	engine EngineController
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(e EngineController, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: e, logger: logger}
}

// GetStatus returns the current engine state.
// GET /api/status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CurrentStatus())
}

// Start enables entry scanning.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.engine.StartTrading()
	h.logger.InfoContext(r.Context(), "handler: trading enabled via api")
	writeJSON(w, http.StatusOK, h.engine.CurrentStatus())
}

// Stop disables entry scanning. Open positions keep being managed.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.engine.StopTrading()
	h.logger.InfoContext(r.Context(), "handler: trading disabled via api")
	writeJSON(w, http.StatusOK, h.engine.CurrentStatus())
}
