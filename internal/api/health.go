package api

import (
	"log/slog"
	"net/http"

	"github.com/tidegraph/tidegraph/internal/engine"
)

type healthHandler struct {
	checker CapabilityChecker
	logger  *slog.Logger
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Required *engine.RequiredConfig `json:"required,omitempty"`
	Optional *engine.OptionalConfig `json:"optional,omitempty"`
}

// healthz reports liveness, plus configuration readiness when a checker is
// wired. A deployment missing a required capability answers 503 so load
// balancers keep it out of rotation.
func (h *healthHandler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	required, err := h.checker.CheckRequiredConfig(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "required config check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error"})
		return
	}
	optional, err := h.checker.CheckOptionalConfig(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "optional config check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error"})
		return
	}

	status, code := "ok", http.StatusOK
	if !required.Ready() {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:   status,
		Required: &required,
		Optional: &optional,
	})
}
