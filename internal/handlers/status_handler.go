package handlers

import (
	"net/http"
	"runtime"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/status"
)

// StatusHandler serves application status, build info and liveness
type StatusHandler struct {
	statusService *status.Service
	logger        arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(statusService *status.Service, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		statusService: statusService,
		logger:        logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, h.statusService.GetStatus())
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"name":       "carextract",
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
		"go":         runtime.Version(),
	})
}

// HealthHandler handles GET /api/health. The server is healthy while it
// answers; an active run is reported so a supervisor does not restart mid-run.
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	st := h.statusService.GetStatus()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"run_active":      st.RunState == models.RunStateRunning || st.RunState == models.RunStatePaused,
		"browser_started": st.Browser,
		"uptime":          st.Uptime,
	})
}
