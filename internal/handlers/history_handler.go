package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
)

const (
	defaultRunLimit = 20
	defaultLogLimit = 500
)

// HistoryHandler serves persisted run summaries and run logs
type HistoryHandler struct {
	records interfaces.RecordStorage
	logs    interfaces.RunLogStorage
	logger  arbor.ILogger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(records interfaces.RecordStorage, logs interfaces.RunLogStorage, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		records: records,
		logs:    logs,
		logger:  logger,
	}
}

// ListRunsHandler handles GET /api/runs?limit=
func (h *HistoryHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	runs, err := h.records.ListRuns(r.Context(), GetLimitParam(r, defaultRunLimit))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.RunSummary{}
	}

	WriteJSON(w, http.StatusOK, runs)
}

// RunRoutesHandler handles GET /api/runs/{id} and GET /api/runs/{id}/logs?limit=
func (h *HistoryHandler) RunRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	segments := PathSegments(r.URL.Path, "/api/runs")
	switch {
	case len(segments) == 1:
		h.getRun(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "logs":
		h.getLogs(w, r, segments[0])
	default:
		WriteError(w, http.StatusNotFound, "Unknown run route")
	}
}

func (h *HistoryHandler) getRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.records.GetRun(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Run not found: "+id)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		WriteError(w, http.StatusInternalServerError, "Failed to load run")
		return
	}

	WriteJSON(w, http.StatusOK, run)
}

func (h *HistoryHandler) getLogs(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := h.logs.GetLogs(r.Context(), id, GetLimitParam(r, defaultLogLimit))
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to load run logs")
		WriteError(w, http.StatusInternalServerError, "Failed to load run logs")
		return
	}
	if entries == nil {
		entries = []models.RunLogEntry{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": id,
		"logs":   entries,
	})
}
