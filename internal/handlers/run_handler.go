package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/models"
)

// RunController is the orchestrator surface behind the ribbon buttons
type RunController interface {
	Start(ctx context.Context) (string, error)
	Pause() error
	Resume() error
	Stop() error
	Clear(ctx context.Context) error
	RefreshOne(ctx context.Context, id string) (models.ReportRecord, error)
	RemoveOne(ctx context.Context, id string) error
	Snapshot() models.RunSnapshot
}

// RunHandler exposes the run controls and the aggregate collection
type RunHandler struct {
	runs   RunController
	logger arbor.ILogger
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(runs RunController, logger arbor.ILogger) *RunHandler {
	return &RunHandler{
		runs:   runs,
		logger: logger,
	}
}

// GetRunHandler handles GET /api/run
func (h *RunHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, h.runs.Snapshot())
}

// ControlHandler handles POST /api/run/{start|pause|resume|stop|clear}
func (h *RunHandler) ControlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	segments := PathSegments(r.URL.Path, "/api/run")
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "Unknown run action")
		return
	}
	action := segments[0]

	var err error
	switch action {
	case "start":
		var runID string
		runID, err = h.runs.Start(r.Context())
		if err == nil {
			h.logger.Info().Str("run_id", runID).Msg("Run started from UI")
			WriteJSON(w, http.StatusAccepted, map[string]string{
				"status": "started",
				"run_id": runID,
			})
			return
		}
	case "pause":
		err = h.runs.Pause()
	case "resume":
		err = h.runs.Resume()
	case "stop":
		err = h.runs.Stop()
	case "clear":
		err = h.runs.Clear(r.Context())
	default:
		WriteError(w, http.StatusNotFound, "Unknown run action: "+action)
		return
	}

	if err != nil {
		h.logger.Debug().Err(err).Str("action", action).Msg("Run control rejected")
		WriteError(w, StatusFor(err), err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, h.runs.Snapshot())
}

// RefreshRecordHandler handles POST /api/records/{id}/refresh
func (h *RunHandler) RefreshRecordHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	segments := PathSegments(r.URL.Path, "/api/records")
	if len(segments) != 2 || segments[1] != "refresh" {
		WriteError(w, http.StatusNotFound, "Unknown record route")
		return
	}
	id := segments[0]

	record, err := h.runs.RefreshOne(r.Context(), id)
	if err != nil {
		h.logger.Debug().Err(err).Str("report_id", id).Msg("Refresh rejected")
		WriteError(w, StatusFor(err), err.Error())
		return
	}

	// A failed attempt keeps the previous record; report it without failing the request
	status := "refreshed"
	if record.Failed() {
		status = "failed"
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"record": record,
	})
}

// RemoveRecordHandler handles DELETE /api/records/{id}
func (h *RunHandler) RemoveRecordHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	segments := PathSegments(r.URL.Path, "/api/records")
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "Unknown record route")
		return
	}
	id := segments[0]

	if err := h.runs.RemoveOne(r.Context(), id); err != nil {
		WriteError(w, StatusFor(err), err.Error())
		return
	}
	WriteSuccess(w, "Removed "+id)
}
