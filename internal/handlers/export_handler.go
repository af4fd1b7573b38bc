package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/export"
)

// RecordSource supplies the aggregate collection in queue order
type RecordSource interface {
	Records() []models.ReportRecord
}

// ExportHandler serves the aggregate collection as a download
type ExportHandler struct {
	records RecordSource
	prefix  string
	logger  arbor.ILogger
	now     func() time.Time
}

// NewExportHandler creates a new ExportHandler. prefix is the download filename prefix.
func NewExportHandler(records RecordSource, prefix string, logger arbor.ILogger) *ExportHandler {
	return &ExportHandler{
		records: records,
		prefix:  prefix,
		logger:  logger,
		now:     time.Now,
	}
}

// ExportHandler handles GET /api/export?format=csv|xlsx|pdf
func (h *ExportHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := h.records.Records()
	if len(records) == 0 {
		WriteError(w, http.StatusNotFound, "No data to export")
		return
	}

	// Render fully before writing headers so a failure can still be reported as JSON
	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		h.logger.Error().Err(err).Str("format", string(format)).Msg("Failed to render export")
		WriteError(w, http.StatusInternalServerError, "Failed to render export")
		return
	}

	filename := export.Filename(h.prefix, format, h.now())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn().Err(err).Str("filename", filename).Msg("Failed to send export")
		return
	}

	h.logger.Info().Str("filename", filename).Int("records", len(records)).Msg("Export downloaded")
}
