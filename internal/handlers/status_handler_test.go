package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/status"
)

func newStatusHandler(state models.RunState) *StatusHandler {
	svc := status.NewService(nil, nil, nil, "https://haesl.example/cars", arbor.NewLogger())
	svc.Seed(models.RunSnapshot{RunID: "run_1", State: state})
	return NewStatusHandler(svc, arbor.NewLogger())
}

func TestVersionHandler(t *testing.T) {
	h := newStatusHandler(models.RunStateIdle)

	rec := httptest.NewRecorder()
	h.VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "carextract", body["name"])
	assert.Equal(t, common.GetVersion(), body["version"])
	assert.NotEmpty(t, body["go"])

	rec = httptest.NewRecorder()
	h.VersionHandler(rec, httptest.NewRequest(http.MethodPost, "/api/version", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthHandler_ReportsActiveRun(t *testing.T) {
	tests := []struct {
		state  models.RunState
		active bool
	}{
		{models.RunStateIdle, false},
		{models.RunStateRunning, true},
		{models.RunStatePaused, true},
		{models.RunStateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			rec := httptest.NewRecorder()
			newStatusHandler(tt.state).HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Status    string `json:"status"`
				RunActive bool   `json:"run_active"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "ok", body.Status)
			assert.Equal(t, tt.active, body.RunActive)
		})
	}
}

func TestNotFoundHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundHandler(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/nope")
}
