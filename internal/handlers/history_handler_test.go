package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/storage/badger"
)

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestHistoryHandler(t *testing.T) {
	manager := newTestStorage(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 5, 7, 30, 0, 0, time.UTC)
	for i, id := range []string{"run_a", "run_b"} {
		require.NoError(t, manager.RecordStorage().SaveRun(ctx, &models.RunSummary{
			ID:        id,
			State:     models.RunStateCompleted,
			Total:     2,
			Succeeded: 2,
			StartedAt: started.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, manager.RunLogStorage().AppendLogs(ctx, "run_b", []models.RunLogEntry{
		{RunID: "run_b", Seq: 1, Level: "info", Message: "Discovered 2 report links"},
		{RunID: "run_b", Seq: 2, Level: "warn", Message: "Report session failed"},
	}))

	h := NewHistoryHandler(manager.RecordStorage(), manager.RunLogStorage(), arbor.NewLogger())

	t.Run("list newest first", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListRunsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var runs []models.RunSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "run_b", runs[0].ID)
	})

	t.Run("get run", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.RunRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run_a", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.RunRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run_zzz", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("logs", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.RunRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run_b/logs", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			RunID string               `json:"run_id"`
			Logs  []models.RunLogEntry `json:"logs"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "run_b", body.RunID)
		require.Len(t, body.Logs, 2)
		assert.Equal(t, "Discovered 2 report links", body.Logs[0].Message)
	})

	t.Run("logs of unknown run are empty", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.RunRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run_a/logs", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"logs":[]`)
	})
}
