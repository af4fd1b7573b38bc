package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/orchestrator"
	"github.com/ternarybob/carextract/internal/services/session"
)

// MockRunController is a testify mock of the orchestrator surface
type MockRunController struct {
	mock.Mock
}

func (m *MockRunController) Start(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockRunController) Pause() error  { return m.Called().Error(0) }
func (m *MockRunController) Resume() error { return m.Called().Error(0) }
func (m *MockRunController) Stop() error   { return m.Called().Error(0) }

func (m *MockRunController) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRunController) RefreshOne(ctx context.Context, id string) (models.ReportRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.ReportRecord), args.Error(1)
}

func (m *MockRunController) RemoveOne(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRunController) Snapshot() models.RunSnapshot {
	return m.Called().Get(0).(models.RunSnapshot)
}

func (m *MockRunController) Records() []models.ReportRecord {
	return m.Called().Get(0).([]models.ReportRecord)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetRunHandler(t *testing.T) {
	runs := new(MockRunController)
	runs.On("Snapshot").Return(models.RunSnapshot{
		RunID:    "run_1",
		State:    models.RunStateRunning,
		Progress: models.Progress{Current: 1, Total: 3},
		Records:  []models.ReportRecord{{ID: "CAR-1001", Status: "Investigation"}},
	})
	h := NewRunHandler(runs, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.GetRunHandler(rec, httptest.NewRequest(http.MethodGet, "/api/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap models.RunSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, models.RunStateRunning, snap.State)
	assert.Equal(t, 3, snap.Progress.Total)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "CAR-1001", snap.Records[0].ID)

	rec = httptest.NewRecorder()
	h.GetRunHandler(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestControlHandler_Start(t *testing.T) {
	runs := new(MockRunController)
	runs.On("Start", mock.Anything).Return("run_42", nil)
	h := NewRunHandler(runs, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.ControlHandler(rec, httptest.NewRequest(http.MethodPost, "/api/run/start", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run_42", decodeBody(t, rec)["run_id"])
	runs.AssertExpectations(t)
}

func TestControlHandler_Actions(t *testing.T) {
	for _, action := range []string{"pause", "resume", "stop", "clear"} {
		t.Run(action, func(t *testing.T) {
			runs := new(MockRunController)
			switch action {
			case "pause":
				runs.On("Pause").Return(nil)
			case "resume":
				runs.On("Resume").Return(nil)
			case "stop":
				runs.On("Stop").Return(nil)
			case "clear":
				runs.On("Clear", mock.Anything).Return(nil)
			}
			runs.On("Snapshot").Return(models.RunSnapshot{State: models.RunStateIdle})
			h := NewRunHandler(runs, arbor.NewLogger())

			rec := httptest.NewRecorder()
			h.ControlHandler(rec, httptest.NewRequest(http.MethodPost, "/api/run/"+action, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			runs.AssertExpectations(t)
		})
	}
}

func TestControlHandler_MisuseIsConflict(t *testing.T) {
	runs := new(MockRunController)
	runs.On("Start", mock.Anything).Return("", fmt.Errorf("%w: start from running", orchestrator.ErrInvalidTransition))
	runs.On("Resume").Return(session.ErrSessionBusy)
	h := NewRunHandler(runs, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.ControlHandler(rec, httptest.NewRequest(http.MethodPost, "/api/run/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.ControlHandler(rec, httptest.NewRequest(http.MethodPost, "/api/run/resume", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestControlHandler_UnknownAction(t *testing.T) {
	h := NewRunHandler(new(MockRunController), arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.ControlHandler(rec, httptest.NewRequest(http.MethodPost, "/api/run/explode", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ControlHandler(rec, httptest.NewRequest(http.MethodGet, "/api/run/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefreshRecordHandler(t *testing.T) {
	runs := new(MockRunController)
	runs.On("RefreshOne", mock.Anything, "CAR-1001").Return(models.ReportRecord{ID: "CAR-1001", Status: "Complete"}, nil)
	runs.On("RefreshOne", mock.Anything, "CAR-1002").Return(models.FailedRecord("CAR-1002", "timeout"), nil)
	runs.On("RefreshOne", mock.Anything, "CAR-9999").Return(models.ReportRecord{}, fmt.Errorf("%w: CAR-9999", orchestrator.ErrRecordNotFound))
	h := NewRunHandler(runs, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RefreshRecordHandler(rec, httptest.NewRequest(http.MethodPost, "/api/records/CAR-1001/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refreshed", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.RefreshRecordHandler(rec, httptest.NewRequest(http.MethodPost, "/api/records/CAR-1002/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.RefreshRecordHandler(rec, httptest.NewRequest(http.MethodPost, "/api/records/CAR-9999/refresh", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.RefreshRecordHandler(rec, httptest.NewRequest(http.MethodPost, "/api/records/CAR-1001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runs.AssertExpectations(t)
}

func TestRemoveRecordHandler(t *testing.T) {
	runs := new(MockRunController)
	runs.On("RemoveOne", mock.Anything, "CAR-1001").Return(nil)
	runs.On("RemoveOne", mock.Anything, "CAR-1002").Return(fmt.Errorf("%w: cannot remove while running", orchestrator.ErrInvalidTransition))
	h := NewRunHandler(runs, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RemoveRecordHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/records/CAR-1001", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.RemoveRecordHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/records/CAR-1002", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	runs.AssertExpectations(t)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(orchestrator.ErrInvalidTransition))
	assert.Equal(t, http.StatusConflict, StatusFor(fmt.Errorf("wrapped: %w", session.ErrSessionBusy)))
	assert.Equal(t, http.StatusNotFound, StatusFor(orchestrator.ErrRecordNotFound))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}

func TestPathSegments(t *testing.T) {
	assert.Equal(t, []string{"CAR-1", "refresh"}, PathSegments("/api/records/CAR-1/refresh", "/api/records"))
	assert.Equal(t, []string{"CAR-1"}, PathSegments("/api/records/CAR-1/", "/api/records"))
	assert.Nil(t, PathSegments("/api/records/", "/api/records"))
}
