package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()
	config := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")}
	manager, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func stored(seq int, id string) *models.StoredRecord {
	return &models.StoredRecord{
		Seq:    seq,
		RunID:  "run_1",
		URL:    "https://haesl.example/car/" + id,
		Record: models.ReportRecord{ID: id, StageOwner: "Owner " + id, Status: "Investigation"},
	}
}

func TestRecordStorage_SaveListDelete(t *testing.T) {
	ctx := context.Background()
	records := newTestManager(t).RecordStorage()

	require.NoError(t, records.SaveRecord(ctx, stored(2, "CAR-3")))
	require.NoError(t, records.SaveRecord(ctx, stored(0, "CAR-1")))
	require.NoError(t, records.SaveRecord(ctx, stored(1, "CAR-2")))

	list, err := records.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "CAR-1", list[0].Record.ID)
	assert.Equal(t, "CAR-2", list[1].Record.ID)
	assert.Equal(t, "CAR-3", list[2].Record.ID)
	assert.Equal(t, "https://haesl.example/car/CAR-2", list[1].URL)

	// Upsert replaces in place
	updated := stored(1, "CAR-2")
	updated.Record.StageOwner = "Bob"
	require.NoError(t, records.SaveRecord(ctx, updated))
	list, err = records.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Bob", list[1].Record.StageOwner)

	require.NoError(t, records.DeleteRecord(ctx, "CAR-2"))
	require.NoError(t, records.DeleteRecord(ctx, "CAR-404"))
	list, err = records.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, records.ClearRecords(ctx))
	list, err = records.ListRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecordStorage_RejectsEmptyID(t *testing.T) {
	records := newTestManager(t).RecordStorage()
	assert.Error(t, records.SaveRecord(context.Background(), &models.StoredRecord{}))
	assert.Error(t, records.SaveRun(context.Background(), &models.RunSummary{}))
}

func TestRecordStorage_Runs(t *testing.T) {
	ctx := context.Background()
	records := newTestManager(t).RecordStorage()

	base := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, records.SaveRun(ctx, &models.RunSummary{
			ID:        fmt.Sprintf("run_%d", i),
			State:     models.RunStateCompleted,
			Total:     i,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := records.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run_2", runs[0].ID)
	assert.Equal(t, "run_0", runs[2].ID)

	runs, err = records.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_2", runs[0].ID)

	run, err := records.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Total)

	_, err = records.GetRun(ctx, "run_9")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRunLogStorage(t *testing.T) {
	ctx := context.Background()
	logs := newTestManager(t).RunLogStorage()

	var entries []models.RunLogEntry
	for i := 1; i <= 5; i++ {
		entries = append(entries, models.RunLogEntry{Seq: int64(i), Level: "info", Message: fmt.Sprintf("line %d", i)})
	}
	require.NoError(t, logs.AppendLogs(ctx, "run_a", entries[:3]))
	require.NoError(t, logs.AppendLogs(ctx, "run_a", entries[3:]))
	require.NoError(t, logs.AppendLogs(ctx, "run_b", entries[:1]))

	got, err := logs.GetLogs(ctx, "run_a", 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "line 1", got[0].Message)
	assert.Equal(t, "run_a", got[0].RunID)

	got, err = logs.GetLogs(ctx, "run_a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "line 4", got[0].Message)
	assert.Equal(t, "line 5", got[1].Message)

	require.NoError(t, logs.DeleteLogs(ctx, "run_a"))
	got, err = logs.GetLogs(ctx, "run_a", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = logs.GetLogs(ctx, "run_b", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestResetOnStartup(t *testing.T) {
	ctx := context.Background()
	config := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")}

	first, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	require.NoError(t, first.RecordStorage().SaveRecord(ctx, stored(0, "CAR-1")))
	require.NoError(t, first.Close())

	reopened, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	list, err := reopened.RecordStorage().ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.NoError(t, reopened.Close())

	config.ResetOnStartup = true
	reset, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer reset.Close()
	list, err = reset.RecordStorage().ListRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
