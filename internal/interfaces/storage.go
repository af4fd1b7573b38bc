package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/carextract/internal/models"
)

// ErrNotFound is returned by storage lookups for a missing key
var ErrNotFound = errors.New("not found")

// RecordStorage persists the aggregate collection and run history
type RecordStorage interface {
	// SaveRecord upserts a record keyed by its report id
	SaveRecord(ctx context.Context, record *models.StoredRecord) error
	DeleteRecord(ctx context.Context, reportID string) error
	// ListRecords returns the aggregate ordered by seq
	ListRecords(ctx context.Context) ([]models.StoredRecord, error)
	ClearRecords(ctx context.Context) error

	SaveRun(ctx context.Context, run *models.RunSummary) error
	GetRun(ctx context.Context, id string) (*models.RunSummary, error)
	// ListRuns returns the newest runs first, at most limit (0 = all)
	ListRuns(ctx context.Context, limit int) ([]*models.RunSummary, error)
}

// RunLogStorage persists run log lines
type RunLogStorage interface {
	AppendLogs(ctx context.Context, runID string, entries []models.RunLogEntry) error
	// GetLogs returns the lines for a run in order, at most limit (0 = all)
	GetLogs(ctx context.Context, runID string, limit int) ([]models.RunLogEntry, error)
	DeleteLogs(ctx context.Context, runID string) error
}

// StorageManager groups the storages backed by one database
type StorageManager interface {
	RecordStorage() RecordStorage
	RunLogStorage() RunLogStorage
	Close() error
}
