package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RecordStorage implements interfaces.RecordStorage for Badger.
// Records are keyed by report id; run summaries by run id.
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RecordStorage) SaveRecord(ctx context.Context, record *models.StoredRecord) error {
	if record.Record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if err := s.db.Store().Upsert(record.Record.ID, record); err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.Record.ID, err)
	}
	return nil
}

func (s *RecordStorage) DeleteRecord(ctx context.Context, reportID string) error {
	err := s.db.Store().Delete(reportID, &models.StoredRecord{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete record %s: %w", reportID, err)
	}
	return nil
}

func (s *RecordStorage) ListRecords(ctx context.Context) ([]models.StoredRecord, error) {
	var records []models.StoredRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
	return records, nil
}

func (s *RecordStorage) ClearRecords(ctx context.Context) error {
	if err := s.db.Store().DeleteMatching(&models.StoredRecord{}, badgerhold.Where("Seq").Ge(0)); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}

func (s *RecordStorage) SaveRun(ctx context.Context, run *models.RunSummary) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RecordStorage) GetRun(ctx context.Context, id string) (*models.RunSummary, error) {
	var run models.RunSummary
	if err := s.db.Store().Get(id, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

func (s *RecordStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	var runs []models.RunSummary
	if err := s.db.Store().Find(&runs, nil); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	out := make([]*models.RunSummary, len(runs))
	for i := range runs {
		out[i] = &runs[i]
	}
	return out, nil
}
