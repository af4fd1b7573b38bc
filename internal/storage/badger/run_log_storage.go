package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunLogStorage implements interfaces.RunLogStorage for Badger
type RunLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunLogStorage creates a new RunLogStorage instance
func NewRunLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunLogStorage {
	return &RunLogStorage{
		db:     db,
		logger: logger,
	}
}

// AppendLogs stores entries keyed by run id and sequence, so re-appending a line is idempotent
func (s *RunLogStorage) AppendLogs(ctx context.Context, runID string, entries []models.RunLogEntry) error {
	for _, entry := range entries {
		entry.RunID = runID
		key := fmt.Sprintf("%s_%020d", runID, entry.Seq)
		if err := s.db.Store().Upsert(key, &entry); err != nil {
			return fmt.Errorf("failed to append log: %w", err)
		}
	}
	return nil
}

// GetLogs returns the last limit lines of a run, oldest first
func (s *RunLogStorage) GetLogs(ctx context.Context, runID string, limit int) ([]models.RunLogEntry, error) {
	var logs []models.RunLogEntry
	if err := s.db.Store().Find(&logs, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Seq < logs[j].Seq
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

func (s *RunLogStorage) DeleteLogs(ctx context.Context, runID string) error {
	if err := s.db.Store().DeleteMatching(&models.RunLogEntry{}, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return fmt.Errorf("failed to delete logs: %w", err)
	}
	return nil
}
