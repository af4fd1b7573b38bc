package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	records interfaces.RecordStorage
	runLogs interfaces.RunLogStorage
	logger  arbor.ILogger
}

// NewManager opens the database and builds the storages on top of it
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		records: NewRecordStorage(db, logger),
		runLogs: NewRunLogStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// RecordStorage returns the aggregate collection and run history storage
func (m *Manager) RecordStorage() interfaces.RecordStorage {
	return m.records
}

// RunLogStorage returns the run log storage
func (m *Manager) RunLogStorage() interfaces.RunLogStorage {
	return m.runLogs
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
