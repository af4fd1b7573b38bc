package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/export"
	"github.com/ternarybob/carextract/internal/storage"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the stored records without running an extraction",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Export format: csv, xlsx or pdf")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Export file path (default: <export.dir>/<prefix><date>.<format>)")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	// Reading stored data; never wipe it
	config.Storage.Badger.ResetOnStartup = false
	manager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return err
	}
	defer manager.Close()

	stored, err := manager.RecordStorage().ListRecords(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	if len(stored) == 0 {
		fmt.Println("No data to export")
		return nil
	}

	records := make([]models.ReportRecord, 0, len(stored))
	for _, s := range stored {
		records = append(records, s.Record)
	}

	path := exportOut
	if path == "" {
		path = filepath.Join(config.Export.Dir, export.Filename(config.Export.FilenamePrefix, format, time.Now()))
	}
	if err := writeExport(path, format, records); err != nil {
		return err
	}

	fmt.Printf("%d reports written to %s\n", len(records), path)
	return nil
}
