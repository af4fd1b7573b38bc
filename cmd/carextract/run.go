package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/carextract/internal/app"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/export"
)

var (
	runListingFile string
	runFormat      string
	runOut         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one extraction headless and write the export",
	Long: `Loads the listing page, extracts every CAR report in order and writes the
export file. Ctrl+C stops the run; reports already extracted are still exported.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runListingFile, "listing-file", "", "Read the listing page from a saved HTML file")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "csv", "Export format: csv, xlsx or pdf")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "Export file path (default: <export.dir>/<prefix><date>.<format>)")
}

func runOnce(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(runFormat)
	if err != nil {
		return err
	}
	if config.Listing.URL == "" && runListingFile == "" {
		return fmt.Errorf("no listing page: set listing.url, --listing or --listing-file")
	}

	application, err := app.New(config, logger, app.Options{ListingFile: runListingFile})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx := cmd.Context()
	runID, err := application.Orchestrator.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	if err := application.Orchestrator.Wait(ctx); err != nil {
		logger.Warn().Str("run_id", runID).Msg("Interrupted, stopping run")
		application.Orchestrator.Stop()

		waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Duration(config.Session.Timeout))
		defer cancel()
		if err := application.Orchestrator.Wait(waitCtx); err != nil {
			return fmt.Errorf("run did not stop: %w", err)
		}
	}

	snap := application.Orchestrator.Snapshot()
	fmt.Println(snap.Message)
	if len(snap.Records) == 0 {
		return nil
	}

	path := runOut
	if path == "" {
		path = filepath.Join(config.Export.Dir, export.Filename(config.Export.FilenamePrefix, format, time.Now()))
	}
	if err := writeExport(path, format, snap.Records); err != nil {
		return err
	}

	fmt.Printf("%d reports written to %s\n", len(snap.Records), path)
	return nil
}

// writeExport renders records into path, creating its directory
func writeExport(path string, format export.Format, records []models.ReportRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	if err := export.Write(f, format, records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	return f.Close()
}
