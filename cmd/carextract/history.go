package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/carextract/internal/storage"
)

var (
	historyLimit int
	historyLogs  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs, or print the log of one run",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs (or log lines with --logs) to show, 0 = all")
	historyCmd.Flags().StringVar(&historyLogs, "logs", "", "Print the stored log lines of this run id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	config.Storage.Badger.ResetOnStartup = false
	manager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx := cmd.Context()

	if historyLogs != "" {
		entries, err := manager.RunLogStorage().GetLogs(ctx, historyLogs, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to load run logs: %w", err)
		}
		for _, e := range entries {
			fmt.Printf("%s %-5s %s\n", e.FullTimestamp, e.Level, e.Message)
		}
		return nil
	}

	runs, err := manager.RecordStorage().ListRuns(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATE\tTOTAL\tOK\tFAILED\tMESSAGE")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.State,
			run.Total,
			run.Succeeded,
			run.Failed,
			run.Message)
	}
	return w.Flush()
}
