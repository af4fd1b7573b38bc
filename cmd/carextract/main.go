package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
)

const defaultConfigFile = "carextract.toml"

var (
	// Persistent flags
	configFiles []string
	logDir      string
	listingURL  string

	// Global state, set by loadConfig before any subcommand runs
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "carextract",
	Short: "Extracts CAR report fields from the HAESL report site",
	Long: `carextract loads the CAR listing page in a headless Chrome, opens each report
in its own window, extracts the report fields and exports them as CSV, XLSX or PDF.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe, // serve is the default command
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for log and crash files (default: logs beside the executable)")
	rootCmd.PersistentFlags().StringVar(&listingURL, "listing", "", "Listing page URL (overrides config)")

	addServeFlags(rootCmd)
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd, runCmd, exportCmd, historyCmd, probeCmd, versionCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	common.LoadVersionFromFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// loadConfig runs the startup sequence (REQUIRED ORDER):
// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
// 2. Apply CLI overrides (highest priority)
// 3. Initialize logger
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == versionCmd.Name() {
		return nil
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			configFiles = append(configFiles, defaultConfigFile)
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		common.GetLogger().Error().Err(err).Strs("config_files", configFiles).Msg("Configuration rejected")
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	common.ApplyFlagOverrides(config, servePort, serveHost, listingURL)

	logger = common.SetupLogger(config, logDir)

	crashDir := logDir
	if path := common.GetLogFilePath(logger); crashDir == "" && path != "" {
		crashDir = filepath.Dir(path)
	}
	common.InstallCrashHandler(crashDir)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Str("badger_path", config.Storage.Badger.Path).
		Msg("Resolved configuration")

	return nil
}
