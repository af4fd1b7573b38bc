package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/handlers"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/logs"
	"github.com/ternarybob/carextract/internal/services/browser"
	"github.com/ternarybob/carextract/internal/services/discovery"
	"github.com/ternarybob/carextract/internal/services/events"
	"github.com/ternarybob/carextract/internal/services/extractor"
	"github.com/ternarybob/carextract/internal/services/mailer"
	"github.com/ternarybob/carextract/internal/services/messenger"
	"github.com/ternarybob/carextract/internal/services/orchestrator"
	"github.com/ternarybob/carextract/internal/services/scheduler"
	"github.com/ternarybob/carextract/internal/services/session"
	"github.com/ternarybob/carextract/internal/services/status"
	"github.com/ternarybob/carextract/internal/storage"
)

// Options changes how the application sources its work
type Options struct {
	// ListingFile reads the listing page from a saved HTML file instead of the browser.
	// Report windows still open in the browser.
	ListingFile string
}

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	LogConsumer      *logs.Consumer // Log consumer for arbor context channel
	SchedulerService *scheduler.Service
	StatusService    *status.Service

	// Extraction pipeline
	Browser      *browser.Service
	Listing      orchestrator.ListingSource
	Discoverer   *discovery.Discoverer
	Extractor    *extractor.Extractor
	Messenger    *messenger.Messenger
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Mailer       *mailer.Service

	// HTTP handlers
	WSHandler      *handlers.WebSocketHandler
	RunHandler     *handlers.RunHandler
	ExportHandler  *handlers.ExportHandler
	HistoryHandler *handlers.HistoryHandler
	StatusHandler  *handlers.StatusHandler
	PageHandler    *handlers.PageHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger, opts Options) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	// Create log consumer for arbor context channel.
	// Run loggers carry the run id as correlation id; the consumer persists
	// their lines and republishes them for the ribbon.
	logConsumer := logs.NewConsumer(
		app.StorageManager.RunLogStorage(),
		app.EventService,
		app.Logger,
		app.Config.Logging.MinEventLevel,
	)
	if err := logConsumer.Start(); err != nil {
		app.closePartial()
		return nil, fmt.Errorf("failed to start log consumer: %w", err)
	}
	app.LogConsumer = logConsumer
	app.Logger.SetChannel("context", logConsumer.GetChannel())

	// Initialize services (AFTER the log consumer is configured)
	if err := app.initServices(opts); err != nil {
		app.closePartial()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("listing_url", cfg.Listing.URL).
		Bool("schedule_enabled", cfg.Schedule.Enabled).
		Bool("mail_configured", app.Mailer.IsConfigured()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices builds the extraction pipeline bottom-up
func (a *App) initServices(opts Options) error {
	var err error
	cfg := a.Config

	// Chrome starts lazily on the first listing load or report window
	a.Browser = browser.NewService(&cfg.Browser, &cfg.Listing, a.Logger)
	a.Listing = a.Browser
	if opts.ListingFile != "" {
		a.Listing = browser.FileListing{Path: opts.ListingFile, BaseURL: cfg.Listing.URL}
		a.Logger.Info().Str("path", opts.ListingFile).Msg("Listing page read from file")
	}

	a.Discoverer, err = discovery.NewDiscoverer(cfg.Listing.ReportPattern, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create link discoverer: %w", err)
	}

	a.Extractor, err = extractor.NewExtractor(&cfg.Extractor, cfg.Listing.ReportPattern, cfg.Export.RemarksFormat, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create field extractor: %w", err)
	}

	a.Messenger = messenger.New(a.Logger)
	a.Sessions = session.NewManager(a.Browser, a.Extractor, a.Messenger, &cfg.Session, cfg.Listing.DetailsFragment, a.Logger)

	a.Orchestrator = orchestrator.New(
		a.Listing,
		a.Discoverer,
		a.Sessions,
		a.StorageManager.RecordStorage(),
		a.EventService,
		&cfg.Session,
		a.Logger,
	)
	if err := a.Orchestrator.Restore(context.Background()); err != nil {
		// Start with an empty collection rather than refusing to serve
		a.Logger.Warn().Err(err).Msg("Failed to restore previous run")
	}

	a.Mailer = mailer.NewService(&cfg.Mail, a.Logger)
	a.SchedulerService = scheduler.NewService(&cfg.Schedule, &cfg.Export, a.Orchestrator, a.Mailer, a.Logger)

	a.StatusService = status.NewService(a.EventService, a.Browser, a.SchedulerService, cfg.Listing.URL, a.Logger)
	a.StatusService.Seed(a.Orchestrator.Snapshot())
	if err := a.StatusService.SubscribeToRunEvents(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to subscribe status service to run events")
	}

	return nil
}

func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Orchestrator, a.Logger, &a.Config.WebSocket)
	a.RunHandler = handlers.NewRunHandler(a.Orchestrator, a.Logger)
	a.ExportHandler = handlers.NewExportHandler(a.Orchestrator, a.Config.Export.FilenamePrefix, a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.StorageManager.RecordStorage(), a.StorageManager.RunLogStorage(), a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.Logger)
	a.PageHandler = handlers.NewPageHandler(a.Logger, a.Config.Listing.URL, !a.Config.IsProduction())
}

// closePartial releases what New managed to open before failing
func (a *App) closePartial() {
	if a.LogConsumer != nil {
		a.LogConsumer.Stop()
	}
	if a.StorageManager != nil {
		a.StorageManager.Close()
	}
}

// Close stops background work and releases resources in dependency order
func (a *App) Close() error {
	// Stop scheduler service
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Stop the run so its final state is persisted before storage closes
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Stop(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Duration(a.Config.Session.Timeout))
			if err := a.Orchestrator.Wait(ctx); err != nil {
				a.Logger.Warn().Err(err).Msg("Run did not stop in time")
			}
			cancel()
		}
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.StatusService != nil {
		if err := a.StatusService.Close(); err != nil {
			a.Logger.Debug().Err(err).Msg("Failed to unsubscribe status service")
		}
	}

	if a.Browser != nil {
		if err := a.Browser.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to shut down browser")
		} else {
			a.Logger.Info().Msg("Browser stopped")
		}
	}

	// Stop log consumer
	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		} else {
			a.Logger.Info().Msg("Log consumer stopped")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
