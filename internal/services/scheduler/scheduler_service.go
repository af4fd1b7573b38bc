// -----------------------------------------------------------------------
// Scheduler - Unattended extraction runs on a cron schedule
// -----------------------------------------------------------------------

package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/export"
	"github.com/ternarybob/carextract/internal/services/mailer"
)

// ErrAlreadyProcessing is returned when a scheduled run is still in progress
var ErrAlreadyProcessing = errors.New("scheduled run already in progress")

// Runner starts an extraction run and reports its outcome
type Runner interface {
	Start(ctx context.Context) (string, error)
	Wait(ctx context.Context) error
	Snapshot() models.RunSnapshot
}

// Mailer delivers the export file
type Mailer interface {
	IsConfigured() bool
	Send(ctx context.Context, to []string, subject, body string, attachments []mailer.Attachment) error
}

// Status describes the schedule for the status endpoint
type Status struct {
	Enabled   bool       `json:"enabled"`
	Cron      string     `json:"cron"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastFile  string     `json:"last_file,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Service runs extraction on a cron schedule, then exports and optionally mails the result
type Service struct {
	config *common.ScheduleConfig
	export *common.ExportConfig
	runner Runner
	mailer Mailer
	cron   *cron.Cron
	logger arbor.ILogger

	mu           sync.Mutex
	running      bool
	isProcessing bool
	entryID      cron.EntryID
	lastRun      *time.Time
	lastFile     string
	lastError    string
}

// NewService creates a scheduler. mailer may be nil.
func NewService(config *common.ScheduleConfig, exportConfig *common.ExportConfig, runner Runner, mailer Mailer, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		export: exportConfig,
		runner: runner,
		mailer: mailer,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start registers the configured schedule. A disabled schedule is not an error.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.config.Enabled {
		s.logger.Info().Msg("Scheduled runs disabled")
		return nil
	}

	id, err := s.cron.AddFunc(s.config.Cron, s.runScheduledTask)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron", s.config.Cron).
		Str("next_run", s.cron.Entry(id).Next.Format(time.RFC3339)).
		Msg("Scheduled runs enabled")
	return nil
}

// Stop halts the schedule, waiting up to 30 seconds for a scheduled run to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Scheduled run did not finish within timeout")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the schedule is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the schedule and the outcome of the last scheduled run
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Enabled:   s.config.Enabled,
		Cron:      s.config.Cron,
		LastRun:   s.lastRun,
		LastFile:  s.lastFile,
		LastError: s.lastError,
	}
	if s.running {
		next := s.cron.Entry(s.entryID).Next
		status.NextRun = &next
	}
	return status
}

func (s *Service) runScheduledTask() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled run")
		}
	}()

	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled run failed")
	}
}

// RunOnce starts a run, waits for it, writes the export and mails it when
// recipients are configured. It returns the export path.
func (s *Service) RunOnce(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		return "", ErrAlreadyProcessing
	}
	s.isProcessing = true
	s.mu.Unlock()

	path, err := s.runOnce(ctx)

	s.mu.Lock()
	now := time.Now()
	s.lastRun = &now
	s.isProcessing = false
	s.lastFile = path
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	return path, err
}

func (s *Service) runOnce(ctx context.Context) (string, error) {
	runID, err := s.runner.Start(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	s.logger.Info().Str("run_id", runID).Msg("Scheduled run started")

	if err := s.runner.Wait(ctx); err != nil {
		return "", err
	}

	snap := s.runner.Snapshot()
	if snap.NoWork || len(snap.Records) == 0 {
		s.logger.Info().Str("run_id", runID).Str("message", snap.Message).Msg("Scheduled run produced no records")
		return "", nil
	}

	format, err := export.ParseFormat(s.config.ExportFormat)
	if err != nil {
		return "", err
	}

	path, data, err := s.writeExport(format, snap.Records)
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("run_id", runID).
		Str("state", string(snap.State)).
		Int("records", len(snap.Records)).
		Str("path", path).
		Msg("Scheduled export written")

	if s.mailer == nil || !s.mailer.IsConfigured() || len(s.config.MailTo) == 0 {
		return path, nil
	}

	subject := fmt.Sprintf("CAR export %s", time.Now().Format("02 Jan 2006"))
	body := fmt.Sprintf("%s\n\n%d reports exported.\n", snap.Message, len(snap.Records))
	attachment := mailer.Attachment{
		Filename:    filepath.Base(path),
		ContentType: format.ContentType(),
		Content:     data,
	}
	if err := s.mailer.Send(ctx, s.config.MailTo, subject, body, []mailer.Attachment{attachment}); err != nil {
		return path, fmt.Errorf("export written but mail failed: %w", err)
	}
	return path, nil
}

func (s *Service) writeExport(format export.Format, records []models.ReportRecord) (string, []byte, error) {
	if err := os.MkdirAll(s.export.Dir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		return "", nil, err
	}

	path := filepath.Join(s.export.Dir, export.Filename(s.export.FilenamePrefix, format, time.Now()))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write export file: %w", err)
	}
	return path, buf.Bytes(), nil
}
