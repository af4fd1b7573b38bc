// -----------------------------------------------------------------------
// Window Session Manager - One report window from open to result
// -----------------------------------------------------------------------

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/messenger"
)

var (
	// ErrSessionBusy is returned when a session is already running on the manager
	ErrSessionBusy = errors.New("a report window session is already active")
	// ErrSessionAborted is returned when the caller cancelled the session; no record is produced
	ErrSessionAborted = errors.New("report window session aborted")
)

// ReadyStateComplete is the document.readyState value of a fully loaded page
const ReadyStateComplete = "complete"

// Window is one open browsing context showing a report page
type Window interface {
	ReadyState(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Closed reports whether the window is gone, closed by the user or by the browser
	Closed(ctx context.Context) bool
	// Close force-closes the window. Closing an already closed window is not an error.
	Close() error
}

// WindowOpener opens report windows
type WindowOpener interface {
	Open(ctx context.Context, url string) (Window, error)
}

// RecordExtractor reads a record from report page HTML
type RecordExtractor interface {
	Extract(html string, link models.ReportLink) models.ReportRecord
}

// Manager runs report window sessions, at most one at a time
type Manager struct {
	opener          WindowOpener
	extractor       RecordExtractor
	messenger       *messenger.Messenger
	config          *common.SessionConfig
	detailsFragment string
	logger          arbor.ILogger

	busy atomic.Bool
}

// NewManager creates a session manager.
// detailsFragment is appended to report URLs, e.g. "#!/details" to land on the detail tab.
func NewManager(opener WindowOpener, extractor RecordExtractor, msgr *messenger.Messenger, config *common.SessionConfig, detailsFragment string, logger arbor.ILogger) *Manager {
	return &Manager{
		opener:          opener,
		extractor:       extractor,
		messenger:       msgr,
		config:          config,
		detailsFragment: detailsFragment,
		logger:          logger,
	}
}

// Active reports whether a session is in progress
func (m *Manager) Active() bool {
	return m.busy.Load()
}

// RunSession opens the report window for task and waits for exactly one outcome:
// the extracted record, a "closed before extraction" record, or a "timeout" record.
// Per-report failures are returned as records with Error set, never as errors.
// Cancelling ctx closes the window and returns ErrSessionAborted.
func (m *Manager) RunSession(ctx context.Context, task models.ExtractionTask) (models.ReportRecord, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return models.ReportRecord{}, ErrSessionBusy
	}
	defer m.busy.Store(false)

	pending, err := m.messenger.Expect(task.CorrelationID)
	if err != nil {
		return models.ReportRecord{}, fmt.Errorf("failed to register session %s: %w", task.CorrelationID, err)
	}
	defer pending.Cancel()

	logger := loggerFrom(ctx, m.logger)
	started := time.Now()

	url := WindowURL(task.Link.URL, m.detailsFragment)
	logger.Info().
		Str("report_id", task.Link.ID).
		Int("index", task.SequenceIndex+1).
		Int("total", task.Total).
		Str("url", url).
		Str("correlation_id", task.CorrelationID).
		Msg("Opening report window")

	win, err := m.opener.Open(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return models.ReportRecord{}, ErrSessionAborted
		}
		logger.Warn().Err(err).Str("report_id", task.Link.ID).Msg("Report window failed to open")
		return models.FailedRecord(task.Link.ID, fmt.Sprintf("%s: %v", models.ErrorOpenFailed, err)), nil
	}

	closeWindow := sync.OnceFunc(func() {
		if err := win.Close(); err != nil {
			logger.Debug().Err(err).Str("report_id", task.Link.ID).Msg("Failed to close report window")
		}
	})
	defer closeWindow()

	childCtx, cancelChild := context.WithCancel(ctx)
	defer cancelChild()
	common.SafeGoWithContext(childCtx, logger, "session:"+task.Link.ID, func() {
		m.runChild(childCtx, win, task, logger)
	})

	timeout := time.NewTimer(time.Duration(m.config.Timeout))
	defer timeout.Stop()
	poll := time.NewTicker(time.Duration(m.config.PollInterval))
	defer poll.Stop()

	for {
		select {
		case env := <-pending.Result():
			logger.Info().
				Str("report_id", task.Link.ID).
				Str("elapsed", time.Since(started).Round(time.Millisecond).String()).
				Msg("Report extracted")
			return env.Record, nil

		case <-poll.C:
			if !win.Closed(ctx) {
				continue
			}
			// The child may have delivered just before the window went away
			select {
			case env := <-pending.Result():
				return env.Record, nil
			default:
			}
			logger.Warn().Str("report_id", task.Link.ID).Msg("Report window closed before extraction")
			return models.FailedRecord(task.Link.ID, models.ErrorClosedEarly), nil

		case <-timeout.C:
			logger.Warn().
				Str("report_id", task.Link.ID).
				Str("timeout", m.config.Timeout.String()).
				Msg("Report window timed out")
			return models.FailedRecord(task.Link.ID, models.ErrorTimeout), nil

		case <-ctx.Done():
			logger.Info().Str("report_id", task.Link.ID).Msg("Report window session aborted")
			return models.ReportRecord{}, ErrSessionAborted
		}
	}
}

// runChild plays the part of the script inside the report window: wait for the
// page to load, extract, and send one envelope. A page that loads without data
// is retried on later ticks, up to EmptyRetries, before the best-effort record is sent.
func (m *Manager) runChild(ctx context.Context, win Window, task models.ExtractionTask, logger arbor.ILogger) {
	tick := time.NewTicker(time.Duration(m.config.PollInterval))
	defer tick.Stop()

	settled := false
	attempts := 0

	for {
		if state, err := win.ReadyState(ctx); err == nil && state == ReadyStateComplete {
			if !settled {
				settled = true
				if !sleep(ctx, time.Duration(m.config.SettleDelay)) {
					return
				}
			}

			html, err := win.HTML(ctx)
			if err == nil {
				record := m.extractor.Extract(html, task.Link)
				attempts++
				if record.HasData() || record.Failed() || attempts > m.config.EmptyRetries {
					m.messenger.Deliver(models.NewEnvelope(task.CorrelationID, record))
					return
				}
				logger.Debug().
					Str("report_id", task.Link.ID).
					Int("attempt", attempts).
					Msg("Report page loaded without data, retrying")
			} else {
				logger.Debug().Err(err).Str("report_id", task.Link.ID).Msg("Failed to read report page")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

type loggerKey struct{}

// WithLogger returns ctx carrying the logger sessions write to, typically one
// correlated with the current run so window activity lands in the run log
func WithLogger(ctx context.Context, logger arbor.ILogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context, fallback arbor.ILogger) arbor.ILogger {
	if l, ok := ctx.Value(loggerKey{}).(arbor.ILogger); ok && l != nil {
		return l
	}
	return fallback
}

// WindowURL appends the details fragment unless the URL already carries one
func WindowURL(url, fragment string) string {
	if fragment == "" || strings.Contains(url, "#") {
		return url
	}
	return url + fragment
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
