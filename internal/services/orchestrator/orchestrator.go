// -----------------------------------------------------------------------
// Extraction Orchestrator - Drives discovery and the sequential report loop
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/session"
)

// NoWorkMessage is reported when the listing page holds no report links
const NoWorkMessage = "No CAR links found on this page"

// ListingSource supplies the listing page a run discovers its work from
type ListingSource interface {
	// Listing returns the page HTML and the URL relative links resolve against
	Listing(ctx context.Context) (html string, pageURL string, err error)
}

// LinkDiscoverer finds report links in listing HTML
type LinkDiscoverer interface {
	Discover(html, pageURL string) ([]models.ReportLink, error)
}

// SessionRunner runs one report window session
type SessionRunner interface {
	RunSession(ctx context.Context, task models.ExtractionTask) (models.ReportRecord, error)
}

type entry struct {
	link   models.ReportLink
	record models.ReportRecord
	seq    int
}

// Orchestrator owns the run state and the aggregate collection
type Orchestrator struct {
	listing    ListingSource
	discoverer LinkDiscoverer
	sessions   SessionRunner
	storage    interfaces.RecordStorage
	events     interfaces.EventService
	delay      time.Duration
	logger     arbor.ILogger

	// Clock is used for task correlation ids and run timestamps
	Clock func() time.Time

	mu         sync.Mutex
	state      models.RunState
	runID      string
	listingURL string
	current    int
	total      int
	message    string
	noWork     bool
	entries    []entry
	nextSeq    int
	startedAt  *time.Time
	finishedAt *time.Time
	refreshing bool

	cancel context.CancelFunc
	resume chan struct{}
	done   chan struct{}
}

// New creates an orchestrator in the Idle state.
// storage and events may be nil; records then live in memory only.
func New(listing ListingSource, discoverer LinkDiscoverer, sessions SessionRunner, storage interfaces.RecordStorage, events interfaces.EventService, config *common.SessionConfig, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		listing:    listing,
		discoverer: discoverer,
		sessions:   sessions,
		storage:    storage,
		events:     events,
		delay:      time.Duration(config.InterSessionDelay),
		logger:     logger,
		Clock:      time.Now,
		state:      models.RunStateIdle,
	}
}

// Restore loads the aggregate and the state of the last run from storage
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.storage == nil {
		return nil
	}

	stored, err := o.storage.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	runs, err := o.storage.ListRuns(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to load run history: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries = o.entries[:0]
	for _, s := range stored {
		o.entries = append(o.entries, entry{link: s.Link(), record: s.Record, seq: s.Seq})
		if s.Seq >= o.nextSeq {
			o.nextSeq = s.Seq + 1
		}
	}

	if len(runs) > 0 {
		last := runs[0]
		o.runID = last.ID
		o.listingURL = last.ListingURL
		o.total = last.Total
		o.current = last.Succeeded + last.Failed
		o.message = last.Message
		o.state = last.State
		if !o.state.IsTerminal() {
			// The process went away mid-run
			o.state = models.RunStateStopped
			o.message = "Interrupted"
		}
		started := last.StartedAt
		o.startedAt = &started
		if !last.FinishedAt.IsZero() {
			finished := last.FinishedAt
			o.finishedAt = &finished
		}
	}

	o.logger.Info().
		Int("records", len(o.entries)).
		Str("state", string(o.state)).
		Msg("Restored aggregate collection")

	return nil
}

// Start resets the aggregate and begins a new run in the background.
// A run still unwinding from Stop is waited for first.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	o.mu.Lock()
	if _, err := next(o.state, actionStart); err != nil {
		o.mu.Unlock()
		return "", err
	}
	prev := o.done
	o.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	o.mu.Lock()
	to, err := next(o.state, actionStart)
	if err != nil {
		o.mu.Unlock()
		return "", err
	}
	if o.refreshing {
		o.mu.Unlock()
		return "", session.ErrSessionBusy
	}

	now := o.Clock()
	runID := common.NewRunID()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.state = to
	o.runID = runID
	o.listingURL = ""
	o.current = 0
	o.total = 0
	o.message = "Discovering reports"
	o.noWork = false
	o.entries = nil
	o.nextSeq = 0
	o.startedAt = &now
	o.finishedAt = nil
	o.cancel = cancel
	o.resume = nil
	o.done = make(chan struct{})
	done := o.done
	snap := o.snapshotLocked(false)
	o.mu.Unlock()

	runLogger := o.logger.WithCorrelationId(runID)
	runLogger.Info().Str("run_id", runID).Msg("Extraction run started")

	if o.storage != nil {
		if err := o.storage.ClearRecords(runCtx); err != nil {
			runLogger.Warn().Err(err).Msg("Failed to clear stored records")
		}
	}
	o.saveRun(runCtx)
	o.publish(runCtx, interfaces.EventRunState, snap)

	common.SafeGo(runLogger, "orchestrator:"+runID, func() {
		defer close(done)
		defer cancel()
		o.run(runCtx, runID, runLogger)
	})

	return runID, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, logger arbor.ILogger) {
	html, pageURL, err := o.listing.Listing(ctx)
	if err != nil {
		if ctx.Err() != nil {
			o.finish(ctx, runID, "Stopped during discovery", logger)
			return
		}
		logger.Error().Err(err).Msg("Failed to load listing page")
		o.fail(ctx, runID, fmt.Sprintf("Failed to load listing page: %v", err), logger)
		return
	}

	links, err := o.discoverer.Discover(html, pageURL)
	if err != nil {
		logger.Error().Err(err).Msg("Link discovery failed")
		o.fail(ctx, runID, fmt.Sprintf("Link discovery failed: %v", err), logger)
		return
	}

	o.mu.Lock()
	o.listingURL = pageURL
	o.total = len(links)
	if len(links) == 0 {
		o.noWork = true
	}
	o.message = fmt.Sprintf("Found %d reports", len(links))
	progress := models.Progress{Current: 0, Total: len(links)}
	o.mu.Unlock()

	logger.Info().Int("total", len(links)).Str("listing_url", pageURL).Msg("Report links discovered")

	if len(links) == 0 {
		logger.Warn().Msg(NoWorkMessage)
		o.finish(ctx, runID, NoWorkMessage, logger)
		return
	}
	o.publish(ctx, interfaces.EventRunProgress, progress)

	sctx := session.WithLogger(ctx, logger)
	for i, link := range links {
		if ctx.Err() != nil || !o.waitWhilePaused(ctx) {
			break
		}

		o.setMessage(fmt.Sprintf("Extracting %s (%d of %d)", link.ID, i+1, len(links)))

		task := models.NewExtractionTask(link, i, len(links), o.Clock())
		record, err := o.sessions.RunSession(sctx, task)
		if errors.Is(err, session.ErrSessionAborted) || (err != nil && ctx.Err() != nil) {
			// The interrupted attempt is not part of the aggregate
			break
		}
		if err != nil {
			logger.Warn().Err(err).Str("report_id", link.ID).Msg("Report session failed")
			record = models.FailedRecord(link.ID, err.Error())
		}

		// A record that finished as Stop arrived still counts as completed
		o.appendRecord(context.WithoutCancel(ctx), runID, link, record)
		if ctx.Err() != nil {
			break
		}

		if i < len(links)-1 && !sleep(ctx, o.delay) {
			break
		}
	}

	o.finish(ctx, runID, "", logger)
}

// waitWhilePaused blocks until the run is resumed. It returns false when the run was stopped.
func (o *Orchestrator) waitWhilePaused(ctx context.Context) bool {
	for {
		o.mu.Lock()
		if o.state != models.RunStatePaused {
			o.mu.Unlock()
			return ctx.Err() == nil
		}
		resume := o.resume
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-resume:
		}
	}
}

func (o *Orchestrator) appendRecord(ctx context.Context, runID string, link models.ReportLink, record models.ReportRecord) {
	o.mu.Lock()
	seq := o.nextSeq
	o.nextSeq++
	o.entries = append(o.entries, entry{link: link, record: record, seq: seq})
	o.current++
	index := len(o.entries) - 1
	progress := models.Progress{Current: o.current, Total: o.total}
	o.mu.Unlock()

	o.persist(ctx, runID, seq, link, record)
	o.publish(ctx, interfaces.EventRecordUpdated, models.RecordEvent{RunID: runID, Index: index, Record: record})
	o.publish(ctx, interfaces.EventRunProgress, progress)
}

// finish ends the run: Stopped if Stop was requested, else Completed
func (o *Orchestrator) finish(ctx context.Context, runID, message string, logger arbor.ILogger) {
	o.mu.Lock()
	if o.runID != runID {
		o.mu.Unlock()
		return
	}
	if o.state != models.RunStateStopped {
		if to, err := next(o.state, actionFinish); err == nil {
			o.state = to
		}
	}
	if message == "" {
		succeeded, failed := o.countLocked()
		if o.state == models.RunStateStopped {
			message = fmt.Sprintf("Stopped after %d of %d reports", o.current, o.total)
		} else {
			message = fmt.Sprintf("Completed %d reports (%d failed)", succeeded+failed, failed)
		}
	}
	o.message = message
	now := o.Clock()
	o.finishedAt = &now
	snap := o.snapshotLocked(false)
	o.mu.Unlock()

	logger.Info().
		Str("state", string(snap.State)).
		Int("current", snap.Progress.Current).
		Int("total", snap.Progress.Total).
		Msg(message)

	// The run context may already be cancelled by Stop
	bg := context.WithoutCancel(ctx)
	o.saveRun(bg)
	o.publish(bg, interfaces.EventRunState, snap)
}

// fail ends the run as Stopped with a status message
func (o *Orchestrator) fail(ctx context.Context, runID, message string, logger arbor.ILogger) {
	o.mu.Lock()
	if o.runID == runID && o.state != models.RunStateStopped {
		if to, err := next(o.state, actionStop); err == nil {
			o.state = to
		}
	}
	o.mu.Unlock()
	o.finish(ctx, runID, message, logger)
}

// Pause stops new sessions from starting; the in-flight session finishes first
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	to, err := next(o.state, actionPause)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = to
	o.resume = make(chan struct{})
	o.message = "Paused"
	snap := o.snapshotLocked(false)
	o.mu.Unlock()

	o.logger.Info().Str("run_id", snap.RunID).Msg("Extraction paused")
	o.publish(context.Background(), interfaces.EventRunState, snap)
	return nil
}

// Resume continues a paused run
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	to, err := next(o.state, actionResume)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if o.refreshing {
		o.mu.Unlock()
		return session.ErrSessionBusy
	}
	o.state = to
	if o.resume != nil {
		close(o.resume)
		o.resume = nil
	}
	o.message = "Resumed"
	snap := o.snapshotLocked(false)
	o.mu.Unlock()

	o.logger.Info().Str("run_id", snap.RunID).Msg("Extraction resumed")
	o.publish(context.Background(), interfaces.EventRunState, snap)
	return nil
}

// Stop ends the run. The in-flight session is aborted and its window closed;
// records already collected are kept.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	to, err := next(o.state, actionStop)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = to
	o.message = "Stopping"
	if o.cancel != nil {
		o.cancel()
	}
	snap := o.snapshotLocked(false)
	o.mu.Unlock()

	o.logger.Info().Str("run_id", snap.RunID).Msg("Extraction stop requested")
	o.publish(context.Background(), interfaces.EventRunState, snap)
	return nil
}

// Clear empties the aggregate collection and returns to Idle
func (o *Orchestrator) Clear(ctx context.Context) error {
	o.mu.Lock()
	to, err := next(o.state, actionClear)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if o.refreshing {
		o.mu.Unlock()
		return session.ErrSessionBusy
	}
	o.state = to
	o.entries = nil
	o.nextSeq = 0
	o.current = 0
	o.total = 0
	o.noWork = false
	o.message = "Cleared"
	snap := o.snapshotLocked(false)
	o.mu.Unlock()

	if o.storage != nil {
		if err := o.storage.ClearRecords(ctx); err != nil {
			return fmt.Errorf("failed to clear stored records: %w", err)
		}
	}

	o.logger.Info().Msg("Aggregate collection cleared")
	o.publish(ctx, interfaces.EventRunState, snap)
	return nil
}

// RefreshOne runs a new session for one report outside the main loop. A
// successful result replaces the record in place; a failed attempt leaves the
// existing record untouched and is returned for the caller to report.
func (o *Orchestrator) RefreshOne(ctx context.Context, id string) (models.ReportRecord, error) {
	o.mu.Lock()
	if o.state == models.RunStateRunning {
		o.mu.Unlock()
		return models.ReportRecord{}, fmt.Errorf("%w: cannot refresh while %s", ErrInvalidTransition, o.state)
	}
	if o.refreshing {
		o.mu.Unlock()
		return models.ReportRecord{}, session.ErrSessionBusy
	}
	index := o.indexLocked(id)
	if index < 0 {
		o.mu.Unlock()
		return models.ReportRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	link := o.entries[index].link
	total := len(o.entries)
	runID := o.runID
	o.refreshing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.refreshing = false
		o.mu.Unlock()
	}()

	logger := o.logger.WithCorrelationId(runID)
	logger.Info().Str("report_id", id).Msg("Refreshing report")

	task := models.NewExtractionTask(link, index, total, o.Clock())
	record, err := o.sessions.RunSession(session.WithLogger(ctx, logger), task)
	if err != nil {
		return models.ReportRecord{}, err
	}
	if record.Failed() {
		logger.Warn().Str("report_id", id).Str("error", record.Error).Msg("Refresh failed, keeping previous record")
		return record, nil
	}

	o.mu.Lock()
	index = o.indexLocked(id)
	if index < 0 {
		o.mu.Unlock()
		return record, nil
	}
	o.entries[index].record = record
	seq := o.entries[index].seq
	o.mu.Unlock()

	o.persist(ctx, runID, seq, link, record)
	o.publish(ctx, interfaces.EventRecordUpdated, models.RecordEvent{RunID: runID, Index: index, Record: record})
	return record, nil
}

// RemoveOne drops a record from the aggregate collection
func (o *Orchestrator) RemoveOne(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.state == models.RunStateRunning {
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot remove while %s", ErrInvalidTransition, o.state)
	}
	if o.refreshing {
		o.mu.Unlock()
		return session.ErrSessionBusy
	}
	index := o.indexLocked(id)
	if index < 0 {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	removed := o.entries[index].record
	o.entries = append(o.entries[:index], o.entries[index+1:]...)
	runID := o.runID
	o.mu.Unlock()

	if o.storage != nil {
		if err := o.storage.DeleteRecord(ctx, id); err != nil {
			o.logger.Warn().Err(err).Str("report_id", id).Msg("Failed to delete stored record")
		}
	}

	o.logger.Info().Str("report_id", id).Msg("Record removed")
	o.publish(ctx, interfaces.EventRecordRemoved, models.RecordEvent{RunID: runID, Index: -1, Record: models.ReportRecord{ID: removed.ID}})
	return nil
}

// Snapshot returns a copy of the current state including the records
func (o *Orchestrator) Snapshot() models.RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked(true)
}

// Records returns a copy of the aggregate collection in order
func (o *Orchestrator) Records() []models.ReportRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recordsLocked()
}

// Wait blocks until the current run has finished or ctx is done
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) setMessage(message string) {
	o.mu.Lock()
	o.message = message
	o.mu.Unlock()
}

func (o *Orchestrator) indexLocked(id string) int {
	for i, e := range o.entries {
		if e.record.ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) countLocked() (succeeded, failed int) {
	for _, e := range o.entries {
		if e.record.Failed() {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

func (o *Orchestrator) recordsLocked() []models.ReportRecord {
	records := make([]models.ReportRecord, len(o.entries))
	for i, e := range o.entries {
		records[i] = e.record
	}
	return records
}

func (o *Orchestrator) snapshotLocked(withRecords bool) models.RunSnapshot {
	snap := models.RunSnapshot{
		RunID:      o.runID,
		State:      o.state,
		Progress:   models.Progress{Current: o.current, Total: o.total},
		Message:    o.message,
		NoWork:     o.noWork,
		StartedAt:  o.startedAt,
		FinishedAt: o.finishedAt,
	}
	if withRecords {
		snap.Records = o.recordsLocked()
	}
	return snap
}

func (o *Orchestrator) persist(ctx context.Context, runID string, seq int, link models.ReportLink, record models.ReportRecord) {
	if o.storage == nil {
		return
	}
	stored := &models.StoredRecord{Seq: seq, RunID: runID, URL: link.URL, Record: record}
	if err := o.storage.SaveRecord(context.WithoutCancel(ctx), stored); err != nil {
		o.logger.Warn().Err(err).Str("report_id", record.ID).Msg("Failed to persist record")
	}
}

func (o *Orchestrator) saveRun(ctx context.Context) {
	if o.storage == nil {
		return
	}

	o.mu.Lock()
	succeeded, failed := o.countLocked()
	summary := &models.RunSummary{
		ID:         o.runID,
		ListingURL: o.listingURL,
		State:      o.state,
		Total:      o.total,
		Succeeded:  succeeded,
		Failed:     failed,
		Message:    o.message,
	}
	if o.startedAt != nil {
		summary.StartedAt = *o.startedAt
	}
	if o.finishedAt != nil {
		summary.FinishedAt = *o.finishedAt
	}
	o.mu.Unlock()

	if err := o.storage.SaveRun(ctx, summary); err != nil {
		o.logger.Warn().Err(err).Str("run_id", summary.ID).Msg("Failed to save run summary")
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
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
