package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/session"
)

// staticListing serves a fixed listing page
type staticListing struct {
	html string
	err  error
}

func (s staticListing) Listing(ctx context.Context) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return s.html, "https://haesl.example/cars", nil
}

func listingHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><table>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<tr><td><a href="/car/%s">%s</a></td></tr>`, id, id)
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

// fakeRunner answers sessions from a script. With a gate, every session
// blocks until the test sends on it or the session is cancelled.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string][]models.ReportRecord
	calls   []string
	gate    chan struct{}
	started chan string
	// returned runs after a session has produced its record, before it is handed back
	returned func(id string)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string][]models.ReportRecord),
		started: make(chan string, 64),
	}
}

func (f *fakeRunner) script(id string, records ...models.ReportRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = append(f.results[id], records...)
}

func (f *fakeRunner) RunSession(ctx context.Context, task models.ExtractionTask) (models.ReportRecord, error) {
	id := task.Link.ID

	f.mu.Lock()
	f.calls = append(f.calls, id)
	record := models.ReportRecord{ID: id, StageOwner: "Owner " + id, Status: "Investigation"}
	if queue := f.results[id]; len(queue) > 0 {
		record = queue[0]
		f.results[id] = queue[1:]
	}
	gate := f.gate
	returned := f.returned
	f.mu.Unlock()

	f.started <- id

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.ReportRecord{}, session.ErrSessionAborted
		}
	}
	if returned != nil {
		returned(id)
	}
	return record, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// memoryStorage is an in-memory RecordStorage
type memoryStorage struct {
	mu      sync.Mutex
	records map[string]models.StoredRecord
	runs    map[string]models.RunSummary
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		records: make(map[string]models.StoredRecord),
		runs:    make(map[string]models.RunSummary),
	}
}

func (m *memoryStorage) SaveRecord(ctx context.Context, record *models.StoredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Record.ID] = *record
	return nil
}

func (m *memoryStorage) DeleteRecord(ctx context.Context, reportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, reportID)
	return nil
}

func (m *memoryStorage) ListRecords(ctx context.Context) ([]models.StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.StoredRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memoryStorage) ClearRecords(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.records)
	return nil
}

func (m *memoryStorage) SaveRun(ctx context.Context, run *models.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memoryStorage) GetRun(ctx context.Context, id string) (*models.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &run, nil
}

func (m *memoryStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RunSummary, 0, len(m.runs))
	for _, r := range m.runs {
		run := r
		out = append(out, &run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recordingEvents captures published events
type recordingEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) (interfaces.SubscriptionID, error) {
	return 0, nil
}

func (r *recordingEvents) Unsubscribe(interfaces.EventType, interfaces.SubscriptionID) error {
	return nil
}

func (r *recordingEvents) Publish(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return r.Publish(ctx, event)
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) ofType(t interfaces.EventType) []interfaces.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var errListing = errors.New("connection refused")
