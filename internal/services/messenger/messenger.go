// Package messenger correlates report-window results with the task that opened the window.
package messenger

import (
	"errors"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/models"
)

// ErrDuplicateCorrelation is returned when a correlation id is outstanding or was already resolved
var ErrDuplicateCorrelation = errors.New("correlation id already in use")

// Pending is the single listener registered for one correlation id
type Pending struct {
	id     string
	result chan models.Envelope
	m      *Messenger
}

// ID returns the correlation id this listener waits for
func (p *Pending) ID() string {
	return p.id
}

// Result yields at most one envelope
func (p *Pending) Result() <-chan models.Envelope {
	return p.result
}

// Cancel deregisters the listener. Envelopes arriving afterwards are dropped.
// Safe to call after delivery or more than once.
func (p *Pending) Cancel() {
	p.m.resolve(p.id)
}

// maxResolved bounds how many resolved ids are remembered. Correlation ids
// carry a per-process attempt counter, so an id older than this window is never reissued.
const maxResolved = 1024

// Messenger routes result envelopes to their waiting task.
// Recently resolved ids are remembered so late envelopes from a timed-out
// window can never be attributed to a newer task.
type Messenger struct {
	mu            sync.Mutex
	outstanding   map[string]*Pending
	resolved      map[string]struct{}
	resolvedOrder []string
	logger        arbor.ILogger
}

// New creates an empty messenger
func New(logger arbor.ILogger) *Messenger {
	return &Messenger{
		outstanding: make(map[string]*Pending),
		resolved:    make(map[string]struct{}),
		logger:      logger,
	}
}

// Expect registers a listener for correlationID
func (m *Messenger) Expect(correlationID string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.outstanding[correlationID]; ok {
		return nil, ErrDuplicateCorrelation
	}
	if _, ok := m.resolved[correlationID]; ok {
		return nil, ErrDuplicateCorrelation
	}

	p := &Pending{
		id:     correlationID,
		result: make(chan models.Envelope, 1),
		m:      m,
	}
	m.outstanding[correlationID] = p
	return p, nil
}

// Deliver hands an envelope to its listener. It returns false when the
// envelope was dropped: wrong type, unknown id, or id already resolved.
func (m *Messenger) Deliver(env models.Envelope) bool {
	if env.Type != models.EnvelopeTypeReport {
		m.logger.Debug().Str("type", env.Type).Msg("Ignoring message of foreign type")
		return false
	}

	m.mu.Lock()
	p, ok := m.outstanding[env.CorrelationID]
	if ok {
		delete(m.outstanding, env.CorrelationID)
		m.rememberLocked(env.CorrelationID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug().
			Str("correlation_id", env.CorrelationID).
			Str("report_id", env.Record.ID).
			Msg("Ignoring stale or unknown extraction result")
		return false
	}

	// Buffered and written once under the deregistration above
	p.result <- env
	return true
}

// Outstanding returns the number of registered listeners
func (m *Messenger) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outstanding)
}

// Reset cancels every outstanding listener. Resolved ids stay remembered.
func (m *Messenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.outstanding {
		m.rememberLocked(id)
	}
	clear(m.outstanding)
}

func (m *Messenger) resolve(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outstanding[id]; ok {
		delete(m.outstanding, id)
		m.rememberLocked(id)
	}
}

// rememberLocked records id as resolved, forgetting the oldest beyond maxResolved
func (m *Messenger) rememberLocked(id string) {
	m.resolved[id] = struct{}{}
	m.resolvedOrder = append(m.resolvedOrder, id)
	if over := len(m.resolvedOrder) - maxResolved; over > 0 {
		for _, old := range m.resolvedOrder[:over] {
			delete(m.resolved, old)
		}
		m.resolvedOrder = append(m.resolvedOrder[:0], m.resolvedOrder[over:]...)
	}
}
