package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/scheduler"
)

// BrowserProbe reports whether Chrome has been started
type BrowserProbe interface {
	IsInitialized() bool
}

// ScheduleProbe reports the scheduler state
type ScheduleProbe interface {
	Status() scheduler.Status
}

// Status is the application status served to the ribbon
type Status struct {
	Version        string            `json:"version"`
	StartedAt      time.Time         `json:"started_at"`
	Uptime         string            `json:"uptime"`
	RunID          string            `json:"run_id,omitempty"`
	RunState       models.RunState   `json:"run_state"`
	RunMessage     string            `json:"run_message,omitempty"`
	StateChangedAt *time.Time        `json:"state_changed_at,omitempty"`
	Browser        bool              `json:"browser_started"`
	ListingURL     string            `json:"listing_url"`
	Schedule       *scheduler.Status `json:"schedule,omitempty"`
	Goroutines     int64             `json:"goroutines_spawned"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Service tracks the run state from the event bus and collects component probes
type Service struct {
	mu             sync.RWMutex
	logger         arbor.ILogger
	eventService   interfaces.EventService
	subscriptionID interfaces.SubscriptionID
	subscribed     bool
	startedAt      time.Time
	listingURL     string
	browser        BrowserProbe
	schedule       ScheduleProbe
	runID          string
	state          models.RunState
	message        string
	changedAt      *time.Time
}

// NewService creates a new status service. browser and schedule may be nil.
func NewService(eventService interfaces.EventService, browser BrowserProbe, schedule ScheduleProbe, listingURL string, logger arbor.ILogger) *Service {
	return &Service{
		logger:       logger,
		eventService: eventService,
		startedAt:    time.Now(),
		listingURL:   listingURL,
		browser:      browser,
		schedule:     schedule,
		state:        models.RunStateIdle,
	}
}

// Seed sets the initial run state, e.g. after the orchestrator restored history
func (s *Service) Seed(snapshot models.RunSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = snapshot.RunID
	s.state = snapshot.State
	s.message = snapshot.Message
}

// SubscribeToRunEvents keeps the run state current from run_state events
func (s *Service) SubscribeToRunEvents() error {
	if s.eventService == nil {
		return nil
	}

	id, err := s.eventService.Subscribe(interfaces.EventRunState, s.handleRunState)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subscriptionID = id
	s.subscribed = true
	s.mu.Unlock()
	return nil
}

func (s *Service) handleRunState(ctx context.Context, event interfaces.Event) error {
	snapshot, ok := event.Payload.(models.RunSnapshot)
	if !ok {
		return nil
	}

	s.mu.Lock()
	oldState := s.state
	now := time.Now()
	s.runID = snapshot.RunID
	s.state = snapshot.State
	s.message = snapshot.Message
	s.changedAt = &now
	s.mu.Unlock()

	if oldState != snapshot.State {
		s.logger.Debug().
			Str("old_state", string(oldState)).
			Str("new_state", string(snapshot.State)).
			Msg("Run state changed")
	}
	return nil
}

// GetStatus returns the full status
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	status := Status{
		Version:    common.GetVersion(),
		StartedAt:  s.startedAt,
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		RunID:      s.runID,
		RunState:   s.state,
		RunMessage: s.message,
		ListingURL: s.listingURL,
		Goroutines: common.GetGoroutineCount(),
		Timestamp:  time.Now(),
	}
	if s.changedAt != nil {
		changed := *s.changedAt
		status.StateChangedAt = &changed
	}
	s.mu.RUnlock()

	if s.browser != nil {
		status.Browser = s.browser.IsInitialized()
	}
	if s.schedule != nil {
		schedule := s.schedule.Status()
		status.Schedule = &schedule
	}
	return status
}

// Close unsubscribes from the event bus
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.subscribed {
		return nil
	}
	s.subscribed = false
	return s.eventService.Unsubscribe(interfaces.EventRunState, s.subscriptionID)
}
