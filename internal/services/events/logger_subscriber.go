package events

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs run and record events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		switch p := event.Payload.(type) {
		case models.RunSnapshot:
			logEvent = logEvent.Str("run_id", p.RunID).Str("state", string(p.State)).
				Int("current", p.Progress.Current).Int("total", p.Progress.Total)
			if p.Message != "" {
				logEvent = logEvent.Str("message", p.Message)
			}
		case models.Progress:
			logEvent = logEvent.Int("current", p.Current).Int("total", p.Total)
		case models.RecordEvent:
			logEvent = logEvent.Str("report_id", p.Record.ID).Int("index", p.Index)
			if p.Record.Failed() {
				logEvent = logEvent.Str("error", p.Record.Error)
			}
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to the orchestrator event types.
// Run log lines are excluded since they originate from the logger itself.
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range []interfaces.EventType{
		interfaces.EventRunState,
		interfaces.EventRunProgress,
		interfaces.EventRecordUpdated,
		interfaces.EventRecordRemoved,
	} {
		if _, err := eventService.Subscribe(eventType, subscriber); err != nil {
			return err
		}
	}

	return nil
}
