package logs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
)

// Consumer reads log batches from arbor's context channel, persists the lines
// of each run and republishes them as run_log events for the ribbon.
// Only events carrying a correlation id (the run id) are consumed.
type Consumer struct {
	storage       interfaces.RunLogStorage
	eventService  interfaces.EventService
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	minEventLevel arbor.LogLevel
	seq           atomic.Int64
}

// NewConsumer creates a new log consumer. logger must not carry a correlation id,
// or the consumer's own warnings would feed back into the channel.
func NewConsumer(storage interfaces.RunLogStorage, eventService interfaces.EventService, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		storage:       storage,
		eventService:  eventService,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		ctx:           ctx,
		cancel:        cancel,
		minEventLevel: parseLogLevel(minEventLevel),
	}
	// Seeded from the clock so sequence numbers keep increasing across restarts
	c.seq.Store(time.Now().UnixNano())
	return c
}

// parseLogLevel converts string log level to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// levelName maps arbor levels to the names the ribbon styles
func levelName(level log.Level) string {
	switch l := arborlevels.FromLogLevel(level); {
	case l >= arbor.ErrorLevel:
		return "error"
	case l >= arbor.WarnLevel:
		return "warn"
	case l >= arbor.InfoLevel:
		return "info"
	default:
		return "debug"
	}
}

// GetChannel returns the channel for arbor to send log batches to
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop shuts down the consumer, draining batches already queued
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Debug().Msg("Log consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			c.process(batch)

		case <-c.ctx.Done():
			for {
				select {
				case batch := <-c.channel:
					c.process(batch)
				default:
					return
				}
			}
		}
	}
}

func (c *Consumer) process(batch []arbormodels.LogEvent) {
	byRun := make(map[string][]models.RunLogEntry)

	for _, event := range batch {
		if event.CorrelationID == "" {
			continue
		}

		entry := c.transformEvent(event)
		byRun[entry.RunID] = append(byRun[entry.RunID], entry)

		if c.eventService != nil && c.shouldPublishEvent(event.Level) {
			c.publish(entry)
		}
	}

	for runID, entries := range byRun {
		if c.storage == nil {
			break
		}
		// Persist even while shutting down so the last lines of a run survive
		if err := c.storage.AppendLogs(context.WithoutCancel(c.ctx), runID, entries); err != nil {
			c.logger.Warn().
				Err(err).
				Str("run_id", runID).
				Int("log_count", len(entries)).
				Msg("Failed to write run logs")
		}
	}
}

// shouldPublishEvent checks the level threshold for ribbon events
func (c *Consumer) shouldPublishEvent(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minEventLevel
}

func (c *Consumer) publish(entry models.RunLogEntry) {
	err := c.eventService.Publish(c.ctx, interfaces.Event{
		Type:    interfaces.EventRunLog,
		Payload: entry,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("run_id", entry.RunID).Msg("Failed to publish run log event")
	}
}

// transformEvent converts an arbor event into a run log line. Structured
// fields are appended to the message in key order; report_id is also kept apart.
func (c *Consumer) transformEvent(event arbormodels.LogEvent) models.RunLogEntry {
	message := event.Message
	var reportID string

	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for key := range event.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := fmt.Sprintf("%v", event.Fields[key])
			if key == "report_id" {
				reportID = value
			}
			message += " " + key + "=" + value
		}
	}

	return models.RunLogEntry{
		RunID:         event.CorrelationID,
		Seq:           c.seq.Add(1),
		Timestamp:     event.Timestamp.Format("15:04:05"),
		FullTimestamp: event.Timestamp.Format(time.RFC3339Nano),
		Level:         levelName(event.Level),
		Message:       message,
		ReportID:      reportID,
	}
}
