package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"golang.org/x/time/rate"
)

const (
	// Message types sent to the ribbon
	MessageHello         = "hello"
	MessageRunState      = string(interfaces.EventRunState)
	MessageRunProgress   = string(interfaces.EventRunProgress)
	MessageRecordUpdated = string(interfaces.EventRecordUpdated)
	MessageRecordRemoved = string(interfaces.EventRecordRemoved)
	MessageRunLog        = string(interfaces.EventRunLog)

	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Ribbon is served by this binary; local tool
	},
}

// SnapshotProvider supplies the state sent to a client on connect
type SnapshotProvider interface {
	Snapshot() models.RunSnapshot
}

// WSMessage is the envelope of every websocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HelloPayload is sent once per connection. Clients compare ServerInstanceID
// across reconnects to detect a server restart and refetch state.
type HelloPayload struct {
	ServerInstanceID string             `json:"server_instance_id"`
	Version          string             `json:"version"`
	Run              models.RunSnapshot `json:"run"`
}

type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	eventService      interfaces.EventService
	snapshots         SnapshotProvider
	progressThrottler *rate.Limiter // nil = unthrottled
	subscriptions     map[interfaces.EventType]interfaces.SubscriptionID
	serverInstanceID  string
}

// NewWebSocketHandler subscribes to the run events when eventService is set.
// snapshots may be nil, in which case the hello message carries an idle state.
func NewWebSocketHandler(eventService interfaces.EventService, snapshots SnapshotProvider, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		snapshots:        snapshots,
		subscriptions:    make(map[interfaces.EventType]interfaces.SubscriptionID),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && config.ProgressThrottle > 0 {
		h.progressThrottler = rate.NewLimiter(rate.Every(time.Duration(config.ProgressThrottle)), 1)
		logger.Debug().
			Str("interval", config.ProgressThrottle.String()).
			Msg("Throttler initialized for run_progress events")
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	if eventService != nil {
		h.subscribe()
	}

	return h
}

// ServerInstanceID returns the id generated for this process
func (h *WebSocketHandler) ServerInstanceID() string {
	return h.serverInstanceID
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.sendHello(conn, mutex)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Clients only send keepalives; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

func (h *WebSocketHandler) sendHello(conn *websocket.Conn, mutex *sync.Mutex) {
	hello := HelloPayload{
		ServerInstanceID: h.serverInstanceID,
		Version:          common.GetVersion(),
		Run:              models.RunSnapshot{State: models.RunStateIdle, Records: []models.ReportRecord{}},
	}
	if h.snapshots != nil {
		hello.Run = h.snapshots.Snapshot()
	}

	data, err := json.Marshal(WSMessage{Type: MessageHello, Payload: hello})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send hello to client")
	}
}

// Broadcast sends one message to every connected client
func (h *WebSocketHandler) Broadcast(messageType string, payload interface{}) {
	data, err := json.Marshal(WSMessage{Type: messageType, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", messageType).Msg("Failed to send message to client")
		}
	}
}

// subscribe forwards the run events to the ribbon
func (h *WebSocketHandler) subscribe() {
	forward := func(ctx context.Context, event interfaces.Event) error {
		h.Broadcast(string(event.Type), event.Payload)
		return nil
	}

	handlers := map[interfaces.EventType]interfaces.EventHandler{
		interfaces.EventRunState:      forward,
		interfaces.EventRunProgress:   h.handleProgress,
		interfaces.EventRecordUpdated: forward,
		interfaces.EventRecordRemoved: forward,
		interfaces.EventRunLog:        forward,
	}

	for eventType, handler := range handlers {
		id, err := h.eventService.Subscribe(eventType, handler)
		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe websocket handler")
			continue
		}
		h.subscriptions[eventType] = id
	}
}

// handleProgress throttles intermediate progress; the final update always goes out
func (h *WebSocketHandler) handleProgress(ctx context.Context, event interfaces.Event) error {
	progress, ok := event.Payload.(models.Progress)
	if !ok {
		h.logger.Warn().Msg("Invalid run progress event payload type")
		return nil
	}

	final := progress.Total > 0 && progress.Current >= progress.Total
	if h.progressThrottler != nil && !final && !h.progressThrottler.Allow() {
		return nil
	}

	h.Broadcast(MessageRunProgress, progress)
	return nil
}

// Close unsubscribes from the event bus and disconnects every client
func (h *WebSocketHandler) Close() {
	if h.eventService != nil {
		for eventType, id := range h.subscriptions {
			if err := h.eventService.Unsubscribe(eventType, id); err != nil {
				h.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Failed to unsubscribe websocket handler")
			}
		}
		clear(h.subscriptions)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		mutex := h.clientMutex[conn]
		mutex.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		mutex.Unlock()
		conn.Close()
	}
}
