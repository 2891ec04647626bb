// -----------------------------------------------------------------------
// WebSocket Handler - Streams job lifecycle and progress events
// -----------------------------------------------------------------------

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
	"golang.org/x/time/rate"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the wire format for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// JobStatusUpdate is pushed on job lifecycle transitions
type JobStatusUpdate struct {
	JobID     string    `json:"job_id"`
	JobType   string    `json:"job_type"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	eventService     interfaces.EventService
	allowedEvents    map[string]bool // Whitelist of events to broadcast (empty = allow all)
	serverInstanceID string          // Unique ID generated on startup - clients use to detect server restart

	// video_progress throttling, keyed per job so one busy job cannot
	// starve another's updates
	progressInterval time.Duration
	limiterMu        sync.Mutex
	progressLimiters map[string]*rate.Limiter
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	// Empty whitelist means allow all events
	h.allowedEvents = make(map[string]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	// Per-frame progress events can be very chatty; throttle only if configured
	h.progressLimiters = make(map[string]*rate.Limiter)
	if config != nil {
		if intervalStr, ok := config.ThrottleIntervals[string(interfaces.EventVideoProgress)]; ok {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				h.progressInterval = duration
				logger.Debug().
					Str("interval", intervalStr).
					Msg("Throttler initialized for video_progress events")
			} else {
				logger.Warn().
					Err(err).
					Str("interval", intervalStr).
					Msg("Failed to parse video_progress throttle interval - throttler disabled")
			}
		}
	}

	if eventService != nil {
		h.SubscribeToJobEvents()
	}

	return h
}

// HandleWebSocket upgrades the connection and keeps it open
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHello sends the server instance ID so clients can detect restarts
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"version":            common.GetVersion(),
			"timestamp":          time.Now(),
		},
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send hello to client")
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// eventAllowed applies the configured whitelist
func (h *WebSocketHandler) eventAllowed(eventType string) bool {
	if len(h.allowedEvents) == 0 {
		return true
	}
	return h.allowedEvents[eventType]
}

// broadcast sends a message to all connected clients.
// Each connection has its own write mutex - gorilla connections do not
// support concurrent writers.
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// SubscribeToJobEvents wires the handler to the event bus
func (h *WebSocketHandler) SubscribeToJobEvents() {
	statusEvents := []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobStarted,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventJobCancelled,
	}

	for _, eventType := range statusEvents {
		et := eventType
		err := h.eventService.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.handleJobStatusEvent(et, event)
			return nil
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(et)).Msg("Failed to subscribe")
		}
	}

	if err := h.eventService.Subscribe(interfaces.EventVideoProgress, func(ctx context.Context, event interfaces.Event) error {
		h.handleProgressEvent(event)
		return nil
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe to progress events")
	}

	if err := h.eventService.Subscribe(interfaces.EventScanCompleted, func(ctx context.Context, event interfaces.Event) error {
		if h.eventAllowed(string(interfaces.EventScanCompleted)) {
			h.broadcast(WSMessage{Type: string(interfaces.EventScanCompleted), Payload: event.Payload})
		}
		return nil
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe to scan events")
	}
}

// handleJobStatusEvent converts a lifecycle event into a status update message
func (h *WebSocketHandler) handleJobStatusEvent(eventType interfaces.EventType, event interfaces.Event) {
	if !h.eventAllowed(string(eventType)) {
		return
	}

	state, ok := event.Payload.(*models.VideoJobState)
	if !ok {
		h.broadcast(WSMessage{Type: string(eventType), Payload: event.Payload})
		return
	}

	if state.Status.IsTerminal() {
		h.releaseProgressLimiter(state.ID)
	}

	h.broadcast(WSMessage{
		Type: string(eventType),
		Payload: JobStatusUpdate{
			JobID:     state.ID,
			JobType:   state.Type,
			Name:      state.Name,
			Status:    string(state.Status),
			Error:     state.Error,
			Timestamp: time.Now(),
		},
	})
}

// handleProgressEvent broadcasts progress, throttled if configured
func (h *WebSocketHandler) handleProgressEvent(event interfaces.Event) {
	if !h.eventAllowed(string(interfaces.EventVideoProgress)) {
		return
	}

	if h.progressInterval > 0 && !h.progressLimiter(progressJobID(event.Payload)).Allow() {
		return
	}

	h.broadcast(WSMessage{
		Type:    string(interfaces.EventVideoProgress),
		Payload: event.Payload,
	})
}

// progressLimiter returns the throttle for one job, creating it on first use
func (h *WebSocketHandler) progressLimiter(jobID string) *rate.Limiter {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()

	limiter, ok := h.progressLimiters[jobID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.progressInterval), 1)
		h.progressLimiters[jobID] = limiter
	}
	return limiter
}

// releaseProgressLimiter drops a finished job's throttle state
func (h *WebSocketHandler) releaseProgressLimiter(jobID string) {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()
	delete(h.progressLimiters, jobID)
}

func progressJobID(payload interface{}) string {
	if m, ok := payload.(map[string]interface{}); ok {
		if id, ok := m["job_id"].(string); ok {
			return id
		}
	}
	return ""
}
