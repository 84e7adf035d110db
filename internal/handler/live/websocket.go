package live

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	sessionsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/session"
	"github.com/zhouzirui/mesh-coach/backend/pkg/utils"
)

// Handler streams committed session states and coaching suggestions to the
// UI.
type Handler struct {
	manager  *sessionsvc.Manager
	broker   *Broker
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates the live projection handler.
func New(manager *sessionsvc.Manager, broker *Broker, log zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		broker:  broker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log.With().Str("component", "live").Logger(),
	}
}

// RegisterRoutes mounts the projection endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
	r.Get("/sessions/{sessionID}/events", h.handleSSE)
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.manager.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	states, cancelStates, err := h.manager.Subscribe(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	defer cancelStates()

	suggestions, cancelSuggestions := h.broker.Subscribe(sessionID)
	defer cancelSuggestions()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The read loop exists only to observe the close handshake: this stream
	// is a read-only projection and inbound frames are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msgType string, data interface{}) bool {
		msg := outgoingMessage{
			Type:      msgType,
			SessionID: sessionID,
			Data:      data,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Debug().Err(err).Str("session", sessionID).Msg("websocket write failed")
			return false
		}
		return true
	}

	if !write("state", state) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case next, ok := <-states:
			if !ok {
				return
			}
			if !write("state", next) {
				return
			}
		case suggestion, ok := <-suggestions:
			if !ok {
				return
			}
			if !write("suggestion", suggestion) {
				return
			}
		}
	}
}
