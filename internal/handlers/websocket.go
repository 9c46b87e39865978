package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"click-backend/internal/middleware"
	"click-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const maxSocketMessage = 4096

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub         *services.WSHub
	userService *services.UserService
	chatService *services.ChatService
	upgrader    websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. checkOrigin may be nil
// to accept every origin.
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	chatService *services.ChatService,
	checkOrigin func(r *http.Request) bool,
) *WebSocketHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocketHandler{
		hub:         hub,
		userService: userService,
		chatService: chatService,
		upgrader:    websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// HandleWebSocket handles GET /ws?token=...
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	conn.SetReadLimit(maxSocketMessage)

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID, conn)

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			return
		}

		var msg services.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(userID, "Invalid message format")
			continue
		}
		if err := h.handleMessage(ctx, userID, msg); err != nil {
			log.Debug().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(userID, err.Error())
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, userID string, msg services.WSMessage) error {
	switch msg.Type {
	case "ping":
		return h.hub.SendToUser(userID, services.WSMessage{Type: services.EventPong})
	case services.EventTyping:
		return h.chatService.SetTyping(ctx, userID, msg.ConnectionID)
	default:
		h.sendError(userID, "Unknown message type")
		return nil
	}
}

func (h *WebSocketHandler) sendError(userID, message string) {
	err := h.hub.SendToUser(userID, services.WSMessage{
		Type:    services.EventError,
		Message: message,
	})
	if err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("Failed to send error message")
	}
}
