package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types pushed to clients
const (
	EventPairingSelected   = "pairing_selected"
	EventChatBegun         = "chat_begun"
	EventConnectionCreated = "connection_created"
	EventConnectionExpired = "connection_expired"
	EventNewMessage        = "new_message"
	EventMessageUpdated    = "message_updated"
	EventMessageDeleted    = "message_deleted"
	EventMessagesRead      = "messages_read"
	EventReaction          = "reaction"
	EventTyping            = "typing"
	EventError             = "error"
	EventPong              = "pong"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type         string      `json:"type"`
	Timestamp    int64       `json:"timestamp,omitempty"`
	ConnectionID string      `json:"connection_id,omitempty"`
	UserID       string      `json:"user_id,omitempty"`
	MessageID    string      `json:"message_id,omitempty"`
	Message      string      `json:"message,omitempty"`
	Data         interface{} `json:"data,omitempty"`
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages WebSocket connections. Events for users that are not
// connected go to the offline notifier, if any.
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	offline Notifier
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(offline Notifier) *WSHub {
	return &WSHub{
		clients: make(map[string]*wsClient),
		offline: orNop(offline),
	}
}

// Register registers a new WebSocket connection for a user
func (h *WSHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close existing connection if any
	if existing, exists := h.clients[userID]; exists {
		existing.conn.Close()
	}
	h.clients[userID] = &wsClient{conn: conn}

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
}

// Unregister removes conn for a user. A newer connection registered for the
// same user is left alone.
func (h *WSHub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[userID]; exists && client.conn == conn {
		client.conn.Close()
		delete(h.clients, userID)
		log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
	}
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	client, exists := h.clients[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %s is not connected", userID)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := client.write(data); err != nil {
		h.Unregister(userID, client.conn)
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// Notify sends message over the user's socket, falling back to the offline
// notifier when the user is not connected.
func (h *WSHub) Notify(ctx context.Context, userID string, message WSMessage) {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().UnixMilli()
	}
	if h.IsOnline(userID) {
		err := h.SendToUser(userID, message)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("user_id", userID).Str("type", message.Type).Msg("WebSocket delivery failed")
	}
	// Typing indicators are not worth a push notification.
	if message.Type == EventTyping {
		return
	}
	h.offline.Notify(ctx, userID, message)
}

// Close closes every registered connection
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, client := range h.clients {
		client.conn.Close()
		delete(h.clients, userID)
	}
}
