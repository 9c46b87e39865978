package services

import (
	"context"
	"fmt"
	"time"

	"click-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// ChatGate opens a connection for messaging once both participants are
// present within the presence window of each other.
type ChatGate struct {
	users       UserStore
	connections ConnectionStore
	notifier    Notifier
	window      time.Duration
}

// NewChatGate creates a new chat gate
func NewChatGate(users UserStore, connections ConnectionStore, notifier Notifier, window time.Duration) *ChatGate {
	return &ChatGate{
		users:       users,
		connections: connections,
		notifier:    orNop(notifier),
		window:      window,
	}
}

// UpdateBegunState sets has_begun when the participant other than pollerID
// polled within the presence window of now. has_begun is never cleared.
func (g *ChatGate) UpdateBegunState(ctx context.Context, conn *models.Connection, pollerID string, now time.Time) (*models.Connection, error) {
	if conn.HasBegun {
		return conn, nil
	}
	otherID, ok := conn.OtherUser(pollerID)
	if !ok {
		return nil, fmt.Errorf("user %s is not part of connection %s: %w", pollerID, conn.ID, ErrInvalidState)
	}
	other, err := g.users.GetByID(ctx, otherID)
	if err != nil {
		return nil, fmt.Errorf("failed to load other participant: %w", err)
	}
	if !g.present(other.LastPolled, now) {
		return conn, nil
	}

	if err := g.connections.MarkBegun(ctx, conn.ID); err != nil {
		return nil, &PersistenceError{Op: "mark_begun", Err: err}
	}
	begun := *conn
	begun.HasBegun = true

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", pollerID).
		Str("other_user_id", otherID).
		Msg("Chat begun")

	for _, userID := range begun.UserIDs {
		g.notifier.Notify(ctx, userID, WSMessage{
			Type:         EventChatBegun,
			ConnectionID: begun.ID,
		})
	}
	return &begun, nil
}

// CanSend returns ErrChatNotStarted until the gate has opened
func (g *ChatGate) CanSend(conn *models.Connection) error {
	if !conn.HasBegun {
		return fmt.Errorf("connection %s: %w", conn.ID, ErrChatNotStarted)
	}
	return nil
}

func (g *ChatGate) present(lastPolled, now time.Time) bool {
	if lastPolled.IsZero() {
		return false
	}
	d := now.Sub(lastPolled)
	if d < 0 {
		d = -d
	}
	return d <= g.window
}
