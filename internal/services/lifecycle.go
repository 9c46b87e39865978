package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"click-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// ConnectionLifecycle decides expiry of connections and cascades removal.
// Expiry is evaluated on read; there is no background sweep.
type ConnectionLifecycle struct {
	users       UserStore
	connections ConnectionStore
	messages    MessageStore
	notifier    Notifier
	now         func() time.Time
}

// NewConnectionLifecycle creates a new lifecycle evaluator
func NewConnectionLifecycle(users UserStore, connections ConnectionStore, messages MessageStore, notifier Notifier) *ConnectionLifecycle {
	return &ConnectionLifecycle{
		users:       users,
		connections: connections,
		messages:    messages,
		notifier:    orNop(notifier),
		now:         time.Now,
	}
}

// EvaluateAndPrune reports whether the connection is expired and, if so,
// removes it from both participants, deletes its thread and deletes the
// row. A missing connection fails with ErrNotFound.
//
// true with a non-nil error means cleanup is incomplete. Every step is
// idempotent and the next read retries it.
func (l *ConnectionLifecycle) EvaluateAndPrune(ctx context.Context, id string) (bool, error) {
	_, expired, err := l.evaluate(ctx, id)
	return expired, err
}

// Live returns the connection unless it is expired, in which case it is
// pruned and ErrConnectionExpired is returned.
func (l *ConnectionLifecycle) Live(ctx context.Context, id string) (*models.Connection, error) {
	conn, expired, err := l.evaluate(ctx, id)
	if expired {
		if err != nil {
			log.Warn().Err(err).Str("connection_id", id).Msg("Connection cleanup incomplete")
		}
		return nil, fmt.Errorf("connection %s: %w", id, ErrConnectionExpired)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ForParticipant returns a live connection that userID takes part in
func (l *ConnectionLifecycle) ForParticipant(ctx context.Context, id, userID string) (*models.Connection, error) {
	conn, err := l.Live(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conn.HasParticipant(userID) {
		return nil, fmt.Errorf("user %s is not part of connection %s: %w", userID, id, ErrForbidden)
	}
	return conn, nil
}

// PruneConnections evaluates every id in owner's connection list and returns
// the live connections in list order. Ids without a stored connection are
// unlinked from owner.
func (l *ConnectionLifecycle) PruneConnections(ctx context.Context, ownerID string, ids []string) ([]*models.Connection, error) {
	live := make([]*models.Connection, 0, len(ids))
	for _, id := range ids {
		conn, expired, err := l.evaluate(ctx, id)
		switch {
		case expired:
			if err != nil {
				log.Warn().Err(err).Str("connection_id", id).Msg("Connection cleanup incomplete")
			}
		case errors.Is(err, ErrNotFound):
			if err := l.users.RemoveConnection(ctx, ownerID, id); err != nil && !errors.Is(err, ErrNotFound) {
				log.Warn().Err(err).Str("user_id", ownerID).Str("connection_id", id).Msg("Failed to unlink dangling connection")
			}
		case err != nil:
			return nil, err
		default:
			live = append(live, conn)
		}
	}
	return live, nil
}

func (l *ConnectionLifecycle) evaluate(ctx context.Context, id string) (*models.Connection, bool, error) {
	conn, err := l.connections.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	if !conn.Expired(l.now()) {
		return conn, false, nil
	}
	return conn, true, l.prune(ctx, conn)
}

func (l *ConnectionLifecycle) prune(ctx context.Context, conn *models.Connection) error {
	for _, userID := range conn.UserIDs {
		if err := l.users.RemoveConnection(ctx, userID, conn.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to unlink connection from user %s: %w", userID, err)
		}
	}
	deleted, err := l.messages.DeleteByConnection(ctx, conn.ID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	if err := l.connections.Delete(ctx, conn.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Strs("user_ids", conn.UserIDs[:]).
		Int64("messages_deleted", deleted).
		Msg("Pruned expired connection")

	for _, userID := range conn.UserIDs {
		l.notifier.Notify(ctx, userID, WSMessage{
			Type:         EventConnectionExpired,
			ConnectionID: conn.ID,
		})
	}
	return nil
}
