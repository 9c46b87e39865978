package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"click-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// ConnectionService links users and serves connection reads. Every read
// goes through the lifecycle evaluator first.
type ConnectionService struct {
	users           UserStore
	connections     ConnectionStore
	lifecycle       *ConnectionLifecycle
	reconciliations ReconciliationStore
	notifier        Notifier
	ttl             time.Duration
	now             func() time.Time
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	users UserStore,
	connections ConnectionStore,
	lifecycle *ConnectionLifecycle,
	reconciliations ReconciliationStore,
	notifier Notifier,
	ttl time.Duration,
) *ConnectionService {
	return &ConnectionService{
		users:           users,
		connections:     connections,
		lifecycle:       lifecycle,
		reconciliations: reconciliations,
		notifier:        orNop(notifier),
		ttl:             ttl,
		now:             time.Now,
	}
}

// CreateConnectionRequest represents a request to link the caller with another user
type CreateConnectionRequest struct {
	UserID           string          `json:"user_id"`
	Location         models.Location `json:"location"`
	SemanticLocation string          `json:"semantic_location"`
}

// Create links creatorID and otherID. The connection row is written first,
// then each user's connection list; a failed link undoes the earlier writes.
func (s *ConnectionService) Create(ctx context.Context, creatorID string, req CreateConnectionRequest) (*models.Connection, error) {
	if req.UserID == "" {
		return nil, invalidInput("user_id is required")
	}
	if req.UserID == creatorID {
		return nil, invalidInput("cannot connect with yourself")
	}
	if !validLocation(req.Location) {
		return nil, invalidInput("location out of range")
	}
	for _, id := range []string{creatorID, req.UserID} {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to load user %s: %w", id, err)
		}
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	conn := models.NewConnection(creatorID, req.UserID, req.Location, req.SemanticLocation, now, s.ttl)

	err := runSaga(ctx, []sagaStep{
		{
			name:       "create_connection",
			apply:      func(ctx context.Context) error { return s.connections.Create(ctx, conn) },
			compensate: func(ctx context.Context) error { return s.connections.Delete(ctx, conn.ID) },
		},
		{
			name:       "link_creator",
			apply:      func(ctx context.Context) error { return s.users.AddConnection(ctx, creatorID, conn.ID) },
			compensate: func(ctx context.Context) error { return s.users.RemoveConnection(ctx, creatorID, conn.ID) },
		},
		{
			name:  "link_other",
			apply: func(ctx context.Context) error { return s.users.AddConnection(ctx, req.UserID, conn.ID) },
		},
	})
	if err != nil {
		var serr *sagaError
		if errors.As(err, &serr) && serr.needsReconciliation() {
			flagReconciliation(ctx, s.reconciliations, now, "create_connection", conn.ID, []string{creatorID, req.UserID}, serr)
			return nil, &PersistenceError{Op: "create_connection", Err: serr, NeedsReconciliation: true}
		}
		return nil, &PersistenceError{Op: "create_connection", Err: err}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", creatorID).
		Str("other_user_id", req.UserID).
		Msg("Connection created")

	s.notifier.Notify(ctx, req.UserID, WSMessage{
		Type:         EventConnectionCreated,
		ConnectionID: conn.ID,
		UserID:       creatorID,
		Data:         conn,
	})
	return conn, nil
}

// Get returns a live connection the caller takes part in
func (s *ConnectionService) Get(ctx context.Context, userID, connectionID string) (*models.Connection, error) {
	return s.lifecycle.ForParticipant(ctx, connectionID, userID)
}

// List returns the caller's live connections, pruning expired ones
func (s *ConnectionService) List(ctx context.Context, userID string) ([]*models.Connection, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return s.lifecycle.PruneConnections(ctx, userID, user.Connections)
}

// SetShouldContinue records whether the caller wants to keep the connection
// past its expiry. It only survives expiry when both sides opt in.
func (s *ConnectionService) SetShouldContinue(ctx context.Context, userID, connectionID string, value bool) (*models.Connection, error) {
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	side := conn.Side(userID)
	if err := s.connections.SetShouldContinue(ctx, conn.ID, side, value); err != nil {
		return nil, fmt.Errorf("failed to update should_continue: %w", err)
	}
	conn.ShouldContinue[side] = value

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Bool("should_continue", value).
		Msg("Continue flag updated")
	return conn, nil
}

func validLocation(l models.Location) bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}
