package services

import (
	"context"
	"time"

	"click-backend/internal/models"
)

// UserStore is the user half of the entity store. Updates are row-level so
// that concurrent pruning and pairing never overwrite each other.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	AddConnection(ctx context.Context, userID, connectionID string) error
	RemoveConnection(ctx context.Context, userID, connectionID string) error
	TouchLastPolled(ctx context.Context, userID string, at time.Time) error
	// SetPairing is a compare-and-set on last_paired; it returns
	// repository.ErrConflict when the stored value differs from expected.
	SetPairing(ctx context.Context, userID string, expected time.Time, state models.PairingState) error
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
}

// ConnectionStore persists connections
type ConnectionStore interface {
	Create(ctx context.Context, c *models.Connection) error
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	Delete(ctx context.Context, id string) error
	MarkBegun(ctx context.Context, id string) error
	SetShouldContinue(ctx context.Context, id string, side int, value bool) error
}

// MessageStore persists chat threads keyed by connection id
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByConnection(ctx context.Context, connectionID string) ([]*models.Message, error)
	Search(ctx context.Context, connectionID, query string) ([]*models.Message, error)
	MarkRead(ctx context.Context, connectionID, readerID string) (int64, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateContent(ctx context.Context, id, content string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByConnection(ctx context.Context, connectionID string) (int64, error)
	AddReaction(ctx context.Context, reaction models.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID, reactionType string) error
}

// ReconciliationStore keeps records of half-applied writes
type ReconciliationStore interface {
	Flag(ctx context.Context, rec *models.Reconciliation) error
	ListUnresolved(ctx context.Context) ([]*models.Reconciliation, error)
	Resolve(ctx context.Context, id string, at time.Time) error
}

// Notifier delivers realtime events to a user. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg WSMessage)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, WSMessage) {}

func orNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
