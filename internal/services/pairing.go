package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"click-backend/internal/config"
	"click-backend/internal/models"
	"click-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// Returned by commit when the other participant was paired concurrently or
// the connection was unlinked from them before the write
var errCandidateLost = errors.New("candidate paired or pruned concurrently")

// Returned by commit when the poller's guarded write lost: either another
// process paired them, or the connection was unlinked from them
var errPollerRepaired = errors.New("poller paired or pruned concurrently")

// PairingService selects each user's daily pairing. A user is either
// awaiting a pairing (last paired at least one interval ago) or paired
// today, in which case polling only drives the chat gate.
type PairingService struct {
	users           UserStore
	lifecycle       *ConnectionLifecycle
	gate            *ChatGate
	reconciliations ReconciliationStore
	notifier        Notifier
	locks           *KeyedMutex
	interval        time.Duration
	now             func() time.Time
	perm            func(n int) []int
}

// NewPairingService creates a new pairing service
func NewPairingService(
	users UserStore,
	lifecycle *ConnectionLifecycle,
	gate *ChatGate,
	reconciliations ReconciliationStore,
	notifier Notifier,
	cfg config.PairingConfig,
) *PairingService {
	return &PairingService{
		users:           users,
		lifecycle:       lifecycle,
		gate:            gate,
		reconciliations: reconciliations,
		notifier:        orNop(notifier),
		locks:           NewKeyedMutex(),
		interval:        cfg.PairingInterval,
		now:             time.Now,
		perm:            rand.Perm,
	}
}

// PollForPairing records the poll and returns today's connection for the
// user, selecting one first when a new daily pairing is due.
func (s *PairingService) PollForPairing(ctx context.Context, userID string) (*models.Connection, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	// PostgreSQL keeps microseconds; compare-and-set needs the stored value.
	now := s.now().UTC().Truncate(time.Microsecond)

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := s.users.TouchLastPolled(ctx, userID, now); err != nil {
		return nil, &PersistenceError{Op: "touch_last_polled", Err: err}
	}
	user.LastPolled = now

	if s.pairedToday(user, now) {
		return s.paired(ctx, user, now)
	}
	return s.selectPairing(ctx, user, now)
}

func (s *PairingService) pairedToday(user *models.User, now time.Time) bool {
	return !user.LastPaired.IsZero() && now.Sub(user.LastPaired) < s.interval
}

// paired is the fast path: no selection, only the chat gate on today's
// connection.
func (s *PairingService) paired(ctx context.Context, user *models.User, now time.Time) (*models.Connection, error) {
	if user.ConnectionToday == "" {
		return nil, fmt.Errorf("user %s has no connection today: %w", user.ID, ErrNoEligibleCandidate)
	}
	conn, err := s.lifecycle.Live(ctx, user.ConnectionToday)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("connection %s: %w", user.ConnectionToday, ErrConnectionExpired)
		}
		return nil, err
	}
	return s.gate.UpdateBegunState(ctx, conn, user.ID, now)
}

type candidate struct {
	conn  *models.Connection
	other *models.User
}

// eligible filters the live connections down to those that may be drawn:
// not already used as a pairing by the user, and whose other participant
// has not been paired within the last interval.
func (s *PairingService) eligible(ctx context.Context, user *models.User, live []*models.Connection, now time.Time) ([]candidate, error) {
	var out []candidate
	for _, conn := range live {
		if user.HasPairedWith(conn.ID) {
			continue
		}
		otherID, ok := conn.OtherUser(user.ID)
		if !ok {
			log.Warn().Str("user_id", user.ID).Str("connection_id", conn.ID).Msg("Connection listed for a non-participant")
			continue
		}
		other, err := s.users.GetByID(ctx, otherID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load other participant: %w", err)
		}
		if s.pairedToday(other, now) {
			continue
		}
		out = append(out, candidate{conn: conn, other: other})
	}
	return out, nil
}

func (s *PairingService) selectPairing(ctx context.Context, user *models.User, now time.Time) (*models.Connection, error) {
	live, err := s.lifecycle.PruneConnections(ctx, user.ID, user.Connections)
	if err != nil {
		return nil, err
	}
	candidates, err := s.eligible(ctx, user, live, now)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("user %s: %w", user.ID, ErrNoEligibleCandidate)
	}

	// The draw is a single pass over a permutation of the filtered set, so it
	// ends after at most len(candidates) attempts.
	for _, i := range s.perm(len(candidates)) {
		c := candidates[i]
		err := s.commit(ctx, user, c.other, c.conn, now)
		switch {
		case err == nil:
			log.Info().
				Str("user_id", user.ID).
				Str("other_user_id", c.other.ID).
				Str("connection_id", c.conn.ID).
				Msg("Pairing selected")
			for _, userID := range c.conn.UserIDs {
				s.notifier.Notify(ctx, userID, WSMessage{
					Type:         EventPairingSelected,
					ConnectionID: c.conn.ID,
					Data:         c.conn,
				})
			}
			return c.conn, nil
		case errors.Is(err, errCandidateLost):
			log.Debug().Str("user_id", user.ID).Str("connection_id", c.conn.ID).Msg("Candidate paired concurrently, drawing again")
		case errors.Is(err, errPollerRepaired):
			reloaded, rerr := s.users.GetByID(ctx, user.ID)
			if rerr != nil {
				return nil, &PersistenceError{Op: "pairing", Err: errors.Join(err, rerr)}
			}
			if s.pairedToday(reloaded, now) {
				return s.paired(ctx, reloaded, now)
			}
			// The other participant was restored, so nothing of this draw is applied.
			log.Debug().Str("user_id", user.ID).Str("connection_id", c.conn.ID).Msg("Connection unlinked during commit, drawing again")
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("user %s: %w", user.ID, ErrNoEligibleCandidate)
}

// commit writes the pairing to both users as a saga: the other participant
// first, then the poller. Each write is guarded by compare-and-set on
// last_paired and by the connection still being in that user's list. If the
// poller write fails the other participant is restored; if that fails too
// the pairing is flagged for reconciliation.
func (s *PairingService) commit(ctx context.Context, user, other *models.User, conn *models.Connection, now time.Time) error {
	otherBefore := other.Pairing()
	otherAfter := otherBefore.Paired(conn.ID, now)
	userAfter := user.Pairing().Paired(conn.ID, now)

	err := runSaga(ctx, []sagaStep{
		{
			name: "pair_other",
			apply: func(ctx context.Context) error {
				return s.users.SetPairing(ctx, other.ID, otherBefore.LastPaired, otherAfter)
			},
			compensate: func(ctx context.Context) error {
				return s.users.SetPairing(ctx, other.ID, otherAfter.LastPaired, otherBefore)
			},
		},
		{
			name: "pair_user",
			apply: func(ctx context.Context) error {
				return s.users.SetPairing(ctx, user.ID, user.LastPaired, userAfter)
			},
		},
	})
	if err == nil {
		return nil
	}

	var serr *sagaError
	if !errors.As(err, &serr) {
		return &PersistenceError{Op: "pairing", Err: err}
	}
	if serr.needsReconciliation() {
		flagReconciliation(ctx, s.reconciliations, now, "pairing", conn.ID, []string{user.ID, other.ID}, serr)
		return &PersistenceError{Op: "pairing", Err: serr, NeedsReconciliation: true}
	}
	if errors.Is(serr.err, repository.ErrConflict) {
		if serr.index == 0 {
			return errCandidateLost
		}
		return errPollerRepaired
	}
	return &PersistenceError{Op: "pairing", Err: serr}
}
