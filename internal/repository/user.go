package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"click-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, schema_version, name, email, image, push_token, connections, paired_with,
		connection_today, last_paired, last_polled, created_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.SchemaVersion, user.Name, user.Email, user.Image, user.PushToken,
		user.Connections, user.PairedWith, user.ConnectionToday,
		user.LastPaired, user.LastPolled, user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.SchemaVersion, &user.Name, &user.Email, &user.Image, &user.PushToken,
		&user.Connections, &user.PairedWith, &user.ConnectionToday,
		&user.LastPaired, &user.LastPolled, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	return &user, nil
}

// AddConnection appends connectionID to the user's connections unless present
func (r *UserRepository) AddConnection(ctx context.Context, userID, connectionID string) error {
	query := `
		UPDATE users
		SET connections = CASE WHEN $2 = ANY(connections) THEN connections
			ELSE array_append(connections, $2) END
		WHERE id = $1
	`
	return r.execOne(ctx, "add connection", query, userID, connectionID)
}

// RemoveConnection drops connectionID from the user's connections and clears
// connection_today when it points at the removed connection.
func (r *UserRepository) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	query := `
		UPDATE users
		SET connections = array_remove(connections, $2),
			connection_today = CASE WHEN connection_today = $2 THEN '' ELSE connection_today END
		WHERE id = $1
	`
	return r.execOne(ctx, "remove connection", query, userID, connectionID)
}

// TouchLastPolled records the time of the user's latest poll
func (r *UserRepository) TouchLastPolled(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET last_polled = $2 WHERE id = $1`
	return r.execOne(ctx, "update last_polled", query, userID, at)
}

// SetPairing replaces the pairing fields if last_paired still equals expected
// and the new connection_today is still one of the user's connections.
func (r *UserRepository) SetPairing(ctx context.Context, userID string, expected time.Time, state models.PairingState) error {
	query := `
		UPDATE users
		SET paired_with = $2, connection_today = $3, last_paired = $4
		WHERE id = $1 AND last_paired = $5 AND ($3 = '' OR $3 = ANY(connections))
	`
	result, err := r.db.Exec(ctx, query, userID, state.PairedWith, state.ConnectionToday, state.LastPaired, expected)
	if err != nil {
		return fmt.Errorf("failed to set pairing: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	query := `UPDATE users SET push_token = $2 WHERE id = $1`
	return r.execOne(ctx, "update push token", query, userID, pushToken)
}

func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
