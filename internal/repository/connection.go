package repository

import (
	"context"
	"errors"
	"fmt"

	"click-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const connectionColumns = `id, schema_version, user_a_id, user_b_id, created, expiry,
		continue_a, continue_b, has_begun, latitude, longitude, semantic_location`

// ConnectionRepository handles database operations for connections
type ConnectionRepository struct {
	db *pgxpool.Pool
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create creates a new connection
func (r *ConnectionRepository) Create(ctx context.Context, c *models.Connection) error {
	query := `
		INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		c.ID, c.SchemaVersion, c.UserIDs[0], c.UserIDs[1], c.Created, c.Expiry,
		c.ShouldContinue[0], c.ShouldContinue[1], c.HasBegun,
		c.Location.Lat, c.Location.Lon, c.SemanticLocation,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetByID retrieves a connection by ID
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	var c models.Connection
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.SchemaVersion, &c.UserIDs[0], &c.UserIDs[1], &c.Created, &c.Expiry,
		&c.ShouldContinue[0], &c.ShouldContinue[1], &c.HasBegun,
		&c.Location.Lat, &c.Location.Lon, &c.SemanticLocation,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete deletes a connection by ID
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkBegun sets has_begun. It never clears it.
func (r *ConnectionRepository) MarkBegun(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `UPDATE connections SET has_begun = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark connection begun: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetShouldContinue records one participant's wish to keep the connection
func (r *ConnectionRepository) SetShouldContinue(ctx context.Context, id string, side int, value bool) error {
	var query string
	switch side {
	case 0:
		query = `UPDATE connections SET continue_a = $2 WHERE id = $1`
	case 1:
		query = `UPDATE connections SET continue_b = $2 WHERE id = $1`
	default:
		return fmt.Errorf("invalid participant side %d", side)
	}
	result, err := r.db.Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("failed to update should_continue: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
