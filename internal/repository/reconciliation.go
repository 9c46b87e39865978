package repository

import (
	"context"
	"fmt"
	"time"

	"click-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ReconciliationRepository stores records of writes that were left
// half-applied and need an operator.
type ReconciliationRepository struct {
	db *pgxpool.Pool
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(db *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Flag stores a new reconciliation record
func (r *ReconciliationRepository) Flag(ctx context.Context, rec *models.Reconciliation) error {
	query := `
		INSERT INTO reconciliations (id, operation, user_ids, connection_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, rec.ID, rec.Operation, rec.UserIDs, rec.ConnectionID, rec.Detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to flag reconciliation: %w", err)
	}
	return nil
}

// ListUnresolved returns open records, oldest first
func (r *ReconciliationRepository) ListUnresolved(ctx context.Context) ([]*models.Reconciliation, error) {
	query := `
		SELECT id, operation, user_ids, connection_id, detail, created_at, resolved_at
		FROM reconciliations
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	defer rows.Close()

	records := []*models.Reconciliation{}
	for rows.Next() {
		var rec models.Reconciliation
		err := rows.Scan(&rec.ID, &rec.Operation, &rec.UserIDs, &rec.ConnectionID, &rec.Detail, &rec.CreatedAt, &rec.ResolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliations: %w", err)
	}
	return records, nil
}

// Resolve marks a record as handled
func (r *ReconciliationRepository) Resolve(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE reconciliations SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
