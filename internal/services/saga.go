package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"click-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// sagaStep is one write of a multi-row update. compensate undoes apply and
// may be nil for the last step.
type sagaStep struct {
	name       string
	apply      func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// sagaError describes the step that failed and any compensation that failed
// while undoing the steps before it.
type sagaError struct {
	step         string
	index        int
	err          error
	compensation []error
}

func (e *sagaError) Error() string {
	if len(e.compensation) == 0 {
		return fmt.Sprintf("step %s failed: %v", e.step, e.err)
	}
	return fmt.Sprintf("step %s failed: %v (compensation failed: %v)", e.step, e.err, errors.Join(e.compensation...))
}

func (e *sagaError) Unwrap() error { return e.err }

func (e *sagaError) needsReconciliation() bool { return len(e.compensation) > 0 }

// runSaga applies steps in order. When a step fails, the steps already
// applied are compensated in reverse order. Compensation ignores
// cancellation of ctx.
func runSaga(ctx context.Context, steps []sagaStep) error {
	for i, step := range steps {
		err := step.apply(ctx)
		if err == nil {
			continue
		}
		serr := &sagaError{step: step.name, index: i, err: err}
		undoCtx := context.WithoutCancel(ctx)
		for j := i - 1; j >= 0; j-- {
			if steps[j].compensate == nil {
				continue
			}
			if cerr := steps[j].compensate(undoCtx); cerr != nil {
				serr.compensation = append(serr.compensation, fmt.Errorf("%s: %w", steps[j].name, cerr))
			}
		}
		return serr
	}
	return nil
}

// flagReconciliation records a saga that could not be rolled back. Failing
// to record it is logged; the caller still returns the original error.
func flagReconciliation(ctx context.Context, store ReconciliationStore, at time.Time, op, connectionID string, userIDs []string, cause error) {
	rec := &models.Reconciliation{
		ID:           uuid.New().String(),
		Operation:    op,
		UserIDs:      userIDs,
		ConnectionID: connectionID,
		Detail:       cause.Error(),
		CreatedAt:    at,
	}
	logger := log.Error().
		Err(cause).
		Str("operation", op).
		Str("connection_id", connectionID).
		Strs("user_ids", userIDs)
	if store == nil {
		logger.Msg("Reconciliation required but no reconciliation store is configured")
		return
	}
	if err := store.Flag(context.WithoutCancel(ctx), rec); err != nil {
		logger.AnErr("flag_error", err).Msg("Failed to flag reconciliation")
		return
	}
	logger.Str("reconciliation_id", rec.ID).Msg("Flagged for reconciliation")
}
