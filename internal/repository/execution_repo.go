// internal/repository/execution_repo.go
package repository

import (
	"context"
	"time"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// ExecutionRepository stores payout executions and their applied legs.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, q DBExecutor, e *domain.PayoutExecution) error
	GetExecutionByID(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.PayoutExecution, error)
	// FindResumableExecution returns the latest execution for cycleID that was
	// interrupted after claiming the cycle, or util.ErrNotFound.
	FindResumableExecution(ctx context.Context, q DBExecutor, cycleID uuid.UUID) (*domain.PayoutExecution, error)
	// HasDisbursedForCycle reports whether another execution already moved money for cycleID.
	HasDisbursedForCycle(ctx context.Context, q DBExecutor, cycleID, excludeID uuid.UUID) (bool, error)
	// UpdateExecution writes every mutable column of e.
	UpdateExecution(ctx context.Context, q DBExecutor, e *domain.PayoutExecution) error
	// UpdateExecutionFrom is UpdateExecution guarded by the stored status. Returns
	// util.ErrConcurrencyConflict when the row has moved on from `from`.
	UpdateExecutionFrom(ctx context.Context, q DBExecutor, e *domain.PayoutExecution, from domain.ExecutionStatus) error
	// ClaimExecution moves id from status `from` to executing. Returns
	// util.ErrConcurrencyConflict when the row is no longer in `from`, and
	// util.ErrDuplicateEntry when another execution holds the cycle.
	ClaimExecution(ctx context.Context, q DBExecutor, id uuid.UUID, from domain.ExecutionStatus, startedAt time.Time) error
	GetRecipientHistory(ctx context.Context, q DBExecutor, userID uuid.UUID) (domain.PayoutHistory, error)
	// ListRetryableExecutions returns interrupted executions due for another attempt.
	ListRetryableExecutions(ctx context.Context, q DBExecutor, now time.Time, maxRetries, limit int) ([]domain.PayoutExecution, error)
	// ListStaleExecutions returns executions stuck in executing since before startedBefore.
	ListStaleExecutions(ctx context.Context, q DBExecutor, startedBefore time.Time, limit int) ([]domain.PayoutExecution, error)
	ListLegs(ctx context.Context, q DBExecutor, executionID uuid.UUID) ([]domain.PayoutLeg, error)
	// CreateLeg records an applied leg. Returns util.ErrDuplicateEntry if it was already applied.
	CreateLeg(ctx context.Context, q DBExecutor, leg *domain.PayoutLeg) error
}
