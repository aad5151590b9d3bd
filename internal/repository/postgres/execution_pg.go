// internal/repository/postgres/execution_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const executionColumns = `id, cycle_id, circle_id, recipient_user_id, gross_amount, platform_fee, net_amount, status,
       verification_checks, all_passed, failure_reason, distribution, retry_count, next_retry_at,
       error_message, started_at, completed_at, created_at, updated_at`

// disbursedStatuses are the states in which a cycle's pool has (at least partly) left the circle.
var disbursedStatuses = []string{string(domain.ExecutionCompleted), string(domain.ExecutionPartial)}

// ExecutionRepository implements repository.ExecutionRepository for PostgreSQL.
type ExecutionRepository struct{}

func NewExecutionRepository() repository.ExecutionRepository {
	return &ExecutionRepository{}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, q repository.DBExecutor, e *domain.PayoutExecution) error {
	query := `INSERT INTO payout_executions (` + executionColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.CycleID, e.CircleID, e.RecipientUserID, e.GrossAmount, e.PlatformFee, e.NetAmount, e.Status,
		e.VerificationChecks, e.AllPassed, e.FailureReason, e.Distribution, e.RetryCount, e.NextRetryAt,
		e.ErrorMessage, e.StartedAt, e.CompletedAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return classify("create payout execution", err)
	}
	return nil
}

func (r *ExecutionRepository) GetExecutionByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.PayoutExecution, error) {
	var e domain.PayoutExecution
	if err := q.GetContext(ctx, &e, `SELECT `+executionColumns+` FROM payout_executions WHERE id = $1`, id); err != nil {
		return nil, classify(fmt.Sprintf("get payout execution %s", id), err)
	}
	return &e, nil
}

func (r *ExecutionRepository) FindResumableExecution(ctx context.Context, q repository.DBExecutor, cycleID uuid.UUID) (*domain.PayoutExecution, error) {
	var e domain.PayoutExecution
	query := `SELECT ` + executionColumns + ` FROM payout_executions
              WHERE cycle_id = $1
                AND (status = 'partial' OR (status = 'failed' AND started_at IS NOT NULL))
              ORDER BY created_at DESC
              LIMIT 1`
	if err := q.GetContext(ctx, &e, query, cycleID); err != nil {
		return nil, classify("find resumable execution", err)
	}
	return &e, nil
}

func (r *ExecutionRepository) HasDisbursedForCycle(ctx context.Context, q repository.DBExecutor, cycleID, excludeID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
                SELECT 1 FROM payout_executions
                WHERE cycle_id = $1 AND id <> $2 AND status = ANY($3))`
	if err := q.GetContext(ctx, &exists, query, cycleID, excludeID, pq.Array(disbursedStatuses)); err != nil {
		return false, fmt.Errorf("failed to check prior payouts for cycle %s: %w", cycleID, err)
	}
	return exists, nil
}

const updateExecutionQuery = `UPDATE payout_executions SET
                status = $1, verification_checks = $2, all_passed = $3, failure_reason = $4,
                distribution = $5, retry_count = $6, next_retry_at = $7, error_message = $8,
                started_at = $9, completed_at = $10, updated_at = $11
              WHERE id = $12`

func executionArgs(e *domain.PayoutExecution) []interface{} {
	return []interface{}{
		e.Status, e.VerificationChecks, e.AllPassed, e.FailureReason,
		e.Distribution, e.RetryCount, e.NextRetryAt, e.ErrorMessage,
		e.StartedAt, e.CompletedAt, e.UpdatedAt, e.ID,
	}
}

func (r *ExecutionRepository) UpdateExecution(ctx context.Context, q repository.DBExecutor, e *domain.PayoutExecution) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, updateExecutionQuery, executionArgs(e)...)
	if err != nil {
		return classify(fmt.Sprintf("update payout execution %s", e.ID), err)
	}
	return expectOneRow(fmt.Sprintf("update payout execution %s", e.ID), res)
}

// UpdateExecutionFrom writes e only while the stored status is still from.
func (r *ExecutionRepository) UpdateExecutionFrom(ctx context.Context, q repository.DBExecutor, e *domain.PayoutExecution, from domain.ExecutionStatus) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, updateExecutionQuery+" AND status = $13", append(executionArgs(e), from)...)
	if err != nil {
		return classify(fmt.Sprintf("update payout execution %s", e.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payout execution %s: failed to get rows affected: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update payout execution %s: no longer %s: %w", e.ID, from, util.ErrConcurrencyConflict)
	}
	return nil
}

// ClaimExecution is a compare-and-set on status. The partial unique index on
// cycle_id rejects the update when another execution already holds the cycle.
func (r *ExecutionRepository) ClaimExecution(ctx context.Context, q repository.DBExecutor, id uuid.UUID, from domain.ExecutionStatus, startedAt time.Time) error {
	query := `UPDATE payout_executions
              SET status = 'executing', started_at = COALESCE(started_at, $1), updated_at = $1
              WHERE id = $2 AND status = $3`
	res, err := q.ExecContext(ctx, query, startedAt, id, from)
	if err != nil {
		return classify(fmt.Sprintf("claim payout execution %s", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim payout execution %s: failed to get rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("claim payout execution %s: %w", id, util.ErrConcurrencyConflict)
	}
	return nil
}

func (r *ExecutionRepository) GetRecipientHistory(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (domain.PayoutHistory, error) {
	var h domain.PayoutHistory
	query := `SELECT COUNT(*) AS completed_count, COALESCE(SUM(net_amount), 0) AS total_net
              FROM payout_executions
              WHERE recipient_user_id = $1 AND status = 'completed'`
	if err := q.GetContext(ctx, &h, query, userID); err != nil {
		return h, fmt.Errorf("failed to load payout history for user %s: %w", userID, err)
	}
	return h, nil
}

func (r *ExecutionRepository) ListRetryableExecutions(ctx context.Context, q repository.DBExecutor, now time.Time, maxRetries, limit int) ([]domain.PayoutExecution, error) {
	out := []domain.PayoutExecution{}
	query := `SELECT ` + executionColumns + ` FROM payout_executions
              WHERE (status = 'partial' OR (status = 'failed' AND started_at IS NOT NULL))
                AND retry_count < $1
                AND (next_retry_at IS NULL OR next_retry_at <= $2)
              ORDER BY next_retry_at NULLS FIRST
              LIMIT $3`
	if err := q.SelectContext(ctx, &out, query, maxRetries, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list retryable executions: %w", err)
	}
	return out, nil
}

func (r *ExecutionRepository) ListStaleExecutions(ctx context.Context, q repository.DBExecutor, startedBefore time.Time, limit int) ([]domain.PayoutExecution, error) {
	out := []domain.PayoutExecution{}
	query := `SELECT ` + executionColumns + ` FROM payout_executions
              WHERE status = 'executing' AND started_at < $1
              ORDER BY started_at
              LIMIT $2`
	if err := q.SelectContext(ctx, &out, query, startedBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale executions: %w", err)
	}
	return out, nil
}

func (r *ExecutionRepository) ListLegs(ctx context.Context, q repository.DBExecutor, executionID uuid.UUID) ([]domain.PayoutLeg, error) {
	legs := []domain.PayoutLeg{}
	query := `SELECT execution_id, leg_kind, amount, transaction_id, movement_id, applied_at
              FROM payout_legs WHERE execution_id = $1 ORDER BY applied_at`
	if err := q.SelectContext(ctx, &legs, query, executionID); err != nil {
		return nil, fmt.Errorf("failed to list legs for execution %s: %w", executionID, err)
	}
	return legs, nil
}

func (r *ExecutionRepository) CreateLeg(ctx context.Context, q repository.DBExecutor, leg *domain.PayoutLeg) error {
	query := `INSERT INTO payout_legs (execution_id, leg_kind, amount, transaction_id, movement_id, applied_at)
              VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := q.ExecContext(ctx, query, leg.ExecutionID, leg.LegKind, leg.Amount, leg.TransactionID, leg.MovementID, leg.AppliedAt)
	if err != nil {
		return classify(fmt.Sprintf("record leg %s", leg.LegKind), err)
	}
	return nil
}
