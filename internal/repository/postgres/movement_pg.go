// internal/repository/postgres/movement_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"

	"github.com/google/uuid"
)

const movementColumns = `id, execution_id, wallet_id, bank_account_id, amount, status, attempts, next_attempt_at,
       external_ref, last_error, created_at, updated_at`

// MovementRepository implements repository.MovementRepository for PostgreSQL.
type MovementRepository struct{}

func NewMovementRepository() repository.MovementRepository {
	return &MovementRepository{}
}

func (r *MovementRepository) CreateMovement(ctx context.Context, q repository.DBExecutor, m *domain.MoneyMovement) error {
	query := `INSERT INTO money_movements (` + movementColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.ExecContext(ctx, query,
		m.ID, m.ExecutionID, m.WalletID, m.BankAccountID, m.Amount, m.Status, m.Attempts,
		m.NextAttemptAt, m.ExternalRef, m.LastError, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return classify("create money movement", err)
	}
	return nil
}

func (r *MovementRepository) GetMovementByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.MoneyMovement, error) {
	var m domain.MoneyMovement
	if err := q.GetContext(ctx, &m, `SELECT `+movementColumns+` FROM money_movements WHERE id = $1`, id); err != nil {
		return nil, classify(fmt.Sprintf("get money movement %s", id), err)
	}
	return &m, nil
}

func (r *MovementRepository) GetMovementForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.MoneyMovement, error) {
	var m domain.MoneyMovement
	if err := q.GetContext(ctx, &m, `SELECT `+movementColumns+` FROM money_movements WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, classify(fmt.Sprintf("lock money movement %s", id), err)
	}
	return &m, nil
}

// ClaimDueMovements locks due rows with SKIP LOCKED so concurrent reconcilers
// never pick the same movement.
func (r *MovementRepository) ClaimDueMovements(ctx context.Context, q repository.DBExecutor, now time.Time, limit int) ([]domain.MoneyMovement, error) {
	out := []domain.MoneyMovement{}
	query := `SELECT ` + movementColumns + ` FROM money_movements
              WHERE status = 'pending' AND next_attempt_at <= $1
              ORDER BY next_attempt_at
              LIMIT $2
              FOR UPDATE SKIP LOCKED`
	if err := q.SelectContext(ctx, &out, query, now, limit); err != nil {
		return nil, classify("claim due money movements", err)
	}
	return out, nil
}

func (r *MovementRepository) UpdateMovement(ctx context.Context, q repository.DBExecutor, m *domain.MoneyMovement) error {
	m.UpdatedAt = time.Now().UTC()
	query := `UPDATE money_movements SET
                status = $1, attempts = $2, next_attempt_at = $3, external_ref = $4, last_error = $5, updated_at = $6
              WHERE id = $7`
	res, err := q.ExecContext(ctx, query, m.Status, m.Attempts, m.NextAttemptAt, m.ExternalRef, m.LastError, m.UpdatedAt, m.ID)
	if err != nil {
		return classify(fmt.Sprintf("update money movement %s", m.ID), err)
	}
	return expectOneRow(fmt.Sprintf("update money movement %s", m.ID), res)
}
