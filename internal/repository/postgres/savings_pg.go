// internal/repository/postgres/savings_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"

	"github.com/google/uuid"
)

const goalColumns = `id, user_id, wallet_id, name, goal_type, target_amount, current_balance, locked_until, status, created_at, updated_at`

// SavingsGoalRepository implements repository.SavingsGoalRepository for PostgreSQL.
type SavingsGoalRepository struct{}

func NewSavingsGoalRepository() repository.SavingsGoalRepository {
	return &SavingsGoalRepository{}
}

func (r *SavingsGoalRepository) CreateGoal(ctx context.Context, q repository.DBExecutor, g *domain.SavingsGoal) error {
	query := `INSERT INTO savings_goals (` + goalColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := q.ExecContext(ctx, query,
		g.ID, g.UserID, g.WalletID, g.Name, g.GoalType, g.TargetAmount,
		g.CurrentBalance, g.LockedUntil, g.Status, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return classify("create savings goal", err)
	}
	return nil
}

func (r *SavingsGoalRepository) GetGoalByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.SavingsGoal, error) {
	var g domain.SavingsGoal
	if err := q.GetContext(ctx, &g, `SELECT `+goalColumns+` FROM savings_goals WHERE id = $1`, id); err != nil {
		return nil, classify(fmt.Sprintf("get savings goal %s", id), err)
	}
	return &g, nil
}

func (r *SavingsGoalRepository) GetGoalForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.SavingsGoal, error) {
	var g domain.SavingsGoal
	if err := q.GetContext(ctx, &g, `SELECT `+goalColumns+` FROM savings_goals WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, classify(fmt.Sprintf("lock savings goal %s", id), err)
	}
	return &g, nil
}

func (r *SavingsGoalRepository) ListGoalsByUser(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) ([]domain.SavingsGoal, error) {
	goals := []domain.SavingsGoal{}
	query := `SELECT ` + goalColumns + ` FROM savings_goals WHERE user_id = $1 ORDER BY created_at`
	if err := q.SelectContext(ctx, &goals, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list savings goals for user %s: %w", userID, err)
	}
	return goals, nil
}

func (r *SavingsGoalRepository) UpdateGoalBalance(ctx context.Context, q repository.DBExecutor, id uuid.UUID, balance int64) error {
	query := `UPDATE savings_goals SET current_balance = $1, updated_at = $2 WHERE id = $3`
	res, err := q.ExecContext(ctx, query, balance, time.Now().UTC(), id)
	if err != nil {
		return classify(fmt.Sprintf("update savings goal %s", id), err)
	}
	return expectOneRow(fmt.Sprintf("update savings goal %s", id), res)
}
