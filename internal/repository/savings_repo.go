// internal/repository/savings_repo.go
package repository

import (
	"context"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// SavingsGoalRepository stores savings goals.
type SavingsGoalRepository interface {
	CreateGoal(ctx context.Context, q DBExecutor, goal *domain.SavingsGoal) error
	GetGoalByID(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.SavingsGoal, error)
	GetGoalForUpdate(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.SavingsGoal, error)
	ListGoalsByUser(ctx context.Context, q DBExecutor, userID uuid.UUID) ([]domain.SavingsGoal, error)
	UpdateGoalBalance(ctx context.Context, q DBExecutor, id uuid.UUID, balance int64) error
}
