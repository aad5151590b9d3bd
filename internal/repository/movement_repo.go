// internal/repository/movement_repo.go
package repository

import (
	"context"
	"time"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// MovementRepository is the bank-transfer outbox.
type MovementRepository interface {
	CreateMovement(ctx context.Context, q DBExecutor, m *domain.MoneyMovement) error
	GetMovementByID(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.MoneyMovement, error)
	GetMovementForUpdate(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.MoneyMovement, error)
	// ClaimDueMovements locks up to limit pending movements due at now, skipping
	// rows another worker already holds.
	ClaimDueMovements(ctx context.Context, q DBExecutor, now time.Time, limit int) ([]domain.MoneyMovement, error)
	UpdateMovement(ctx context.Context, q DBExecutor, m *domain.MoneyMovement) error
}
