// internal/repository/circle_repo.go
package repository

import (
	"context"
	"time"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// CircleRepository reads circle state owned by the circle subsystem. The only
// write is stamping a cycle as paid out.
type CircleRepository interface {
	GetCircle(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.Circle, error)
	GetCycle(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.Cycle, error)
	GetMembership(ctx context.Context, q DBExecutor, circleID, userID uuid.UUID) (*domain.Membership, error)
	// GetMemberAtPosition returns the member scheduled to be paid at position.
	GetMemberAtPosition(ctx context.Context, q DBExecutor, circleID uuid.UUID, position int) (*domain.Membership, error)
	GetContributionStats(ctx context.Context, q DBExecutor, cycleID uuid.UUID) (domain.ContributionStats, error)
	// ListUpcomingContributions returns unpaid contributions userID owes with due dates in [from, to].
	ListUpcomingContributions(ctx context.Context, q DBExecutor, userID uuid.UUID, from, to time.Time) ([]domain.UpcomingContribution, error)
	// MarkCyclePayoutCompleted moves a ready_payout cycle to payout_completed.
	// Returns util.ErrInvalidState when the cycle is in any other status.
	MarkCyclePayoutCompleted(ctx context.Context, q DBExecutor, cycleID, executionID uuid.UUID) error
}
