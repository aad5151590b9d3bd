// internal/repository/postgres/circle_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
)

const cycleColumns = `id, circle_id, cycle_number, status, recipient_user_id, expected_amount, collected_amount, due_date, payout_execution_id`

// CircleRepository implements repository.CircleRepository for PostgreSQL.
type CircleRepository struct{}

func NewCircleRepository() repository.CircleRepository {
	return &CircleRepository{}
}

func (r *CircleRepository) GetCircle(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Circle, error) {
	var c domain.Circle
	query := `SELECT id, name, status, contribution_amount, created_at FROM circles WHERE id = $1`
	if err := q.GetContext(ctx, &c, query, id); err != nil {
		return nil, classify(fmt.Sprintf("get circle %s", id), err)
	}
	return &c, nil
}

func (r *CircleRepository) GetCycle(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Cycle, error) {
	var c domain.Cycle
	if err := q.GetContext(ctx, &c, `SELECT `+cycleColumns+` FROM circle_cycles WHERE id = $1`, id); err != nil {
		return nil, classify(fmt.Sprintf("get cycle %s", id), err)
	}
	return &c, nil
}

func (r *CircleRepository) GetMembership(ctx context.Context, q repository.DBExecutor, circleID, userID uuid.UUID) (*domain.Membership, error) {
	var m domain.Membership
	query := `SELECT circle_id, user_id, payout_position, status, joined_at
              FROM circle_memberships WHERE circle_id = $1 AND user_id = $2`
	if err := q.GetContext(ctx, &m, query, circleID, userID); err != nil {
		return nil, classify("get membership", err)
	}
	return &m, nil
}

func (r *CircleRepository) GetMemberAtPosition(ctx context.Context, q repository.DBExecutor, circleID uuid.UUID, position int) (*domain.Membership, error) {
	var m domain.Membership
	query := `SELECT circle_id, user_id, payout_position, status, joined_at
              FROM circle_memberships WHERE circle_id = $1 AND payout_position = $2`
	if err := q.GetContext(ctx, &m, query, circleID, position); err != nil {
		return nil, classify("get member at position", err)
	}
	return &m, nil
}

// GetContributionStats counts active members against contributions received for the cycle.
func (r *CircleRepository) GetContributionStats(ctx context.Context, q repository.DBExecutor, cycleID uuid.UUID) (domain.ContributionStats, error) {
	var stats domain.ContributionStats
	query := `SELECT
                (SELECT COUNT(*) FROM circle_memberships m
                   JOIN circle_cycles c ON c.circle_id = m.circle_id
                  WHERE c.id = $1 AND m.status = 'active') AS expected,
                (SELECT COUNT(*) FROM contributions
                  WHERE cycle_id = $1 AND status = 'paid') AS received`
	if err := q.GetContext(ctx, &stats, query, cycleID); err != nil {
		return stats, fmt.Errorf("failed to count contributions for cycle %s: %w", cycleID, err)
	}
	return stats, nil
}

// ListUpcomingContributions returns cycles of the user's active circles that fall
// due in [from, to] and for which the user has not paid yet.
func (r *CircleRepository) ListUpcomingContributions(ctx context.Context, q repository.DBExecutor, userID uuid.UUID, from, to time.Time) ([]domain.UpcomingContribution, error) {
	out := []domain.UpcomingContribution{}
	query := `SELECT c.circle_id, c.cycle_number, ci.contribution_amount AS amount, c.due_date
              FROM circle_cycles c
              JOIN circles ci ON ci.id = c.circle_id
              JOIN circle_memberships m ON m.circle_id = c.circle_id AND m.user_id = $1
              WHERE m.status = 'active'
                AND ci.status = 'active'
                AND c.due_date BETWEEN $2 AND $3
                AND NOT EXISTS (
                    SELECT 1 FROM contributions k
                    WHERE k.cycle_id = c.id AND k.user_id = $1 AND k.status = 'paid')
              ORDER BY c.due_date, c.circle_id`
	if err := q.SelectContext(ctx, &out, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list upcoming contributions for user %s: %w", userID, err)
	}
	return out, nil
}

func (r *CircleRepository) MarkCyclePayoutCompleted(ctx context.Context, q repository.DBExecutor, cycleID, executionID uuid.UUID) error {
	query := `UPDATE circle_cycles SET status = $1, payout_execution_id = $2
              WHERE id = $3 AND status = $4`
	res, err := q.ExecContext(ctx, query, domain.CycleStatusPayoutCompleted, executionID, cycleID, domain.CycleStatusReadyPayout)
	if err != nil {
		return classify(fmt.Sprintf("complete cycle %s", cycleID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete cycle %s: failed to get rows affected: %w", cycleID, err)
	}
	if n == 0 {
		return fmt.Errorf("complete cycle %s: %w", cycleID, util.ErrInvalidState)
	}
	return nil
}
