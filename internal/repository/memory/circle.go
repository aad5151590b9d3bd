// internal/repository/memory/circle.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
)

// CircleRepository implements repository.CircleRepository on a Store.
type CircleRepository struct{ s *Store }

func (s *Store) Circles() repository.CircleRepository { return &CircleRepository{s} }

func (r *CircleRepository) GetCircle(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Circle, error) {
	var out *domain.Circle
	err := r.s.view(q, func(st *state) error {
		c, ok := st.circles[id]
		if !ok {
			return util.ErrNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r *CircleRepository) GetCycle(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Cycle, error) {
	var out *domain.Cycle
	err := r.s.view(q, func(st *state) error {
		c, ok := st.cycles[id]
		if !ok {
			return util.ErrNotFound
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r *CircleRepository) GetMembership(ctx context.Context, q repository.DBExecutor, circleID, userID uuid.UUID) (*domain.Membership, error) {
	var out *domain.Membership
	err := r.s.view(q, func(st *state) error {
		m, ok := st.members[memberKey{circleID, userID}]
		if !ok {
			return util.ErrNotFound
		}
		cp := *m
		out = &cp
		return nil
	})
	return out, err
}

func (r *CircleRepository) GetMemberAtPosition(ctx context.Context, q repository.DBExecutor, circleID uuid.UUID, position int) (*domain.Membership, error) {
	var out *domain.Membership
	err := r.s.view(q, func(st *state) error {
		for _, m := range st.members {
			if m.CircleID == circleID && m.PayoutPosition == position {
				cp := *m
				out = &cp
				return nil
			}
		}
		return util.ErrNotFound
	})
	return out, err
}

func (r *CircleRepository) GetContributionStats(ctx context.Context, q repository.DBExecutor, cycleID uuid.UUID) (domain.ContributionStats, error) {
	var stats domain.ContributionStats
	err := r.s.view(q, func(st *state) error {
		cycle, ok := st.cycles[cycleID]
		if !ok {
			return util.ErrNotFound
		}
		for _, m := range st.members {
			if m.CircleID == cycle.CircleID && m.Status == domain.MembershipStatusActive {
				stats.Expected++
			}
		}
		stats.Received = len(st.contributions[cycleID])
		return nil
	})
	return stats, err
}

func (r *CircleRepository) ListUpcomingContributions(ctx context.Context, q repository.DBExecutor, userID uuid.UUID, from, to time.Time) ([]domain.UpcomingContribution, error) {
	out := []domain.UpcomingContribution{}
	err := r.s.view(q, func(st *state) error {
		for _, c := range st.cycles {
			m, ok := st.members[memberKey{c.CircleID, userID}]
			if !ok || m.Status != domain.MembershipStatusActive {
				continue
			}
			circle, ok := st.circles[c.CircleID]
			if !ok || circle.Status != domain.CircleStatusActive {
				continue
			}
			if c.DueDate.Before(from) || c.DueDate.After(to) {
				continue
			}
			if _, paid := st.contributions[c.ID][userID]; paid {
				continue
			}
			out = append(out, domain.UpcomingContribution{
				CircleID:    c.CircleID,
				CycleNumber: c.CycleNumber,
				Amount:      circle.ContributionAmount,
				DueDate:     c.DueDate,
			})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].CircleID.String() < out[j].CircleID.String()
	})
	return out, err
}

func (r *CircleRepository) MarkCyclePayoutCompleted(ctx context.Context, q repository.DBExecutor, cycleID, executionID uuid.UUID) error {
	return r.s.update(ctx, q, func(st *state) error {
		c, ok := st.cycles[cycleID]
		if !ok {
			return util.ErrNotFound
		}
		if c.Status != domain.CycleStatusReadyPayout {
			return fmt.Errorf("complete cycle %s in status %s: %w", cycleID, c.Status, util.ErrInvalidState)
		}
		c.Status = domain.CycleStatusPayoutCompleted
		id := executionID
		c.PayoutExecutionID = &id
		return nil
	})
}

// RegistryRepository implements repository.RegistryRepository on a Store.
type RegistryRepository struct{ s *Store }

func (s *Store) Registry() repository.RegistryRepository { return &RegistryRepository{s} }

func (r *RegistryRepository) GetIdentityStatus(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (domain.IdentityStatus, error) {
	var out domain.IdentityStatus
	err := r.s.view(q, func(st *state) error {
		out = st.identities[userID]
		return nil
	})
	return out, err
}

func (r *RegistryRepository) ListActiveRestrictions(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) ([]string, error) {
	out := []string{}
	err := r.s.view(q, func(st *state) error {
		out = append(out, st.restrictions[userID]...)
		return nil
	})
	return out, err
}

func (r *RegistryRepository) CountUnresolvedDefaults(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (int, error) {
	var n int
	err := r.s.view(q, func(st *state) error {
		n = st.defaults[userID]
		return nil
	})
	return n, err
}

func (r *RegistryRepository) GetCustodialBalance(ctx context.Context, q repository.DBExecutor, accountID string) (int64, error) {
	var balance int64
	err := r.s.view(q, func(st *state) error {
		b, ok := st.custodial[accountID]
		if !ok {
			return util.ErrNotFound
		}
		balance = b
		return nil
	})
	return balance, err
}

func (r *RegistryRepository) ListRemittanceRecipients(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) ([]domain.RemittanceRecipient, error) {
	out := []domain.RemittanceRecipient{}
	err := r.s.view(q, func(st *state) error {
		out = append(out, st.remittance[userID]...)
		return nil
	})
	return out, err
}
