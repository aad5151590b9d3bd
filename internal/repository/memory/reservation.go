// internal/repository/memory/reservation.go
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

// ReservationRepository implements repository.ReservationRepository on a Store.
type ReservationRepository struct{ s *Store }

func (s *Store) Reservations() repository.ReservationRepository { return &ReservationRepository{s} }

func (r *ReservationRepository) CreateReservation(ctx context.Context, q repository.DBExecutor, res *domain.ContributionReservation) error {
	key := reservationKey{res.WalletID, res.CircleID, res.CycleNumber}
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.reservationBy[key]; ok {
			return fmt.Errorf("create reservation: %w", util.ErrDuplicateEntry)
		}
		c := *res
		st.reservations[c.ID] = &c
		st.reservationBy[key] = c.ID
		return nil
	})
}

func (r *ReservationRepository) GetReservationByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.ContributionReservation, error) {
	var out *domain.ContributionReservation
	err := r.s.view(q, func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return util.ErrNotFound
		}
		c := *res
		out = &c
		return nil
	})
	return out, err
}

func (r *ReservationRepository) GetReservationForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.ContributionReservation, error) {
	return r.GetReservationByID(ctx, q, id)
}

func (r *ReservationRepository) FindReservation(ctx context.Context, q repository.DBExecutor, walletID, circleID uuid.UUID, cycleNumber int) (*domain.ContributionReservation, error) {
	var id uuid.UUID
	err := r.s.view(q, func(st *state) error {
		rid, ok := st.reservationBy[reservationKey{walletID, circleID, cycleNumber}]
		if !ok {
			return util.ErrNotFound
		}
		id = rid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetReservationByID(ctx, q, id)
}

func (r *ReservationRepository) UpdateReservationStatus(ctx context.Context, q repository.DBExecutor, id uuid.UUID, status domain.ReservationStatus, reason *string) error {
	return r.s.update(ctx, q, func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return util.ErrNotFound
		}
		res.Status = status
		if reason != nil {
			res.Reason = reason
		}
		res.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (r *ReservationRepository) ListActiveReservations(ctx context.Context, q repository.DBExecutor, walletID uuid.UUID) ([]domain.ContributionReservation, error) {
	return r.list(q, func(res *domain.ContributionReservation) bool {
		return res.WalletID == walletID && res.Status == domain.ReservationReserved
	}, 0)
}

func (r *ReservationRepository) ListOverdueReservations(ctx context.Context, q repository.DBExecutor, cutoff time.Time, limit int) ([]domain.ContributionReservation, error) {
	return r.list(q, func(res *domain.ContributionReservation) bool {
		return res.Status == domain.ReservationReserved && res.DueDate.Before(cutoff)
	}, limit)
}

func (r *ReservationRepository) list(q repository.DBExecutor, match func(*domain.ContributionReservation) bool, limit int) ([]domain.ContributionReservation, error) {
	out := []domain.ContributionReservation{}
	err := r.s.view(q, func(st *state) error {
		for _, res := range st.reservations {
			if match(res) {
				out = append(out, *res)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// SavingsGoalRepository implements repository.SavingsGoalRepository on a Store.
type SavingsGoalRepository struct{ s *Store }

func (s *Store) SavingsGoals() repository.SavingsGoalRepository { return &SavingsGoalRepository{s} }

func (r *SavingsGoalRepository) CreateGoal(ctx context.Context, q repository.DBExecutor, g *domain.SavingsGoal) error {
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.goals[g.ID]; ok {
			return fmt.Errorf("create savings goal: %w", util.ErrDuplicateEntry)
		}
		c := *g
		st.goals[c.ID] = &c
		return nil
	})
}

func (r *SavingsGoalRepository) GetGoalByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.SavingsGoal, error) {
	var out *domain.SavingsGoal
	err := r.s.view(q, func(st *state) error {
		g, ok := st.goals[id]
		if !ok {
			return util.ErrNotFound
		}
		c := *g
		out = &c
		return nil
	})
	return out, err
}

func (r *SavingsGoalRepository) GetGoalForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.SavingsGoal, error) {
	return r.GetGoalByID(ctx, q, id)
}

func (r *SavingsGoalRepository) ListGoalsByUser(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) ([]domain.SavingsGoal, error) {
	out := []domain.SavingsGoal{}
	err := r.s.view(q, func(st *state) error {
		for _, g := range st.goals {
			if g.UserID == userID {
				out = append(out, *g)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *SavingsGoalRepository) UpdateGoalBalance(ctx context.Context, q repository.DBExecutor, id uuid.UUID, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("update savings goal %s: negative balance: %w", id, util.ErrInvalidState)
	}
	return r.s.update(ctx, q, func(st *state) error {
		g, ok := st.goals[id]
		if !ok {
			return util.ErrNotFound
		}
		g.CurrentBalance = balance
		g.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// PreferenceRepository implements repository.PreferenceRepository on a Store.
type PreferenceRepository struct{ s *Store }

func (s *Store) Preferences() repository.PreferenceRepository { return &PreferenceRepository{s} }

func keyFor(userID uuid.UUID, scope domain.PreferenceScope, circleID *uuid.UUID) prefKey {
	k := prefKey{userID: userID, scope: scope}
	if circleID != nil {
		k.circleID = *circleID
	}
	return k
}

func (r *PreferenceRepository) UpsertPreference(ctx context.Context, q repository.DBExecutor, p *domain.PayoutPreference) error {
	return r.s.update(ctx, q, func(st *state) error {
		k := keyFor(p.UserID, p.Scope, p.CircleID)
		if existing, ok := st.prefs[k]; ok {
			p.ID = existing.ID
		}
		c := *p
		st.prefs[k] = &c
		return nil
	})
}

func (r *PreferenceRepository) GetDefaultPreference(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (*domain.PayoutPreference, error) {
	return r.get(q, keyFor(userID, domain.ScopeDefault, nil))
}

func (r *PreferenceRepository) GetCirclePreference(ctx context.Context, q repository.DBExecutor, userID, circleID uuid.UUID) (*domain.PayoutPreference, error) {
	return r.get(q, keyFor(userID, domain.ScopeCircleSpecific, &circleID))
}

func (r *PreferenceRepository) get(q repository.DBExecutor, k prefKey) (*domain.PayoutPreference, error) {
	var out *domain.PayoutPreference
	err := r.s.view(q, func(st *state) error {
		p, ok := st.prefs[k]
		if !ok {
			return util.ErrNotFound
		}
		c := *p
		out = &c
		return nil
	})
	return out, err
}
