// internal/repository/memory/execution.go
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

// ExecutionRepository implements repository.ExecutionRepository on a Store.
type ExecutionRepository struct{ s *Store }

func (s *Store) Executions() repository.ExecutionRepository { return &ExecutionRepository{s} }

func holdsCycle(status domain.ExecutionStatus) bool {
	return status == domain.ExecutionExecuting || status == domain.ExecutionPartial || status == domain.ExecutionCompleted
}

// checkCycleHold emulates the partial unique index on payout_executions(cycle_id).
func checkCycleHold(st *state, e *domain.PayoutExecution, status domain.ExecutionStatus) error {
	if !holdsCycle(status) {
		return nil
	}
	for _, other := range st.executions {
		if other.ID != e.ID && other.CycleID == e.CycleID && holdsCycle(other.Status) {
			return fmt.Errorf("execution %s: cycle %s held by %s: %w", e.ID, e.CycleID, other.ID, util.ErrDuplicateEntry)
		}
	}
	return nil
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, q repository.DBExecutor, e *domain.PayoutExecution) error {
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.executions[e.ID]; ok {
			return fmt.Errorf("create execution: %w", util.ErrDuplicateEntry)
		}
		if err := checkCycleHold(st, e, e.Status); err != nil {
			return err
		}
		st.executions[e.ID] = e.Clone()
		return nil
	})
}

func (r *ExecutionRepository) GetExecutionByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.PayoutExecution, error) {
	var out *domain.PayoutExecution
	err := r.s.view(q, func(st *state) error {
		e, ok := st.executions[id]
		if !ok {
			return util.ErrNotFound
		}
		out = e.Clone()
		return nil
	})
	return out, err
}

func (r *ExecutionRepository) FindResumableExecution(ctx context.Context, q repository.DBExecutor, cycleID uuid.UUID) (*domain.PayoutExecution, error) {
	var out *domain.PayoutExecution
	err := r.s.view(q, func(st *state) error {
		for _, e := range st.executions {
			if e.CycleID != cycleID || !e.Resumable() {
				continue
			}
			if out == nil || e.CreatedAt.After(out.CreatedAt) {
				out = e
			}
		}
		if out == nil {
			return util.ErrNotFound
		}
		out = out.Clone()
		return nil
	})
	return out, err
}

func (r *ExecutionRepository) HasDisbursedForCycle(ctx context.Context, q repository.DBExecutor, cycleID, excludeID uuid.UUID) (bool, error) {
	var found bool
	err := r.s.view(q, func(st *state) error {
		for _, e := range st.executions {
			if e.CycleID == cycleID && e.ID != excludeID &&
				(e.Status == domain.ExecutionCompleted || e.Status == domain.ExecutionPartial) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *ExecutionRepository) UpdateExecution(ctx context.Context, q repository.DBExecutor, e *domain.PayoutExecution) error {
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.executions[e.ID]; !ok {
			return util.ErrNotFound
		}
		if err := checkCycleHold(st, e, e.Status); err != nil {
			return err
		}
		e.UpdatedAt = time.Now().UTC()
		st.executions[e.ID] = e.Clone()
		return nil
	})
}

func (r *ExecutionRepository) UpdateExecutionFrom(ctx context.Context, q repository.DBExecutor, e *domain.PayoutExecution, from domain.ExecutionStatus) error {
	return r.s.update(ctx, q, func(st *state) error {
		cur, ok := st.executions[e.ID]
		if !ok {
			return util.ErrNotFound
		}
		if cur.Status != from {
			return fmt.Errorf("update payout execution %s: no longer %s: %w", e.ID, from, util.ErrConcurrencyConflict)
		}
		if err := checkCycleHold(st, e, e.Status); err != nil {
			return err
		}
		e.UpdatedAt = time.Now().UTC()
		st.executions[e.ID] = e.Clone()
		return nil
	})
}

func (r *ExecutionRepository) ClaimExecution(ctx context.Context, q repository.DBExecutor, id uuid.UUID, from domain.ExecutionStatus, startedAt time.Time) error {
	return r.s.update(ctx, q, func(st *state) error {
		e, ok := st.executions[id]
		if !ok || e.Status != from {
			return fmt.Errorf("claim payout execution %s: %w", id, util.ErrConcurrencyConflict)
		}
		if err := checkCycleHold(st, e, domain.ExecutionExecuting); err != nil {
			return err
		}
		e.Status = domain.ExecutionExecuting
		if e.StartedAt == nil {
			ts := startedAt
			e.StartedAt = &ts
		}
		e.UpdatedAt = startedAt
		return nil
	})
}

func (r *ExecutionRepository) GetRecipientHistory(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (domain.PayoutHistory, error) {
	var h domain.PayoutHistory
	err := r.s.view(q, func(st *state) error {
		for _, e := range st.executions {
			if e.RecipientUserID == userID && e.Status == domain.ExecutionCompleted {
				h.CompletedCount++
				h.TotalNet += e.NetAmount
			}
		}
		return nil
	})
	return h, err
}

func (r *ExecutionRepository) ListRetryableExecutions(ctx context.Context, q repository.DBExecutor, now time.Time, maxRetries, limit int) ([]domain.PayoutExecution, error) {
	return r.list(q, func(e *domain.PayoutExecution) bool {
		return e.Resumable() && e.RetryCount < maxRetries && (e.NextRetryAt == nil || !e.NextRetryAt.After(now))
	}, limit)
}

func (r *ExecutionRepository) ListStaleExecutions(ctx context.Context, q repository.DBExecutor, startedBefore time.Time, limit int) ([]domain.PayoutExecution, error) {
	return r.list(q, func(e *domain.PayoutExecution) bool {
		return e.Status == domain.ExecutionExecuting && e.StartedAt != nil && e.StartedAt.Before(startedBefore)
	}, limit)
}

func (r *ExecutionRepository) list(q repository.DBExecutor, match func(*domain.PayoutExecution) bool, limit int) ([]domain.PayoutExecution, error) {
	out := []domain.PayoutExecution{}
	err := r.s.view(q, func(st *state) error {
		for _, e := range st.executions {
			if match(e) {
				out = append(out, *e.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *ExecutionRepository) ListLegs(ctx context.Context, q repository.DBExecutor, executionID uuid.UUID) ([]domain.PayoutLeg, error) {
	out := []domain.PayoutLeg{}
	err := r.s.view(q, func(st *state) error {
		out = append(out, st.legs[executionID]...)
		return nil
	})
	return out, err
}

func (r *ExecutionRepository) CreateLeg(ctx context.Context, q repository.DBExecutor, leg *domain.PayoutLeg) error {
	return r.s.update(ctx, q, func(st *state) error {
		for _, l := range st.legs[leg.ExecutionID] {
			if l.LegKind == leg.LegKind {
				return fmt.Errorf("record leg %s: %w", leg.LegKind, util.ErrDuplicateEntry)
			}
		}
		st.legs[leg.ExecutionID] = append(st.legs[leg.ExecutionID], *leg)
		return nil
	})
}

// MovementRepository implements repository.MovementRepository on a Store.
type MovementRepository struct{ s *Store }

func (s *Store) Movements() repository.MovementRepository { return &MovementRepository{s} }

func (r *MovementRepository) CreateMovement(ctx context.Context, q repository.DBExecutor, m *domain.MoneyMovement) error {
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.movements[m.ID]; ok {
			return fmt.Errorf("create money movement: %w", util.ErrDuplicateEntry)
		}
		c := *m
		st.movements[c.ID] = &c
		return nil
	})
}

func (r *MovementRepository) GetMovementByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.MoneyMovement, error) {
	var out *domain.MoneyMovement
	err := r.s.view(q, func(st *state) error {
		m, ok := st.movements[id]
		if !ok {
			return util.ErrNotFound
		}
		c := *m
		out = &c
		return nil
	})
	return out, err
}

func (r *MovementRepository) GetMovementForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.MoneyMovement, error) {
	return r.GetMovementByID(ctx, q, id)
}

func (r *MovementRepository) ClaimDueMovements(ctx context.Context, q repository.DBExecutor, now time.Time, limit int) ([]domain.MoneyMovement, error) {
	out := []domain.MoneyMovement{}
	err := r.s.view(q, func(st *state) error {
		for _, m := range st.movements {
			if m.Status == domain.MovementPending && !m.NextAttemptAt.After(now) {
				out = append(out, *m)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *MovementRepository) UpdateMovement(ctx context.Context, q repository.DBExecutor, m *domain.MoneyMovement) error {
	return r.s.update(ctx, q, func(st *state) error {
		if _, ok := st.movements[m.ID]; !ok {
			return util.ErrNotFound
		}
		m.UpdatedAt = time.Now().UTC()
		c := *m
		st.movements[c.ID] = &c
		return nil
	})
}
