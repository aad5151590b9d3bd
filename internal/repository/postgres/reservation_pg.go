// internal/repository/postgres/reservation_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"

	"github.com/google/uuid"
)

const reservationColumns = `id, wallet_id, circle_id, cycle_number, amount, status, due_date, reason, created_at, updated_at`

// ReservationRepository implements repository.ReservationRepository for PostgreSQL.
type ReservationRepository struct{}

func NewReservationRepository() repository.ReservationRepository {
	return &ReservationRepository{}
}

func (r *ReservationRepository) CreateReservation(ctx context.Context, q repository.DBExecutor, res *domain.ContributionReservation) error {
	query := `INSERT INTO contribution_reservations (` + reservationColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.ExecContext(ctx, query,
		res.ID, res.WalletID, res.CircleID, res.CycleNumber, res.Amount,
		res.Status, res.DueDate, res.Reason, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return classify("create reservation", err)
	}
	return nil
}

func (r *ReservationRepository) GetReservationByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.ContributionReservation, error) {
	var res domain.ContributionReservation
	query := `SELECT ` + reservationColumns + ` FROM contribution_reservations WHERE id = $1`
	if err := q.GetContext(ctx, &res, query, id); err != nil {
		return nil, classify(fmt.Sprintf("get reservation %s", id), err)
	}
	return &res, nil
}

func (r *ReservationRepository) GetReservationForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.ContributionReservation, error) {
	var res domain.ContributionReservation
	query := `SELECT ` + reservationColumns + ` FROM contribution_reservations WHERE id = $1 FOR UPDATE`
	if err := q.GetContext(ctx, &res, query, id); err != nil {
		return nil, classify(fmt.Sprintf("lock reservation %s", id), err)
	}
	return &res, nil
}

func (r *ReservationRepository) FindReservation(ctx context.Context, q repository.DBExecutor, walletID, circleID uuid.UUID, cycleNumber int) (*domain.ContributionReservation, error) {
	var res domain.ContributionReservation
	query := `SELECT ` + reservationColumns + ` FROM contribution_reservations
              WHERE wallet_id = $1 AND circle_id = $2 AND cycle_number = $3`
	if err := q.GetContext(ctx, &res, query, walletID, circleID, cycleNumber); err != nil {
		return nil, classify("find reservation", err)
	}
	return &res, nil
}

func (r *ReservationRepository) UpdateReservationStatus(ctx context.Context, q repository.DBExecutor, id uuid.UUID, status domain.ReservationStatus, reason *string) error {
	query := `UPDATE contribution_reservations SET status = $1, reason = COALESCE($2, reason), updated_at = $3 WHERE id = $4`
	res, err := q.ExecContext(ctx, query, status, reason, time.Now().UTC(), id)
	if err != nil {
		return classify(fmt.Sprintf("update reservation %s", id), err)
	}
	return expectOneRow(fmt.Sprintf("update reservation %s", id), res)
}

func (r *ReservationRepository) ListActiveReservations(ctx context.Context, q repository.DBExecutor, walletID uuid.UUID) ([]domain.ContributionReservation, error) {
	out := []domain.ContributionReservation{}
	query := `SELECT ` + reservationColumns + ` FROM contribution_reservations
              WHERE wallet_id = $1 AND status = 'reserved'
              ORDER BY due_date`
	if err := q.SelectContext(ctx, &out, query, walletID); err != nil {
		return nil, fmt.Errorf("failed to list reservations for wallet %s: %w", walletID, err)
	}
	return out, nil
}

func (r *ReservationRepository) ListOverdueReservations(ctx context.Context, q repository.DBExecutor, cutoff time.Time, limit int) ([]domain.ContributionReservation, error) {
	out := []domain.ContributionReservation{}
	query := `SELECT ` + reservationColumns + ` FROM contribution_reservations
              WHERE status = 'reserved' AND due_date < $1
              ORDER BY due_date
              LIMIT $2`
	if err := q.SelectContext(ctx, &out, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list overdue reservations: %w", err)
	}
	return out, nil
}
