// internal/repository/reservation_repo.go
package repository

import (
	"context"
	"time"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// ReservationRepository stores contribution reservations.
type ReservationRepository interface {
	// CreateReservation returns util.ErrDuplicateEntry if (wallet, circle, cycle) is taken.
	CreateReservation(ctx context.Context, q DBExecutor, r *domain.ContributionReservation) error
	GetReservationByID(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.ContributionReservation, error)
	GetReservationForUpdate(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.ContributionReservation, error)
	FindReservation(ctx context.Context, q DBExecutor, walletID, circleID uuid.UUID, cycleNumber int) (*domain.ContributionReservation, error)
	UpdateReservationStatus(ctx context.Context, q DBExecutor, id uuid.UUID, status domain.ReservationStatus, reason *string) error
	ListActiveReservations(ctx context.Context, q DBExecutor, walletID uuid.UUID) ([]domain.ContributionReservation, error)
	// ListOverdueReservations returns reserved rows whose due date is before cutoff.
	ListOverdueReservations(ctx context.Context, q DBExecutor, cutoff time.Time, limit int) ([]domain.ContributionReservation, error)
}
