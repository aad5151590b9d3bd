// internal/domain/reservation.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus tracks a contribution reservation through its lifecycle.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationUsed     ReservationStatus = "used"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
)

// ContributionReservation earmarks wallet funds for one upcoming circle contribution.
// At most one exists per (wallet, circle, cycle).
type ContributionReservation struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	WalletID    uuid.UUID         `db:"wallet_id" json:"wallet_id"`
	CircleID    uuid.UUID         `db:"circle_id" json:"circle_id"`
	CycleNumber int               `db:"cycle_number" json:"cycle_number"`
	Amount      int64             `db:"amount" json:"amount"`
	Status      ReservationStatus `db:"status" json:"status"`
	DueDate     time.Time         `db:"due_date" json:"due_date"`
	Reason      *string           `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// NewContributionReservation creates a reservation in the reserved state.
func NewContributionReservation(walletID, circleID uuid.UUID, cycleNumber int, amount int64, dueDate time.Time) *ContributionReservation {
	now := time.Now().UTC()
	return &ContributionReservation{
		ID:          uuid.New(),
		WalletID:    walletID,
		CircleID:    circleID,
		CycleNumber: cycleNumber,
		Amount:      amount,
		Status:      ReservationReserved,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *ContributionReservation) IsActive() bool {
	return r.Status == ReservationReserved
}

// UpcomingContribution is a contribution the user owes in a future cycle.
type UpcomingContribution struct {
	CircleID    uuid.UUID `db:"circle_id" json:"circle_id"`
	CycleNumber int       `db:"cycle_number" json:"cycle_number"`
	Amount      int64     `db:"amount" json:"amount"`
	DueDate     time.Time `db:"due_date" json:"due_date"`
}

// Shortfall is raised by a sweep when main cannot cover an upcoming contribution.
type Shortfall struct {
	CircleID    uuid.UUID `json:"circle_id"`
	CycleNumber int       `json:"cycle_number"`
	DueDate     time.Time `json:"due_date"`
	Required    int64     `json:"required"`
	Available   int64     `json:"available"`
}
