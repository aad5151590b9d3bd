// internal/domain/circle.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

const CircleStatusActive = "active"

const (
	CycleStatusCollecting      = "collecting"
	CycleStatusReadyPayout     = "ready_payout"
	CycleStatusPayoutCompleted = "payout_completed"
)

const MembershipStatusActive = "active"

// Circle is a rotating savings group. The core only reads it.
type Circle struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	Status             string    `db:"status" json:"status"`
	ContributionAmount int64     `db:"contribution_amount" json:"contribution_amount"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Cycle is one rotation of a circle. CollectedAmount is the gross payout pool.
type Cycle struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	CircleID          uuid.UUID  `db:"circle_id" json:"circle_id"`
	CycleNumber       int        `db:"cycle_number" json:"cycle_number"`
	Status            string     `db:"status" json:"status"`
	RecipientUserID   uuid.UUID  `db:"recipient_user_id" json:"recipient_user_id"`
	ExpectedAmount    int64      `db:"expected_amount" json:"expected_amount"`
	CollectedAmount   int64      `db:"collected_amount" json:"collected_amount"`
	DueDate           time.Time  `db:"due_date" json:"due_date"`
	PayoutExecutionID *uuid.UUID `db:"payout_execution_id" json:"payout_execution_id,omitempty"`
}

// Membership places a user in a circle's payout order.
type Membership struct {
	CircleID       uuid.UUID `db:"circle_id" json:"circle_id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	PayoutPosition int       `db:"payout_position" json:"payout_position"`
	Status         string    `db:"status" json:"status"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// ContributionStats counts contributions for a cycle.
type ContributionStats struct {
	Expected int `db:"expected" json:"expected"`
	Received int `db:"received" json:"received"`
}

func (s ContributionStats) Complete() bool {
	return s.Received >= s.Expected
}
