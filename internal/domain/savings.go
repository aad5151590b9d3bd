// internal/domain/savings.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

type GoalType string

const (
	GoalTypeGeneral   GoalType = "general"
	GoalTypeEmergency GoalType = "emergency"
	GoalTypeEducation GoalType = "education"
	GoalTypeHousing   GoalType = "housing"
)

type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusClosed    GoalStatus = "closed"
)

// SavingsGoal is a named pot funded from the owner's wallet through the ledger.
type SavingsGoal struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	UserID         uuid.UUID  `db:"user_id" json:"user_id"`
	WalletID       uuid.UUID  `db:"wallet_id" json:"wallet_id"`
	Name           string     `db:"name" json:"name"`
	GoalType       GoalType   `db:"goal_type" json:"goal_type"`
	TargetAmount   int64      `db:"target_amount" json:"target_amount"`
	CurrentBalance int64      `db:"current_balance" json:"current_balance"`
	LockedUntil    *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	Status         GoalStatus `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (g *SavingsGoal) IsOpen() bool {
	return g.Status == GoalStatusActive
}

// IsUnderfunded reports whether the goal sits below 90% of its target.
func (g *SavingsGoal) IsUnderfunded() bool {
	if g.TargetAmount <= 0 {
		return false
	}
	return g.CurrentBalance*10 < g.TargetAmount*9
}
