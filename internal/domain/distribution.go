// internal/domain/distribution.go
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GoalAllocation is the share of a payout bound for one savings goal.
type GoalAllocation struct {
	GoalID uuid.UUID `json:"goal_id"`
	Amount int64     `json:"amount"`
}

// BankAllocation is the share of a payout bound for an external account.
type BankAllocation struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

// Distribution is an exact allocation of a net payout:
// ToWallet + sum(ToSavingsGoals) + ToBank.Amount == net.
type Distribution struct {
	Mode           DestinationKind  `json:"mode"`
	ToWallet       int64            `json:"to_wallet"`
	ToSavingsGoals []GoalAllocation `json:"to_savings_goals"`
	ToBank         *BankAllocation  `json:"to_bank"`
	FallbackReason string           `json:"fallback_reason,omitempty"`
}

// Total sums every allocation.
func (d Distribution) Total() int64 {
	total := d.ToWallet
	for _, g := range d.ToSavingsGoals {
		total += g.Amount
	}
	if d.ToBank != nil {
		total += d.ToBank.Amount
	}
	return total
}

// Value stores the distribution as JSONB.
func (d Distribution) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal distribution: %w", err)
	}
	return b, nil
}

// Scan loads a distribution from JSONB.
func (d *Distribution) Scan(src interface{}) error {
	b, err := jsonBytes(src)
	if err != nil || b == nil {
		return err
	}
	if err := json.Unmarshal(b, d); err != nil {
		return fmt.Errorf("unmarshal distribution: %w", err)
	}
	if d.ToSavingsGoals == nil {
		d.ToSavingsGoals = []GoalAllocation{}
	}
	return nil
}

// Clone returns a deep copy.
func (d *Distribution) Clone() *Distribution {
	if d == nil {
		return nil
	}
	c := *d
	c.ToSavingsGoals = append([]GoalAllocation{}, d.ToSavingsGoals...)
	if d.ToBank != nil {
		bank := *d.ToBank
		c.ToBank = &bank
	}
	return &c
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON source type %T", src)
	}
}

// SuggestionKind names the advisory a Suggestion carries.
type SuggestionKind string

const (
	SuggestReserveContribution SuggestionKind = "reserve_contribution"
	SuggestTopUpGoal           SuggestionKind = "top_up_goal"
	SuggestEmergencyFund       SuggestionKind = "create_emergency_fund"
	SuggestRemittance          SuggestionKind = "send_remittance"
)

// Suggestion is advice shown next to a payout. It never changes the Distribution.
// Lower Priority sorts first.
type Suggestion struct {
	Priority    int            `json:"priority"`
	Kind        SuggestionKind `json:"kind"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	AmountCents int64          `json:"amount_cents,omitempty"`
	CircleID    *uuid.UUID     `json:"circle_id,omitempty"`
	GoalID      *uuid.UUID     `json:"goal_id,omitempty"`
	RecipientID *uuid.UUID     `json:"recipient_id,omitempty"`
}
