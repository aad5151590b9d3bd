// internal/domain/preference.go
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DestinationKind is the discriminator persisted alongside a destination payload.
type DestinationKind string

const (
	DestinationWallet      DestinationKind = "wallet"
	DestinationBank        DestinationKind = "bank"
	DestinationSavingsGoal DestinationKind = "savings_goal"
	DestinationSplit       DestinationKind = "split"
)

// PayoutDestination is a closed set: WalletDestination, BankDestination,
// SavingsGoalDestination or SplitDestination.
type PayoutDestination interface {
	Kind() DestinationKind
	isPayoutDestination()
}

// WalletDestination keeps the whole payout in the wallet.
type WalletDestination struct{}

// BankDestination sends the payout, minus the wallet floor, to an external account.
type BankDestination struct {
	AccountID string `json:"account_id"`
}

// SavingsGoalDestination sends the whole payout to one savings goal.
type SavingsGoalDestination struct {
	GoalID uuid.UUID `json:"goal_id"`
}

// SplitDestination divides the payout according to Config.
type SplitDestination struct {
	Config SplitConfig
}

func (WalletDestination) Kind() DestinationKind      { return DestinationWallet }
func (BankDestination) Kind() DestinationKind        { return DestinationBank }
func (SavingsGoalDestination) Kind() DestinationKind { return DestinationSavingsGoal }
func (SplitDestination) Kind() DestinationKind       { return DestinationSplit }

func (WalletDestination) isPayoutDestination()      {}
func (BankDestination) isPayoutDestination()        {}
func (SavingsGoalDestination) isPayoutDestination() {}
func (SplitDestination) isPayoutDestination()       {}

// GoalAmount is a fixed cent allocation to a savings goal.
type GoalAmount struct {
	GoalID uuid.UUID `json:"goal_id" validate:"required"`
	Amount int64     `json:"amount" validate:"gt=0"`
}

// GoalPercent is a percentage share of the post-fixed residue for a savings goal.
type GoalPercent struct {
	GoalID  uuid.UUID       `json:"goal_id" validate:"required"`
	Percent decimal.Decimal `json:"percent"`
}

// SplitConfig declares fixed amounts (applied first, in order savings, wallet,
// bank) and percentage shares of whatever is left. A zero percent means the
// bucket did not declare one.
type SplitConfig struct {
	SavingsFixed   []GoalAmount    `json:"savings_fixed,omitempty" validate:"dive"`
	WalletFixed    int64           `json:"wallet_fixed,omitempty" validate:"gte=0"`
	BankFixed      int64           `json:"bank_fixed,omitempty" validate:"gte=0"`
	SavingsPercent []GoalPercent   `json:"savings_percent,omitempty" validate:"dive"`
	WalletPercent  decimal.Decimal `json:"wallet_percent"`
	BankPercent    decimal.Decimal `json:"bank_percent"`
	BankAccountID  string          `json:"bank_account_id,omitempty"`
}

// DeclaresPercent reports whether any bucket asked for a percentage share.
func (c SplitConfig) DeclaresPercent() bool {
	if c.WalletPercent.IsPositive() || c.BankPercent.IsPositive() {
		return true
	}
	for _, sp := range c.SavingsPercent {
		if sp.Percent.IsPositive() {
			return true
		}
	}
	return false
}

// HasBankShare reports whether any part of the payout may go to a bank account.
func (c SplitConfig) HasBankShare() bool {
	return c.BankFixed > 0 || c.BankPercent.IsPositive()
}

// GoalIDs lists every goal the config references, in declaration order, without duplicates.
func (c SplitConfig) GoalIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, f := range c.SavingsFixed {
		add(f.GoalID)
	}
	for _, p := range c.SavingsPercent {
		add(p.GoalID)
	}
	return ids
}

// EncodeDestination returns the discriminator and JSON payload for persistence.
func EncodeDestination(d PayoutDestination) (DestinationKind, []byte, error) {
	var (
		payload []byte
		err     error
	)
	switch v := d.(type) {
	case WalletDestination:
		payload = []byte("{}")
	case BankDestination:
		payload, err = json.Marshal(v)
	case SavingsGoalDestination:
		payload, err = json.Marshal(v)
	case SplitDestination:
		payload, err = json.Marshal(v.Config)
	case nil:
		return "", nil, fmt.Errorf("encode destination: destination is nil")
	default:
		return "", nil, fmt.Errorf("encode destination: unsupported type %T", d)
	}
	if err != nil {
		return "", nil, fmt.Errorf("encode destination: %w", err)
	}
	return d.Kind(), payload, nil
}

// DecodeDestination rebuilds a destination from its persisted form.
func DecodeDestination(kind DestinationKind, payload []byte) (PayoutDestination, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	switch kind {
	case DestinationWallet:
		return WalletDestination{}, nil
	case DestinationBank:
		var d BankDestination
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("decode bank destination: %w", err)
		}
		return d, nil
	case DestinationSavingsGoal:
		var d SavingsGoalDestination
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("decode savings goal destination: %w", err)
		}
		return d, nil
	case DestinationSplit:
		var cfg SplitConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, fmt.Errorf("decode split destination: %w", err)
		}
		return SplitDestination{Config: cfg}, nil
	default:
		return nil, fmt.Errorf("decode destination: unknown kind %q", kind)
	}
}

// PreferenceScope distinguishes a user's default preference from a per-circle override.
type PreferenceScope string

const (
	ScopeDefault        PreferenceScope = "default"
	ScopeCircleSpecific PreferenceScope = "circle_specific"
)

// PayoutPreference is a user's standing instruction for where payouts go.
type PayoutPreference struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Scope       PreferenceScope
	CircleID    *uuid.UUID
	Destination PayoutDestination
	UpdatedAt   time.Time
}

// MarshalJSON flattens the destination into a kind plus its config.
func (p PayoutPreference) MarshalJSON() ([]byte, error) {
	kind, payload, err := EncodeDestination(p.Destination)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID          uuid.UUID       `json:"id"`
		UserID      uuid.UUID       `json:"user_id"`
		Scope       PreferenceScope `json:"scope"`
		CircleID    *uuid.UUID      `json:"circle_id,omitempty"`
		Destination DestinationKind `json:"destination"`
		Config      json.RawMessage `json:"destination_config"`
		UpdatedAt   time.Time       `json:"updated_at"`
	}{p.ID, p.UserID, p.Scope, p.CircleID, kind, payload, p.UpdatedAt})
}
