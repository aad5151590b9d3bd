// internal/domain/wallet.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletStatus is the risk/ops state of a wallet. Only active wallets accept mutations.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusFrozen    WalletStatus = "frozen"
	WalletStatusSuspended WalletStatus = "suspended"
	WalletStatusClosed    WalletStatus = "closed"
)

// Valid reports whether s is a known wallet status.
func (s WalletStatus) Valid() bool {
	switch s {
	case WalletStatusActive, WalletStatusFrozen, WalletStatusSuspended, WalletStatusClosed:
		return true
	}
	return false
}

// BalanceType names one of the three wallet buckets.
type BalanceType string

const (
	BalanceMain      BalanceType = "main"
	BalanceReserved  BalanceType = "reserved"
	BalanceCommitted BalanceType = "committed"
)

// Wallet holds a user's cash split across main, reserved and committed buckets.
// All amounts are integer cents.
type Wallet struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	UserID           uuid.UUID    `db:"user_id" json:"user_id"`
	Currency         string       `db:"currency" json:"currency"`
	MainBalance      int64        `db:"main_balance" json:"main_balance"`
	ReservedBalance  int64        `db:"reserved_balance" json:"reserved_balance"`
	CommittedBalance int64        `db:"committed_balance" json:"committed_balance"`
	Status           WalletStatus `db:"status" json:"status"`
	StatusReason     *string      `db:"status_reason" json:"status_reason,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// NewWallet creates an empty active wallet for userID.
func NewWallet(userID uuid.UUID, currency string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Status:    WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total is main + reserved + committed.
func (w *Wallet) Total() int64 {
	return w.MainBalance + w.ReservedBalance + w.CommittedBalance
}

// Available is what the user can spend right now.
func (w *Wallet) Available() int64 {
	return w.MainBalance
}

func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// Balance returns the current value of bucket bt.
func (w *Wallet) Balance(bt BalanceType) int64 {
	switch bt {
	case BalanceReserved:
		return w.ReservedBalance
	case BalanceCommitted:
		return w.CommittedBalance
	default:
		return w.MainBalance
	}
}

// Apply adds delta to bucket bt. When the bucket would go negative nothing is
// changed and ok is false.
func (w *Wallet) Apply(bt BalanceType, delta int64) (before, after int64, ok bool) {
	before = w.Balance(bt)
	after = before + delta
	if after < 0 {
		return before, before, false
	}
	switch bt {
	case BalanceReserved:
		w.ReservedBalance = after
	case BalanceCommitted:
		w.CommittedBalance = after
	default:
		w.MainBalance = after
	}
	return before, after, true
}
