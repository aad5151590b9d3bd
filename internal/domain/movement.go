// internal/domain/movement.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MovementStatus tracks an outbound bank transfer recorded in the outbox.
type MovementStatus string

const (
	MovementPending   MovementStatus = "pending"
	MovementSubmitted MovementStatus = "submitted"
	MovementSettled   MovementStatus = "settled"
	MovementFailed    MovementStatus = "failed"
)

// MoneyMovement is an outbox row written in the same transaction as the wallet
// debit it pays out. The reconciler hands it to the bank rail later.
type MoneyMovement struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	ExecutionID   *uuid.UUID     `db:"execution_id" json:"execution_id,omitempty"`
	WalletID      uuid.UUID      `db:"wallet_id" json:"wallet_id"`
	BankAccountID string         `db:"bank_account_id" json:"bank_account_id"`
	Amount        int64          `db:"amount" json:"amount"`
	Status        MovementStatus `db:"status" json:"status"`
	Attempts      int            `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time      `db:"next_attempt_at" json:"next_attempt_at"`
	ExternalRef   *string        `db:"external_ref" json:"external_ref,omitempty"`
	LastError     *string        `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// NewMoneyMovement creates a pending movement that is immediately due.
func NewMoneyMovement(executionID *uuid.UUID, walletID uuid.UUID, bankAccountID string, amount int64) *MoneyMovement {
	now := time.Now().UTC()
	return &MoneyMovement{
		ID:            uuid.New(),
		ExecutionID:   executionID,
		WalletID:      walletID,
		BankAccountID: bankAccountID,
		Amount:        amount,
		Status:        MovementPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Terminal reports whether the movement can no longer change.
func (m *MoneyMovement) Terminal() bool {
	return m.Status == MovementSettled || m.Status == MovementFailed
}

// TransferInstruction is what the bank rail receives.
type TransferInstruction struct {
	MovementID    uuid.UUID         `json:"movement_id"`
	WalletID      uuid.UUID         `json:"wallet_id"`
	BankAccountID string            `json:"bank_account_id"`
	AmountCents   int64             `json:"amount_cents"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
