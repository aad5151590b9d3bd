// internal/domain/transaction.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a wallet transaction.
type TransactionType string

const (
	TxTypeDeposit              TransactionType = "deposit"
	TxTypeWithdrawal           TransactionType = "withdrawal"
	TxTypeCirclePayout         TransactionType = "circle_payout"
	TxTypeSavingsTransfer      TransactionType = "savings_transfer"
	TxTypeBankTransfer         TransactionType = "bank_transfer"
	TxTypeBankTransferReversal TransactionType = "bank_transfer_reversal"
	TxTypePlatformFee          TransactionType = "platform_fee"
	TxTypeContributionReserve  TransactionType = "contribution_reserve"
	TxTypeContributionCommit   TransactionType = "contribution_commit"
	TxTypeContributionRelease  TransactionType = "contribution_release"
	TxTypeContributionExpire   TransactionType = "contribution_expire"
)

// Direction of a transaction relative to the wallet as a whole.
type Direction string

const (
	DirectionCredit   Direction = "credit"
	DirectionDebit    Direction = "debit"
	DirectionInternal Direction = "internal" // bucket-to-bucket, total unchanged
)

// Reference types used by the core when posting.
const (
	RefTypePayoutLeg   = "payout_leg"
	RefTypeExecution   = "payout_execution"
	RefTypeReservation = "contribution_reservation"
	RefTypeMovement    = "money_movement"
	RefTypeManual      = "manual"
)

// Reference identifies the business event a posting belongs to.
type Reference struct {
	Type string `json:"reference_type"`
	ID   string `json:"reference_id"`
}

// WalletTransaction is one immutable row of the ledger log. Exactly one row is
// written per bucket mutation.
type WalletTransaction struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	WalletID      uuid.UUID       `db:"wallet_id" json:"wallet_id"`
	Type          TransactionType `db:"type" json:"type"`
	Direction     Direction       `db:"direction" json:"direction"`
	BalanceType   BalanceType     `db:"balance_type" json:"balance_type"`
	Amount        int64           `db:"amount" json:"amount"`
	BalanceBefore int64           `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64           `db:"balance_after" json:"balance_after"`
	ReferenceType string          `db:"reference_type" json:"reference_type"`
	ReferenceID   string          `db:"reference_id" json:"reference_id"`
	Description   *string         `db:"description" json:"description,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// NewWalletTransaction builds a log row for a mutation that has already been
// applied to the in-memory wallet.
func NewWalletTransaction(
	walletID uuid.UUID,
	txType TransactionType,
	direction Direction,
	bt BalanceType,
	amount, before, after int64,
	ref Reference,
	description string,
) *WalletTransaction {
	var desc *string
	if description != "" {
		desc = &description
	}
	return &WalletTransaction{
		ID:            uuid.New(),
		WalletID:      walletID,
		Type:          txType,
		Direction:     direction,
		BalanceType:   bt,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Description:   desc,
		CreatedAt:     time.Now().UTC(),
	}
}
