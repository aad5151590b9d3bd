// internal/repository/transaction_repo.go
package repository

import (
	"context"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// TransactionRepository defines the interface for the append-only wallet transaction log.
type TransactionRepository interface {
	// CreateTransaction appends a row. Returns util.ErrDuplicateEntry when the
	// (reference, type, balance type) tuple is already recorded.
	CreateTransaction(ctx context.Context, q DBExecutor, tx *domain.WalletTransaction) error
	// FindByReference returns every row posted for a (reference, type) tuple.
	FindByReference(ctx context.Context, q DBExecutor, refType, refID string, txType domain.TransactionType) ([]domain.WalletTransaction, error)
	// GetTransactionsByWalletID returns a page of a wallet's transactions, newest first.
	GetTransactionsByWalletID(ctx context.Context, q DBExecutor, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, error)
	CountTransactionsByWalletID(ctx context.Context, q DBExecutor, walletID uuid.UUID) (int64, error)
}
