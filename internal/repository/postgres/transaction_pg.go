// internal/repository/postgres/transaction_pg.go
package postgres

import (
	"context"
	"fmt"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"

	"github.com/google/uuid"
)

const transactionColumns = `id, wallet_id, type, direction, balance_type, amount, balance_before, balance_after,
       reference_type, reference_id, description, created_at`

// TransactionRepository implements repository.TransactionRepository for PostgreSQL.
type TransactionRepository struct{}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository() repository.TransactionRepository {
	return &TransactionRepository{}
}

// CreateTransaction appends a row to the wallet transaction log.
func (r *TransactionRepository) CreateTransaction(ctx context.Context, q repository.DBExecutor, tx *domain.WalletTransaction) error {
	query := `INSERT INTO wallet_transactions (` + transactionColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.ExecContext(ctx, query,
		tx.ID,
		tx.WalletID,
		tx.Type,
		tx.Direction,
		tx.BalanceType,
		tx.Amount,
		tx.BalanceBefore,
		tx.BalanceAfter,
		tx.ReferenceType,
		tx.ReferenceID,
		tx.Description,
		tx.CreatedAt,
	)
	if err != nil {
		return classify("failed to create transaction", err)
	}
	return nil
}

// FindByReference returns the rows already posted for a reference and type.
func (r *TransactionRepository) FindByReference(ctx context.Context, q repository.DBExecutor, refType, refID string, txType domain.TransactionType) ([]domain.WalletTransaction, error) {
	txs := []domain.WalletTransaction{}
	query := `SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE reference_type = $1 AND reference_id = $2 AND type = $3
		ORDER BY created_at, balance_type`
	if err := q.SelectContext(ctx, &txs, query, refType, refID, txType); err != nil {
		return nil, fmt.Errorf("failed to find transactions for %s/%s: %w", refType, refID, err)
	}
	return txs, nil
}

// GetTransactionsByWalletID retrieves a page of transactions for a wallet.
func (r *TransactionRepository) GetTransactionsByWalletID(ctx context.Context, q repository.DBExecutor, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, error) {
	txs := []domain.WalletTransaction{}
	query := `SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &txs, query, walletID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for wallet %s: %w", walletID, err)
	}
	return txs, nil
}

// CountTransactionsByWalletID returns the total number of transactions for a wallet.
func (r *TransactionRepository) CountTransactionsByWalletID(ctx context.Context, q repository.DBExecutor, walletID uuid.UUID) (int64, error) {
	var total int64
	if err := q.GetContext(ctx, &total, `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`, walletID); err != nil {
		return 0, fmt.Errorf("failed to count transactions for wallet %s: %w", walletID, err)
	}
	return total, nil
}
