// internal/repository/postgres/wallet_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
)

const walletColumns = `id, user_id, currency, main_balance, reserved_balance, committed_balance, status, status_reason, created_at, updated_at`

// WalletRepository implements repository.WalletRepository for PostgreSQL.
type WalletRepository struct{}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository() repository.WalletRepository {
	return &WalletRepository{}
}

// CreateWallet inserts a new wallet. A second wallet for the same user is reported as a duplicate.
func (r *WalletRepository) CreateWallet(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
              ON CONFLICT (user_id) DO NOTHING`
	res, err := q.ExecContext(ctx, query,
		wallet.ID, wallet.UserID, wallet.Currency,
		wallet.MainBalance, wallet.ReservedBalance, wallet.CommittedBalance,
		wallet.Status, wallet.StatusReason, wallet.CreatedAt, wallet.UpdatedAt,
	)
	if err != nil {
		return classify("create wallet", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create wallet: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("create wallet for user %s: %w", wallet.UserID, util.ErrDuplicateEntry)
	}
	return nil
}

// GetWalletByID retrieves a wallet by its ID.
func (r *WalletRepository) GetWalletByID(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Wallet, error) {
	return r.getOne(ctx, q, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
}

// GetWalletByUserID retrieves the wallet owned by a user.
func (r *WalletRepository) GetWalletByUserID(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (*domain.Wallet, error) {
	return r.getOne(ctx, q, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
}

// GetWalletForUpdate locks the wallet row for the rest of the transaction.
// The session lock_timeout bounds how long this waits.
func (r *WalletRepository) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, id uuid.UUID) (*domain.Wallet, error) {
	return r.getOne(ctx, q, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
}

func (r *WalletRepository) getOne(ctx context.Context, q repository.DBExecutor, query string, arg interface{}) (*domain.Wallet, error) {
	var wallet domain.Wallet
	if err := q.GetContext(ctx, &wallet, query, arg); err != nil {
		if err = classify(fmt.Sprintf("get wallet %v", arg), err); util.IsError(err, util.ErrNotFound) {
			return nil, util.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// UpdateWalletBalances writes the three bucket balances.
func (r *WalletRepository) UpdateWalletBalances(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet) error {
	wallet.UpdatedAt = time.Now().UTC()
	query := `UPDATE wallets
              SET main_balance = $1, reserved_balance = $2, committed_balance = $3, updated_at = $4
              WHERE id = $5`
	res, err := q.ExecContext(ctx, query,
		wallet.MainBalance, wallet.ReservedBalance, wallet.CommittedBalance, wallet.UpdatedAt, wallet.ID)
	if err != nil {
		return classify(fmt.Sprintf("update balances for wallet %s", wallet.ID), err)
	}
	return expectOneRow(fmt.Sprintf("update balances for wallet %s", wallet.ID), res)
}

// UpdateWalletStatus sets the wallet status and the reason for it.
func (r *WalletRepository) UpdateWalletStatus(ctx context.Context, q repository.DBExecutor, id uuid.UUID, status domain.WalletStatus, reason *string) error {
	query := `UPDATE wallets SET status = $1, status_reason = $2, updated_at = $3 WHERE id = $4`
	res, err := q.ExecContext(ctx, query, status, reason, time.Now().UTC(), id)
	if err != nil {
		return classify(fmt.Sprintf("update status for wallet %s", id), err)
	}
	return expectOneRow(fmt.Sprintf("update status for wallet %s", id), res)
}
