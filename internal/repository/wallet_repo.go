// internal/repository/wallet_repo.go
package repository

import (
	"context"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// WalletRepository defines the interface for wallet data operations.
type WalletRepository interface {
	// CreateWallet inserts a wallet. Returns util.ErrDuplicateEntry if the user already has one.
	CreateWallet(ctx context.Context, q DBExecutor, wallet *domain.Wallet) error
	GetWalletByID(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.Wallet, error)
	GetWalletByUserID(ctx context.Context, q DBExecutor, userID uuid.UUID) (*domain.Wallet, error)
	// GetWalletForUpdate reads a wallet and locks its row until q's transaction ends.
	GetWalletForUpdate(ctx context.Context, q DBExecutor, id uuid.UUID) (*domain.Wallet, error)
	// UpdateWalletBalances writes all three buckets of wallet.
	UpdateWalletBalances(ctx context.Context, q DBExecutor, wallet *domain.Wallet) error
	UpdateWalletStatus(ctx context.Context, q DBExecutor, id uuid.UUID, status domain.WalletStatus, reason *string) error
}
