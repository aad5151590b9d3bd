// internal/repository/registry_repo.go
package repository

import (
	"context"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// RegistryRepository reads the identity, restriction, default, custodial and
// remittance tables that other subsystems maintain.
type RegistryRepository interface {
	GetIdentityStatus(ctx context.Context, q DBExecutor, userID uuid.UUID) (domain.IdentityStatus, error)
	ListActiveRestrictions(ctx context.Context, q DBExecutor, userID uuid.UUID) ([]string, error)
	CountUnresolvedDefaults(ctx context.Context, q DBExecutor, userID uuid.UUID) (int, error)
	GetCustodialBalance(ctx context.Context, q DBExecutor, accountID string) (int64, error)
	ListRemittanceRecipients(ctx context.Context, q DBExecutor, userID uuid.UUID) ([]domain.RemittanceRecipient, error)
}
