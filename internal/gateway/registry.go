// internal/gateway/registry.go
package gateway

import (
	"context"
	"fmt"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"

	"github.com/google/uuid"
)

// RegistryAdapter answers the identity, restriction, default, custodial and
// remittance queries from the shared registry tables.
type RegistryAdapter struct {
	repo         repository.RegistryRepository
	db           repository.DBExecutor
	fboAccountID string
}

func NewRegistryAdapter(repo repository.RegistryRepository, db repository.DBExecutor, fboAccountID string) *RegistryAdapter {
	return &RegistryAdapter{repo: repo, db: db, fboAccountID: fboAccountID}
}

func (a *RegistryAdapter) IdentityStatus(ctx context.Context, userID uuid.UUID) (domain.IdentityStatus, error) {
	status, err := a.repo.GetIdentityStatus(ctx, a.db, userID)
	if err != nil {
		return domain.IdentityStatus{}, fmt.Errorf("RegistryAdapter.IdentityStatus: failed to read identity for user %s: %w", userID, err)
	}
	return status, nil
}

func (a *RegistryAdapter) ActiveRestrictions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	out, err := a.repo.ListActiveRestrictions(ctx, a.db, userID)
	if err != nil {
		return nil, fmt.Errorf("RegistryAdapter.ActiveRestrictions: failed to list restrictions for user %s: %w", userID, err)
	}
	return out, nil
}

func (a *RegistryAdapter) UnresolvedDefaults(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := a.repo.CountUnresolvedDefaults(ctx, a.db, userID)
	if err != nil {
		return 0, fmt.Errorf("RegistryAdapter.UnresolvedDefaults: failed to count defaults for user %s: %w", userID, err)
	}
	return n, nil
}

// ClearedBalance reads the configured FBO account.
func (a *RegistryAdapter) ClearedBalance(ctx context.Context) (int64, error) {
	bal, err := a.repo.GetCustodialBalance(ctx, a.db, a.fboAccountID)
	if err != nil {
		return 0, fmt.Errorf("RegistryAdapter.ClearedBalance: failed to read custodial account %s: %w", a.fboAccountID, err)
	}
	return bal, nil
}

func (a *RegistryAdapter) Recipients(ctx context.Context, userID uuid.UUID) ([]domain.RemittanceRecipient, error) {
	out, err := a.repo.ListRemittanceRecipients(ctx, a.db, userID)
	if err != nil {
		return nil, fmt.Errorf("RegistryAdapter.Recipients: failed to list recipients for user %s: %w", userID, err)
	}
	return out, nil
}
