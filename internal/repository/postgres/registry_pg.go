// internal/repository/postgres/registry_pg.go
package postgres

import (
	"context"
	"fmt"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
)

// RegistryRepository implements repository.RegistryRepository for PostgreSQL.
type RegistryRepository struct{}

func NewRegistryRepository() repository.RegistryRepository {
	return &RegistryRepository{}
}

// GetIdentityStatus returns an unverified status for users with no KYC record.
func (r *RegistryRepository) GetIdentityStatus(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (domain.IdentityStatus, error) {
	var st domain.IdentityStatus
	query := `SELECT identity_verified, verified_at FROM identity_verifications WHERE user_id = $1`
	if err := q.GetContext(ctx, &st, query, userID); err != nil {
		if err = classify("get identity status", err); util.IsError(err, util.ErrNotFound) {
			return domain.IdentityStatus{}, nil
		}
		return st, err
	}
	return st, nil
}

func (r *RegistryRepository) ListActiveRestrictions(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) ([]string, error) {
	types := []string{}
	query := `SELECT DISTINCT restriction_type FROM user_restrictions WHERE user_id = $1 AND active ORDER BY restriction_type`
	if err := q.SelectContext(ctx, &types, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list restrictions for user %s: %w", userID, err)
	}
	return types, nil
}

func (r *RegistryRepository) CountUnresolvedDefaults(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (int, error) {
	var n int
	if err := q.GetContext(ctx, &n, `SELECT COUNT(*) FROM default_records WHERE user_id = $1 AND NOT resolved`, userID); err != nil {
		return 0, fmt.Errorf("failed to count defaults for user %s: %w", userID, err)
	}
	return n, nil
}

func (r *RegistryRepository) GetCustodialBalance(ctx context.Context, q repository.DBExecutor, accountID string) (int64, error) {
	var balance int64
	if err := q.GetContext(ctx, &balance, `SELECT cleared_balance FROM custodial_accounts WHERE id = $1`, accountID); err != nil {
		return 0, classify(fmt.Sprintf("get custodial account %s", accountID), err)
	}
	return balance, nil
}

func (r *RegistryRepository) ListRemittanceRecipients(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) ([]domain.RemittanceRecipient, error) {
	out := []domain.RemittanceRecipient{}
	query := `SELECT id, user_id, name, country, created_at FROM remittance_recipients WHERE user_id = $1 ORDER BY created_at`
	if err := q.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list remittance recipients for user %s: %w", userID, err)
	}
	return out, nil
}
