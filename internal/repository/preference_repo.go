// internal/repository/preference_repo.go
package repository

import (
	"context"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// PreferenceRepository stores payout preferences, one per (user, scope, circle).
type PreferenceRepository interface {
	UpsertPreference(ctx context.Context, q DBExecutor, p *domain.PayoutPreference) error
	GetDefaultPreference(ctx context.Context, q DBExecutor, userID uuid.UUID) (*domain.PayoutPreference, error)
	GetCirclePreference(ctx context.Context, q DBExecutor, userID, circleID uuid.UUID) (*domain.PayoutPreference, error)
}
