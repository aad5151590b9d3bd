// internal/repository/postgres/preference_pg.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"

	"github.com/google/uuid"
)

// preferenceRow is the persisted shape of a domain.PayoutPreference.
type preferenceRow struct {
	ID                uuid.UUID              `db:"id"`
	UserID            uuid.UUID              `db:"user_id"`
	Scope             domain.PreferenceScope `db:"scope"`
	CircleID          *uuid.UUID             `db:"circle_id"`
	Destination       domain.DestinationKind `db:"destination"`
	DestinationConfig []byte                 `db:"destination_config"`
	UpdatedAt         time.Time              `db:"updated_at"`
}

func (row preferenceRow) toDomain() (*domain.PayoutPreference, error) {
	dest, err := domain.DecodeDestination(row.Destination, row.DestinationConfig)
	if err != nil {
		return nil, fmt.Errorf("preference %s: %w", row.ID, err)
	}
	return &domain.PayoutPreference{
		ID:          row.ID,
		UserID:      row.UserID,
		Scope:       row.Scope,
		CircleID:    row.CircleID,
		Destination: dest,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// PreferenceRepository implements repository.PreferenceRepository for PostgreSQL.
type PreferenceRepository struct{}

func NewPreferenceRepository() repository.PreferenceRepository {
	return &PreferenceRepository{}
}

// UpsertPreference inserts or replaces the preference for (user, scope, circle).
func (r *PreferenceRepository) UpsertPreference(ctx context.Context, q repository.DBExecutor, p *domain.PayoutPreference) error {
	kind, payload, err := domain.EncodeDestination(p.Destination)
	if err != nil {
		return err
	}
	query := `INSERT INTO payout_preferences (id, user_id, scope, circle_id, destination, destination_config, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)
              ON CONFLICT (user_id, scope, COALESCE(circle_id, '00000000-0000-0000-0000-000000000000'::uuid))
              DO UPDATE SET destination = EXCLUDED.destination,
                            destination_config = EXCLUDED.destination_config,
                            updated_at = EXCLUDED.updated_at
              RETURNING id`
	if err := q.GetContext(ctx, &p.ID, query, p.ID, p.UserID, p.Scope, p.CircleID, kind, payload, p.UpdatedAt); err != nil {
		return classify("upsert payout preference", err)
	}
	return nil
}

func (r *PreferenceRepository) GetDefaultPreference(ctx context.Context, q repository.DBExecutor, userID uuid.UUID) (*domain.PayoutPreference, error) {
	var row preferenceRow
	query := `SELECT id, user_id, scope, circle_id, destination, destination_config, updated_at
              FROM payout_preferences WHERE user_id = $1 AND scope = 'default'`
	if err := q.GetContext(ctx, &row, query, userID); err != nil {
		return nil, classify("get default preference", err)
	}
	return row.toDomain()
}

func (r *PreferenceRepository) GetCirclePreference(ctx context.Context, q repository.DBExecutor, userID, circleID uuid.UUID) (*domain.PayoutPreference, error) {
	var row preferenceRow
	query := `SELECT id, user_id, scope, circle_id, destination, destination_config, updated_at
              FROM payout_preferences WHERE user_id = $1 AND scope = 'circle_specific' AND circle_id = $2`
	if err := q.GetContext(ctx, &row, query, userID, circleID); err != nil {
		return nil, classify("get circle preference", err)
	}
	return row.toDomain()
}
