// internal/domain/external.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Restriction types that block payouts.
const (
	RestrictionPayoutHold = "payout_hold"
	RestrictionSuspension = "suspension"
)

// IdentityStatus is the KYC outcome for a user.
type IdentityStatus struct {
	Verified   bool       `db:"identity_verified" json:"identity_verified"`
	VerifiedAt *time.Time `db:"verified_at" json:"verified_at,omitempty"`
}

// RemittanceRecipient is someone the user has sent money abroad to before.
type RemittanceRecipient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	Country   string    `db:"country" json:"country"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification is a push message for one user.
type Notification struct {
	UserID uuid.UUID `json:"user_id"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
}

// EngagementEvent is published after money reaches a user.
type EngagementEvent struct {
	Type        string    `json:"type"`
	UserID      uuid.UUID `json:"user_id"`
	CircleID    uuid.UUID `json:"circle_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}
