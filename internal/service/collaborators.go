// internal/service/collaborators.go
package service

import (
	"context"

	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// External collaborators the core queries or calls. Adapters live in internal/gateway.

type IdentityProvider interface {
	IdentityStatus(ctx context.Context, userID uuid.UUID) (domain.IdentityStatus, error)
}

type RestrictionRegistry interface {
	ActiveRestrictions(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type DefaultRegistry interface {
	UnresolvedDefaults(ctx context.Context, userID uuid.UUID) (int, error)
}

// CustodialAccount reports the cleared balance of the pooled FBO account.
type CustodialAccount interface {
	ClearedBalance(ctx context.Context) (int64, error)
}

type RemittanceDirectory interface {
	Recipients(ctx context.Context, userID uuid.UUID) ([]domain.RemittanceRecipient, error)
}

// BankRail initiates an external transfer and returns the rail's reference.
// A util.ErrTransferRejected error is final; anything else may be retried.
type BankRail interface {
	InitiateTransfer(ctx context.Context, instr domain.TransferInstruction) (string, error)
}

// Notifier delivers push notifications. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// OpsQueue receives payouts that need a human look.
type OpsQueue interface {
	EnqueueReview(ctx context.Context, item domain.OpsReviewItem) error
}

type EngagementPublisher interface {
	Publish(ctx context.Context, event domain.EngagementEvent) error
}
