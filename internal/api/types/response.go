// internal/api/types/response.go
package types

import (
	"payout-ledger/internal/domain"

	"github.com/google/uuid"
)

// PaginatedResponse defines a generic structure for paginated API responses.
type PaginatedResponse[T any] struct {
	Data       []T   `json:"data"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	TotalCount int64 `json:"total_count"`
}

type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PostingResponse is returned by credit and debit.
type PostingResponse struct {
	WalletID      uuid.UUID      `json:"wallet_id"`
	TransactionID uuid.UUID      `json:"transaction_id"`
	Replayed      bool           `json:"replayed"`
	Wallet        *domain.Wallet `json:"wallet"`
}

type ExecutionResponse struct {
	Execution *domain.PayoutExecution `json:"execution"`
	Legs      []domain.PayoutLeg      `json:"legs"`
}
