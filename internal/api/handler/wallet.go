// internal/api/handler/wallet.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"payout-ledger/internal/api/types"
	"payout-ledger/internal/domain"
	"payout-ledger/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletHandler handles HTTP requests related to wallet operations.
type WalletHandler struct {
	responder
	ledger service.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger service.LedgerService, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		responder: newResponder(logger),
		ledger:    ledger,
	}
}

// PostingBody is the request body of credit and debit. ReferenceID makes the
// call idempotent: a repeated reference returns the original posting.
type PostingBody struct {
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id" validate:"required,max=128"`
	Description string          `json:"description" validate:"max=255"`
}

// Credit adds funds to the main balance.
// POST /wallets/{walletID}/credit
func (h *WalletHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, domain.TxTypeDeposit, h.ledger.Credit)
}

// Debit removes funds from the main balance.
// POST /wallets/{walletID}/debit
func (h *WalletHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, domain.TxTypeWithdrawal, h.ledger.Debit)
}

func (h *WalletHandler) post(w http.ResponseWriter, r *http.Request, txType domain.TransactionType,
	apply func(ctx context.Context, req service.PostingRequest) (*service.PostingResult, error)) {
	walletID, err := uuidParam(r, "walletID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var body PostingBody
	if err := h.decodeAndValidate(w, r, &body); err != nil {
		h.respondWithError(w, err)
		return
	}
	cents, err := toCents(body.Amount)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	res, err := apply(r.Context(), service.PostingRequest{
		WalletID:      walletID,
		AmountCents:   cents,
		Type:          txType,
		ReferenceType: domain.RefTypeManual,
		ReferenceID:   body.ReferenceID,
		Description:   body.Description,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	h.respondWithJSON(w, code, types.PostingResponse{
		WalletID:      walletID,
		TransactionID: res.TransactionID(),
		Replayed:      res.Replayed,
		Wallet:        res.Wallet,
	})
}

// GetTransactionHistory handles the get transaction history request.
// GET /wallets/{walletID}/transactions
func (h *WalletHandler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuidParam(r, "walletID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	txs, total, err := h.ledger.GetTransactionHistory(r.Context(), walletID, limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.WalletTransaction]{
		Data:       txs,
		Limit:      limit,
		Offset:     offset,
		TotalCount: total,
	})
}

type StatusBody struct {
	Status string `json:"status" validate:"required,oneof=active frozen suspended closed"`
	Reason string `json:"reason" validate:"max=255"`
}

// SetStatus changes the risk state of a wallet.
// PUT /wallets/{walletID}/status
func (h *WalletHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuidParam(r, "walletID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var body StatusBody
	if err := h.decodeAndValidate(w, r, &body); err != nil {
		h.respondWithError(w, err)
		return
	}
	wallet, err := h.ledger.SetWalletStatus(r.Context(), walletID, domain.WalletStatus(body.Status), body.Reason)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, wallet)
}

// GetUserWallet returns the wallet summary of a user.
// GET /users/{userID}/wallet
func (h *WalletHandler) GetUserWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	summary, err := h.ledger.GetWalletSummary(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, summary)
}
