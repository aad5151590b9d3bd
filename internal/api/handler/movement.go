// internal/api/handler/movement.go
package handler

import (
	"net/http"

	"payout-ledger/internal/service"

	"go.uber.org/zap"
)

// MovementHandler receives bank rail callbacks.
type MovementHandler struct {
	responder
	reconciler service.MovementReconciler
}

func NewMovementHandler(reconciler service.MovementReconciler, logger *zap.Logger) *MovementHandler {
	return &MovementHandler{responder: newResponder(logger), reconciler: reconciler}
}

// Settle marks a submitted transfer as settled.
// POST /money-movements/{movementID}/settle
func (h *MovementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "movementID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	m, err := h.reconciler.MarkSettled(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, m)
}

// Reject fails a transfer and credits the amount back to the wallet.
// POST /money-movements/{movementID}/reject
func (h *MovementHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "movementID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var body ReasonBody
	if err := h.decodeAndValidate(w, r, &body); err != nil {
		h.respondWithError(w, err)
		return
	}
	m, err := h.reconciler.MarkRejected(r.Context(), id, body.Reason)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, m)
}
