// internal/api/handler/reservation.go
package handler

import (
	"net/http"
	"time"

	"payout-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReservationHandler struct {
	responder
	reservations service.ReservationService
}

func NewReservationHandler(reservations service.ReservationService, logger *zap.Logger) *ReservationHandler {
	return &ReservationHandler{responder: newResponder(logger), reservations: reservations}
}

// Sweep reserves funds for the user's contributions due within the horizon.
// POST /users/{userID}/reservations/sweep
func (h *ReservationHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	result, err := h.reservations.SweepAutoReservations(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

type ReserveBody struct {
	CircleID    string          `json:"circle_id" validate:"required,uuid"`
	CycleNumber int             `json:"cycle_number" validate:"required,gte=1"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     time.Time       `json:"due_date" validate:"required"`
}

// Reserve earmarks funds for one contribution.
// POST /wallets/{walletID}/reservations
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuidParam(r, "walletID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var body ReserveBody
	if err := h.decodeAndValidate(w, r, &body); err != nil {
		h.respondWithError(w, err)
		return
	}
	cents, err := toCents(body.Amount)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	res, err := h.reservations.Reserve(r.Context(), walletID, uuid.MustParse(body.CircleID), body.CycleNumber, cents, body.DueDate)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, res)
}

// Use commits a reservation to the contribution it was made for.
// POST /reservations/{reservationID}/use
func (h *ReservationHandler) Use(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "reservationID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	res, err := h.reservations.Use(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

type ReasonBody struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Release returns reserved funds to the main balance.
// POST /reservations/{reservationID}/release
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "reservationID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var body ReasonBody
	if err := h.decodeAndValidate(w, r, &body); err != nil {
		h.respondWithError(w, err)
		return
	}
	res, err := h.reservations.Release(r.Context(), id, body.Reason)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}
