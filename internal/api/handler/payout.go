// internal/api/handler/payout.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"payout-ledger/internal/api/types"
	"payout-ledger/internal/domain"
	"payout-ledger/internal/service"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayoutHandler serves payout execution and payout preference endpoints.
type PayoutHandler struct {
	responder
	payouts service.PayoutService
}

func NewPayoutHandler(payouts service.PayoutService, logger *zap.Logger) *PayoutHandler {
	return &PayoutHandler{responder: newResponder(logger), payouts: payouts}
}

// Execute disburses a cycle's pool to its recipient.
// POST /payouts/cycles/{cycleID}/execute
func (h *PayoutHandler) Execute(w http.ResponseWriter, r *http.Request) {
	cycleID, err := uuidParam(r, "cycleID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	result, err := h.payouts.ExecutePayout(r.Context(), cycleID)
	if err != nil {
		var extra map[string]interface{}
		if result != nil && result.Execution != nil {
			extra = map[string]interface{}{"execution": result.Execution}
		}
		var verr *util.VerificationError
		if errors.As(err, &verr) {
			h.logger.Info("payout verification failed",
				zap.String("cycle_id", cycleID.String()),
				zap.String("reason", verr.Reason),
				zap.Bool("fraud_hold", verr.FraudHold))
		}
		h.respondWithErrorBody(w, err, extra)
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

// GetExecution returns an execution and its legs.
// GET /payouts/executions/{executionID}
func (h *PayoutHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuidParam(r, "executionID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	exec, legs, err := h.payouts.GetExecution(r.Context(), executionID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if legs == nil {
		legs = []domain.PayoutLeg{}
	}
	h.respondWithJSON(w, http.StatusOK, types.ExecutionResponse{Execution: exec, Legs: legs})
}

// PreferenceBody sets the default preference, or a circle override when CircleID is set.
type PreferenceBody struct {
	CircleID          string          `json:"circle_id" validate:"omitempty,uuid"`
	Destination       string          `json:"destination" validate:"required,oneof=wallet bank savings_goal split"`
	DestinationConfig json.RawMessage `json:"destination_config"`
}

// PutPreference stores a payout preference.
// PUT /users/{userID}/payout-preference
func (h *PayoutHandler) PutPreference(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var body PreferenceBody
	if err := h.decodeAndValidate(w, r, &body); err != nil {
		h.respondWithError(w, err)
		return
	}
	dest, err := domain.DecodeDestination(domain.DestinationKind(body.Destination), body.DestinationConfig)
	if err != nil {
		h.respondWithError(w, util.NewValidationError("destination_config", err.Error()))
		return
	}

	in := service.PreferenceInput{UserID: userID, Destination: dest}
	if body.CircleID != "" {
		circleID := uuid.MustParse(body.CircleID)
		in.CircleID = &circleID
	}
	pref, err := h.payouts.UpsertPreference(r.Context(), in)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, pref)
}

// GetPreference returns the preference that would apply to a payout,
// optionally for a specific circle (?circle_id=).
// GET /users/{userID}/payout-preference
func (h *PayoutHandler) GetPreference(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var circleID *uuid.UUID
	if raw := r.URL.Query().Get("circle_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondWithError(w, util.NewValidationError("circle_id", "must be a UUID"))
			return
		}
		circleID = &id
	}
	pref, err := h.payouts.GetEffectivePreference(r.Context(), userID, circleID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, pref)
}
