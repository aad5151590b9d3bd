// internal/api/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"payout-ledger/internal/api/types"
	"payout-ledger/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

const maxBodyBytes = 1 << 20

// responder is embedded by every handler.
type responder struct {
	logger   *zap.Logger
	validate *validator.Validate
}

func newResponder(logger *zap.Logger) responder {
	return responder{logger: logger, validate: validator.New()}
}

func (h responder) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// errorStatus maps a service error to an HTTP status and a client-safe message.
func errorStatus(err error) (int, string) {
	var verr *util.VerificationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, verr.Reason
	case util.IsError(err, util.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case util.IsError(err, util.ErrNotFound), util.IsError(err, util.ErrWalletNotFound):
		return http.StatusNotFound, "Resource not found"
	case util.IsError(err, util.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "Insufficient funds"
	case util.IsError(err, util.ErrWalletNotActive):
		return http.StatusConflict, "Wallet is not active"
	case util.IsError(err, util.ErrInvalidState):
		return http.StatusConflict, "Operation not allowed in the current state"
	case util.IsError(err, util.ErrDuplicateEntry):
		return http.StatusConflict, "Resource already exists"
	case util.IsError(err, util.ErrExecutionInProgress), util.IsError(err, util.ErrConcurrencyConflict):
		return http.StatusConflict, "Payout already in progress"
	case util.IsError(err, util.ErrRetryNotDue):
		return http.StatusTooManyRequests, "Payout retry not yet due"
	case util.IsError(err, util.ErrRetryLimitExceeded):
		return http.StatusTooManyRequests, "Payout retry limit reached"
	case util.IsError(err, util.ErrExternalTransfer):
		return http.StatusBadGateway, "External transfer failed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h responder) respondWithError(w http.ResponseWriter, err error) {
	h.respondWithErrorBody(w, err, nil)
}

// respondWithErrorBody adds extra fields (for example the failed execution) next to the error message.
func (h responder) respondWithErrorBody(w http.ResponseWriter, err error, extra map[string]interface{}) {
	status, message := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("unhandled service error", zap.Error(err))
	}
	body := types.ErrorResponse{Error: message, Details: extra}
	h.respondWithJSON(w, status, body)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// An empty body leaves dst zero-valued.
func (h responder) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return util.NewValidationError("", fmt.Sprintf("malformed request body: %v", err))
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return util.NewValidationError(strings.ToLower(fe.Field()), fmt.Sprintf("failed %q validation", fe.Tag()))
		}
		return util.NewValidationError("", err.Error())
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, util.NewValidationError(name, "must be a UUID")
	}
	return id, nil
}

// MaxAmountCents caps a single request amount at 10 billion in major units.
const MaxAmountCents int64 = 1_000_000_000_000

// toCents converts a major-unit amount such as "12.34" to cents. Sub-cent
// precision, non-positive and oversized amounts are rejected.
func toCents(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, util.NewValidationError("amount", "has more than two decimal places")
	}
	if !cents.IsPositive() {
		return 0, util.NewValidationError("amount", "must be positive")
	}
	if cents.GreaterThan(decimal.NewFromInt(MaxAmountCents)) {
		return 0, util.NewValidationError("amount", fmt.Sprintf("must not exceed %s", decimal.New(MaxAmountCents, -2).StringFixed(2)))
	}
	return cents.IntPart(), nil
}
