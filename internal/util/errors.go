// internal/util/errors.go
package util

import (
	"errors"
	"fmt"
)

// Common application-specific errors.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input provided")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrWalletNotFound      = fmt.Errorf("wallet %w", ErrNotFound)
	ErrWalletNotActive     = errors.New("wallet is not active")
	ErrDuplicateEntry      = errors.New("duplicate entry")
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrVerificationFailed  = errors.New("payout verification failed")
	ErrFraudHold           = errors.New("payout held for review")
	ErrExternalTransfer    = errors.New("external transfer failed")
	ErrTransferRejected    = errors.New("external transfer rejected")
	ErrExecutionInProgress = errors.New("payout execution already in progress")
	ErrRetryLimitExceeded  = errors.New("payout retry limit exceeded")
	ErrRetryNotDue         = errors.New("payout retry not yet due")
)

// IsError reports whether any error in err's chain matches target.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// ValidationError describes malformed input rejected before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidInput, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// VerificationError is returned when a gating payout check failed. Reason is
// safe to show to the recipient.
type VerificationError struct {
	Reason    string
	FraudHold bool
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrVerificationFailed, e.Reason)
}

func (e *VerificationError) Is(target error) bool {
	if target == ErrVerificationFailed {
		return true
	}
	return e.FraudHold && target == ErrFraudHold
}
