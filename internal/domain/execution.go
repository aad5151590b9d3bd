// internal/domain/execution.go
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the payout state machine:
// pending -> verified|failed, verified -> executing -> completed|failed|partial.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionVerified  ExecutionStatus = "verified"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPartial   ExecutionStatus = "partial" // some legs applied, rest pending retry
)

// Verification check keys, in evaluation order.
const (
	CheckIdentityVerified      = "identityVerified"
	CheckWalletActive          = "walletActive"
	CheckNoRestrictions        = "noRestrictions"
	CheckPayoutOrder           = "payoutOrder"
	CheckCircleActive          = "circleActive"
	CheckCycleReady            = "cycleReady"
	CheckAmountValid           = "amountValid"
	CheckNoDuplicate           = "noDuplicate"
	CheckFBOSufficient         = "fboSufficient"
	CheckFraudScreen           = "fraudScreen"
	CheckContributionsComplete = "contributionsComplete"
)

// CheckOrder lists every check key in evaluation order.
var CheckOrder = []string{
	CheckIdentityVerified,
	CheckWalletActive,
	CheckNoRestrictions,
	CheckPayoutOrder,
	CheckCircleActive,
	CheckCycleReady,
	CheckAmountValid,
	CheckNoDuplicate,
	CheckFBOSufficient,
	CheckFraudScreen,
	CheckContributionsComplete,
}

// CheckResult is the outcome of one verification check. Informational checks
// have Gating false and never affect AllPassed.
type CheckResult struct {
	Passed  bool              `json:"passed"`
	Gating  bool              `json:"gating"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	Fraud   *FraudAssessment  `json:"fraud,omitempty"`
}

// VerificationChecks is keyed by check name and stored as JSONB.
type VerificationChecks map[string]CheckResult

func (c VerificationChecks) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal verification checks: %w", err)
	}
	return b, nil
}

func (c *VerificationChecks) Scan(src interface{}) error {
	b, err := jsonBytes(src)
	if err != nil || b == nil {
		return err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("unmarshal verification checks: %w", err)
	}
	return nil
}

// AllGatingPassed is the AND of every gating check.
func (c VerificationChecks) AllGatingPassed() bool {
	for _, r := range c {
		if r.Gating && !r.Passed {
			return false
		}
	}
	return true
}

// FirstFailure returns the message of the first failing gating check in evaluation order.
func (c VerificationChecks) FirstFailure() (string, string, bool) {
	for _, key := range CheckOrder {
		r, ok := c[key]
		if ok && r.Gating && !r.Passed {
			return key, r.Message, true
		}
	}
	return "", "", false
}

// Clone returns a deep copy.
func (c VerificationChecks) Clone() VerificationChecks {
	if c == nil {
		return nil
	}
	out := make(VerificationChecks, len(c))
	for k, r := range c {
		if r.Details != nil {
			d := make(map[string]string, len(r.Details))
			for dk, dv := range r.Details {
				d[dk] = dv
			}
			r.Details = d
		}
		if r.Fraud != nil {
			f := *r.Fraud
			f.Flags = append([]FraudFlag{}, r.Fraud.Flags...)
			r.Fraud = &f
		}
		out[k] = r
	}
	return out
}

// PayoutExecution records one attempt to disburse a cycle's pool to its recipient.
type PayoutExecution struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	CycleID            uuid.UUID          `db:"cycle_id" json:"cycle_id"`
	CircleID           uuid.UUID          `db:"circle_id" json:"circle_id"`
	RecipientUserID    uuid.UUID          `db:"recipient_user_id" json:"recipient_user_id"`
	GrossAmount        int64              `db:"gross_amount" json:"gross_amount"`
	PlatformFee        int64              `db:"platform_fee" json:"platform_fee"`
	NetAmount          int64              `db:"net_amount" json:"net_amount"`
	Status             ExecutionStatus    `db:"status" json:"status"`
	VerificationChecks VerificationChecks `db:"verification_checks" json:"verification_checks"`
	AllPassed          bool               `db:"all_passed" json:"all_passed"`
	FailureReason      *string            `db:"failure_reason" json:"failure_reason,omitempty"`
	Distribution       *Distribution      `db:"distribution" json:"distribution,omitempty"`
	RetryCount         int                `db:"retry_count" json:"retry_count"`
	NextRetryAt        *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ErrorMessage       *string            `db:"error_message" json:"error_message,omitempty"`
	StartedAt          *time.Time         `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// NewPayoutExecution creates a pending execution for a cycle.
func NewPayoutExecution(cycle *Cycle, gross, fee int64) *PayoutExecution {
	now := time.Now().UTC()
	return &PayoutExecution{
		ID:              uuid.New(),
		CycleID:         cycle.ID,
		CircleID:        cycle.CircleID,
		RecipientUserID: cycle.RecipientUserID,
		GrossAmount:     gross,
		PlatformFee:     fee,
		NetAmount:       gross - fee,
		Status:          ExecutionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy.
func (e *PayoutExecution) Clone() *PayoutExecution {
	c := *e
	c.VerificationChecks = e.VerificationChecks.Clone()
	c.Distribution = e.Distribution.Clone()
	return &c
}

// Resumable reports whether the execution was interrupted after claiming the cycle.
func (e *PayoutExecution) Resumable() bool {
	return e.Status == ExecutionPartial || (e.Status == ExecutionFailed && e.StartedAt != nil)
}

// Leg kinds. Savings legs are suffixed with the goal id.
const (
	LegWalletCredit  = "wallet_credit"
	LegBankTransfer  = "bank_transfer"
	LegPlatformFee   = "platform_fee"
	legSavingsPrefix = "savings_goal:"
)

// SavingsLegKind returns the leg kind for a transfer into goalID.
func SavingsLegKind(goalID uuid.UUID) string {
	return legSavingsPrefix + goalID.String()
}

// PayoutLeg marks one applied sub-transfer of an execution.
type PayoutLeg struct {
	ExecutionID   uuid.UUID  `db:"execution_id" json:"execution_id"`
	LegKind       string     `db:"leg_kind" json:"leg_kind"`
	Amount        int64      `db:"amount" json:"amount"`
	TransactionID *uuid.UUID `db:"transaction_id" json:"transaction_id,omitempty"`
	MovementID    *uuid.UUID `db:"movement_id" json:"movement_id,omitempty"`
	AppliedAt     time.Time  `db:"applied_at" json:"applied_at"`
}

// PayoutHistory summarizes a recipient's completed payouts.
type PayoutHistory struct {
	CompletedCount int64 `db:"completed_count"`
	TotalNet       int64 `db:"total_net"`
}
