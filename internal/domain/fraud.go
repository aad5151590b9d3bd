// internal/domain/fraud.go
package domain

import "time"

const (
	FraudReviewThreshold = 50
	FraudHoldThreshold   = 70
)

// Fraud flag codes.
const (
	FlagFirstPayout       = "first_payout"
	FlagAmountSpike       = "amount_above_2x_average"
	FlagNewMembership     = "membership_under_14_days"
	FlagUnresolvedDefault = "unresolved_default"
)

// Points each flag contributes.
var FraudFlagPoints = map[string]int{
	FlagFirstPayout:       10,
	FlagAmountSpike:       15,
	FlagNewMembership:     20,
	FlagUnresolvedDefault: 25,
}

type FraudFlag struct {
	Code   string `json:"code"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

// FraudAssessment is an additive risk score. Every flag that contributed is kept.
type FraudAssessment struct {
	Score                int         `json:"score"`
	Flags                []FraudFlag `json:"flags"`
	RequiresManualReview bool        `json:"requires_manual_review"`
	Passed               bool        `json:"passed"`
}

// NewFraudAssessment returns an empty, passing assessment.
func NewFraudAssessment() *FraudAssessment {
	return &FraudAssessment{Flags: []FraudFlag{}, Passed: true}
}

// Raise adds a flag and recomputes the review and pass outcomes.
func (a *FraudAssessment) Raise(code, detail string) {
	points := FraudFlagPoints[code]
	a.Flags = append(a.Flags, FraudFlag{Code: code, Points: points, Detail: detail})
	a.Score += points
	a.RequiresManualReview = a.Score >= FraudReviewThreshold
	a.Passed = a.Score < FraudHoldThreshold
}

// OpsReviewItem is what the operations queue receives for a flagged payout.
type OpsReviewItem struct {
	ExecutionID string      `json:"execution_id"`
	CycleID     string      `json:"cycle_id"`
	UserID      string      `json:"user_id"`
	Score       int         `json:"score"`
	Flags       []FraudFlag `json:"flags"`
	Held        bool        `json:"held"`
	CreatedAt   time.Time   `json:"created_at"`
}
