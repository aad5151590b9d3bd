// internal/service/verification.go
package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/metrics"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"
	"payout-ledger/pkg/db"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const newMembershipWindow = 14 * 24 * time.Hour

// Reasons shown to the recipient when a gating check fails.
const (
	ReasonIdentityNotVerified = "Recipient identity not verified"
	ReasonWalletMissing       = "Recipient wallet not found"
	ReasonWalletNotActive     = "Recipient wallet is not active"
	ReasonRestricted          = "Recipient has an active payout restriction"
	ReasonNoScheduledMember   = "No member is scheduled for this cycle"
	ReasonOutOfOrder          = "Recipient is not next in payout order"
	ReasonCircleNotActive     = "Circle is not active"
	ReasonCycleNotReady       = "Cycle is not ready for payout"
	ReasonAmountInvalid       = "Payout amount is outside the expected range"
	ReasonDuplicatePayout     = "Payout already completed for this cycle"
	ReasonPayoutInProgress    = "Another payout for this cycle is in progress"
	ReasonCustodialShort      = "Insufficient custodial funds"
	ReasonFraudHold           = "Payout held for review"
)

// VerificationConfig tunes the gating rules.
type VerificationConfig struct {
	AmountTolerancePct int64 // allowed deviation of gross from the cycle's expected amount
}

// VerificationSnapshot is the datastore state the checks read. It is loaded
// in one repeatable-read transaction.
type VerificationSnapshot struct {
	Cycle          *domain.Cycle
	Circle         *domain.Circle
	ExpectedMember *domain.Membership
	Membership     *domain.Membership
	Wallet         *domain.Wallet
	Disbursed      bool
	Contributions  domain.ContributionStats
	History        domain.PayoutHistory
}

// externalFacts are the collaborator answers.
type externalFacts struct {
	identity     domain.IdentityStatus
	restrictions []string
	defaults     int
	fboCleared   int64
}

// VerificationResult is the full diagnostic set of one run.
type VerificationResult struct {
	AllPassed     bool
	Checks        domain.VerificationChecks
	FailureReason string
	FailedCheck   string
	Fraud         *domain.FraudAssessment
	Snapshot      *VerificationSnapshot
}

// Error returns the typed failure for a result that did not pass, or nil.
func (r *VerificationResult) Error() error {
	if r.AllPassed {
		return nil
	}
	return &util.VerificationError{Reason: r.FailureReason, FraudHold: r.FailedCheck == domain.CheckFraudScreen}
}

// VerificationPipeline evaluates a payout candidate before any money moves.
type VerificationPipeline interface {
	Verify(ctx context.Context, exec *domain.PayoutExecution) (*VerificationResult, error)
}

type verificationPipeline struct {
	txRunner
	circleRepo    repository.CircleRepository
	walletRepo    repository.WalletRepository
	executionRepo repository.ExecutionRepository
	identity      IdentityProvider
	restrictions  RestrictionRegistry
	defaults      DefaultRegistry
	custodial     CustodialAccount
	cfg           VerificationConfig
}

// NewVerificationPipeline creates a new instance of VerificationPipeline.
func NewVerificationPipeline(
	dbExecutor repository.DBExecutor,
	transactor db.Transactor,
	circleRepo repository.CircleRepository,
	walletRepo repository.WalletRepository,
	executionRepo repository.ExecutionRepository,
	identity IdentityProvider,
	restrictions RestrictionRegistry,
	defaults DefaultRegistry,
	custodial CustodialAccount,
	cfg VerificationConfig,
	logger *zap.Logger,
) VerificationPipeline {
	if cfg.AmountTolerancePct <= 0 {
		cfg.AmountTolerancePct = 10
	}
	return &verificationPipeline{
		txRunner:      newTxRunner(dbExecutor, transactor, RetryPolicy{}, logger),
		circleRepo:    circleRepo,
		walletRepo:    walletRepo,
		executionRepo: executionRepo,
		identity:      identity,
		restrictions:  restrictions,
		defaults:      defaults,
		custodial:     custodial,
		cfg:           cfg,
	}
}

// Verify runs every check without short-circuiting. An error means the
// checks could not be evaluated; a failed check is reported in the result.
func (p *verificationPipeline) Verify(ctx context.Context, exec *domain.PayoutExecution) (*VerificationResult, error) {
	var (
		snap  *VerificationSnapshot
		facts externalFacts
	)
	userID := exec.RecipientUserID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := p.loadSnapshot(gctx, exec)
		snap = s
		return err
	})
	g.Go(func() error {
		st, err := p.identity.IdentityStatus(gctx, userID)
		if err != nil {
			return fmt.Errorf("verify payout: failed to query identity: %w", err)
		}
		facts.identity = st
		return nil
	})
	g.Go(func() error {
		r, err := p.restrictions.ActiveRestrictions(gctx, userID)
		if err != nil {
			return fmt.Errorf("verify payout: failed to query restrictions: %w", err)
		}
		facts.restrictions = r
		return nil
	})
	g.Go(func() error {
		n, err := p.defaults.UnresolvedDefaults(gctx, userID)
		if err != nil {
			return fmt.Errorf("verify payout: failed to query defaults: %w", err)
		}
		facts.defaults = n
		return nil
	})
	g.Go(func() error {
		c, err := p.custodial.ClearedBalance(gctx)
		if err != nil {
			return fmt.Errorf("verify payout: failed to query custodial balance: %w", err)
		}
		facts.fboCleared = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := p.evaluate(exec, snap, facts, time.Now().UTC())
	for key, r := range result.Checks {
		if r.Gating && !r.Passed {
			metrics.VerificationFailures.WithLabelValues(key).Inc()
		}
	}
	metrics.FraudScores.Observe(float64(result.Fraud.Score))
	if !result.AllPassed {
		p.logger.Warn("payout verification failed",
			zap.String("execution_id", exec.ID.String()),
			zap.String("cycle_id", exec.CycleID.String()),
			zap.String("check", result.FailedCheck),
			zap.String("reason", result.FailureReason))
	}
	return result, nil
}

func (p *verificationPipeline) loadSnapshot(ctx context.Context, exec *domain.PayoutExecution) (*VerificationSnapshot, error) {
	snap := &VerificationSnapshot{}
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := p.inTx(ctx, opts, "verify payout", func(q repository.DBExecutor) error {
		cycle, err := p.circleRepo.GetCycle(ctx, q, exec.CycleID)
		if err != nil {
			return fmt.Errorf("verify payout: failed to get cycle %s: %w", exec.CycleID, err)
		}
		snap.Cycle = cycle

		if snap.Circle, err = optional(p.circleRepo.GetCircle(ctx, q, cycle.CircleID)); err != nil {
			return fmt.Errorf("verify payout: failed to get circle: %w", err)
		}
		if snap.ExpectedMember, err = optional(p.circleRepo.GetMemberAtPosition(ctx, q, cycle.CircleID, cycle.CycleNumber)); err != nil {
			return fmt.Errorf("verify payout: failed to get payout order: %w", err)
		}
		if snap.Membership, err = optional(p.circleRepo.GetMembership(ctx, q, cycle.CircleID, exec.RecipientUserID)); err != nil {
			return fmt.Errorf("verify payout: failed to get membership: %w", err)
		}
		if snap.Wallet, err = optional(p.walletRepo.GetWalletByUserID(ctx, q, exec.RecipientUserID)); err != nil {
			return fmt.Errorf("verify payout: failed to get wallet: %w", err)
		}
		if snap.Disbursed, err = p.executionRepo.HasDisbursedForCycle(ctx, q, cycle.ID, exec.ID); err != nil {
			return fmt.Errorf("verify payout: failed to check prior payouts: %w", err)
		}
		if snap.Contributions, err = p.circleRepo.GetContributionStats(ctx, q, cycle.ID); err != nil {
			return fmt.Errorf("verify payout: failed to count contributions: %w", err)
		}
		if snap.History, err = p.executionRepo.GetRecipientHistory(ctx, q, exec.RecipientUserID); err != nil {
			return fmt.Errorf("verify payout: failed to load payout history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// optional turns util.ErrNotFound into a nil value.
func optional[T any](v *T, err error) (*T, error) {
	if util.IsError(err, util.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func gate(passed bool, failure string) domain.CheckResult {
	r := domain.CheckResult{Passed: passed, Gating: true}
	if !passed {
		r.Message = failure
	}
	return r
}

func (p *verificationPipeline) evaluate(exec *domain.PayoutExecution, snap *VerificationSnapshot, facts externalFacts, now time.Time) *VerificationResult {
	checks := domain.VerificationChecks{}

	checks[domain.CheckIdentityVerified] = gate(facts.identity.Verified, ReasonIdentityNotVerified)

	switch {
	case snap.Wallet == nil:
		checks[domain.CheckWalletActive] = gate(false, ReasonWalletMissing)
	default:
		checks[domain.CheckWalletActive] = gate(snap.Wallet.IsActive(), ReasonWalletNotActive)
	}

	blocking := []string{}
	for _, r := range facts.restrictions {
		if r == domain.RestrictionPayoutHold || r == domain.RestrictionSuspension {
			blocking = append(blocking, r)
		}
	}
	checks[domain.CheckNoRestrictions] = gate(len(blocking) == 0, ReasonRestricted)

	switch {
	case snap.ExpectedMember == nil:
		checks[domain.CheckPayoutOrder] = gate(false, ReasonNoScheduledMember)
	default:
		ok := snap.ExpectedMember.UserID == exec.RecipientUserID && snap.Cycle.RecipientUserID == exec.RecipientUserID
		checks[domain.CheckPayoutOrder] = gate(ok, ReasonOutOfOrder)
	}

	checks[domain.CheckCircleActive] = gate(snap.Circle != nil && snap.Circle.Status == domain.CircleStatusActive, ReasonCircleNotActive)
	checks[domain.CheckCycleReady] = gate(snap.Cycle.Status == domain.CycleStatusReadyPayout, ReasonCycleNotReady)

	amount := gate(p.amountWithinTolerance(exec, snap.Cycle), ReasonAmountInvalid)
	amount.Details = map[string]string{
		"gross":    strconv.FormatInt(exec.GrossAmount, 10),
		"net":      strconv.FormatInt(exec.NetAmount, 10),
		"expected": strconv.FormatInt(snap.Cycle.ExpectedAmount, 10),
	}
	checks[domain.CheckAmountValid] = amount

	checks[domain.CheckNoDuplicate] = gate(!snap.Disbursed, ReasonDuplicatePayout)

	fbo := gate(facts.fboCleared >= exec.NetAmount, ReasonCustodialShort)
	checks[domain.CheckFBOSufficient] = fbo

	fraud := scoreFraud(exec, snap, facts, now)
	fraudCheck := gate(fraud.Passed, ReasonFraudHold)
	fraudCheck.Fraud = fraud
	checks[domain.CheckFraudScreen] = fraudCheck

	checks[domain.CheckContributionsComplete] = domain.CheckResult{
		Passed:  snap.Contributions.Complete(),
		Gating:  false,
		Message: fmt.Sprintf("%d of %d contributions received", snap.Contributions.Received, snap.Contributions.Expected),
	}

	result := &VerificationResult{
		Checks:    checks,
		AllPassed: checks.AllGatingPassed(),
		Fraud:     fraud,
		Snapshot:  snap,
	}
	if key, msg, failed := checks.FirstFailure(); failed {
		result.FailedCheck = key
		result.FailureReason = msg
	}
	return result
}

func (p *verificationPipeline) amountWithinTolerance(exec *domain.PayoutExecution, cycle *domain.Cycle) bool {
	if exec.GrossAmount <= 0 || exec.NetAmount <= 0 {
		return false
	}
	expected := decimal.NewFromInt(cycle.ExpectedAmount)
	if !expected.IsPositive() {
		return false
	}
	band := expected.Mul(decimal.NewFromInt(p.cfg.AmountTolerancePct)).Div(hundred)
	diff := decimal.NewFromInt(exec.GrossAmount).Sub(expected).Abs()
	return diff.LessThanOrEqual(band)
}

// scoreFraud adds up the explainable risk flags for the recipient.
func scoreFraud(exec *domain.PayoutExecution, snap *VerificationSnapshot, facts externalFacts, now time.Time) *domain.FraudAssessment {
	a := domain.NewFraudAssessment()

	if snap.History.CompletedCount == 0 {
		a.Raise(domain.FlagFirstPayout, "no completed payouts")
	} else {
		avg := decimal.NewFromInt(snap.History.TotalNet).Div(decimal.NewFromInt(snap.History.CompletedCount))
		if decimal.NewFromInt(exec.NetAmount).GreaterThan(avg.Mul(decimal.NewFromInt(2))) {
			a.Raise(domain.FlagAmountSpike, "average "+avg.StringFixed(0))
		}
	}

	if snap.Membership != nil && now.Sub(snap.Membership.JoinedAt) < newMembershipWindow {
		a.Raise(domain.FlagNewMembership, "joined "+snap.Membership.JoinedAt.Format(time.DateOnly))
	}

	if facts.defaults > 0 {
		a.Raise(domain.FlagUnresolvedDefault, strconv.Itoa(facts.defaults)+" unresolved")
	}
	return a
}
