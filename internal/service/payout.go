// internal/service/payout.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/metrics"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"
	"payout-ledger/pkg/db"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const finalizeTimeout = 5 * time.Second

// PayoutConfig tunes the orchestrator.
type PayoutConfig struct {
	PlatformFeeBps       int64
	ExecutionTimeout     time.Duration
	MaxRetries           int
	RetryBaseDelay       time.Duration
	PlatformWalletUserID uuid.UUID
	SuggestionHorizon    time.Duration
	BatchSize            int
}

// PayoutResult is what ExecutePayout reports.
type PayoutResult struct {
	Execution    *domain.PayoutExecution `json:"execution"`
	Distribution *domain.Distribution    `json:"distribution,omitempty"`
	Suggestions  []domain.Suggestion     `json:"suggestions"`
}

// PreferenceInput is the input of UpsertPreference. A nil CircleID sets the default.
type PreferenceInput struct {
	UserID      uuid.UUID
	CircleID    *uuid.UUID
	Destination domain.PayoutDestination
}

// PayoutService drives a cycle's payout from verification to completion.
type PayoutService interface {
	// ExecutePayout disburses the cycle's pool. When verification fails the
	// failed execution is returned together with a *util.VerificationError.
	ExecutePayout(ctx context.Context, cycleID uuid.UUID) (*PayoutResult, error)
	GetExecution(ctx context.Context, executionID uuid.UUID) (*domain.PayoutExecution, []domain.PayoutLeg, error)
	// RetryDue resumes interrupted executions whose backoff has elapsed.
	RetryDue(ctx context.Context, now time.Time) (int, error)
	// RecoverStale fails executions left in executing past the execution timeout.
	RecoverStale(ctx context.Context, now time.Time) (int, error)
	UpsertPreference(ctx context.Context, in PreferenceInput) (*domain.PayoutPreference, error)
	GetEffectivePreference(ctx context.Context, userID uuid.UUID, circleID *uuid.UUID) (*domain.PayoutPreference, error)
}

// PayoutDeps groups the collaborators of PayoutService.
type PayoutDeps struct {
	DB           repository.DBExecutor
	Transactor   db.Transactor
	Ledger       LedgerService
	Verifier     VerificationPipeline
	Planner      DistributionPlanner
	Circles      repository.CircleRepository
	Executions   repository.ExecutionRepository
	Movements    repository.MovementRepository
	Preferences  repository.PreferenceRepository
	Goals        repository.SavingsGoalRepository
	Reservations repository.ReservationRepository
	Wallets      repository.WalletRepository
	Remittance   RemittanceDirectory
	Notifier     Notifier
	OpsQueue     OpsQueue
	Engagement   EngagementPublisher
	Retry        RetryPolicy
	Logger       *zap.Logger
}

type payoutService struct {
	txRunner
	d        PayoutDeps
	cfg      PayoutConfig
	validate *validator.Validate
}

// NewPayoutService creates a new instance of PayoutService.
func NewPayoutService(deps PayoutDeps, cfg PayoutConfig) PayoutService {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 30 * time.Second
	}
	if cfg.SuggestionHorizon <= 0 {
		cfg.SuggestionHorizon = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if deps.Planner == nil {
		deps.Planner = NewDistributionPlanner()
	}
	return &payoutService{
		txRunner: newTxRunner(deps.DB, deps.Transactor, deps.Retry, deps.Logger),
		d:        deps,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// platformFee is floor(gross * bps / 10000).
func (s *payoutService) platformFee(gross int64) int64 {
	if s.cfg.PlatformFeeBps <= 0 || gross <= 0 {
		return 0
	}
	return decimal.NewFromInt(gross).Mul(decimal.NewFromInt(s.cfg.PlatformFeeBps)).Div(decimal.NewFromInt(10000)).Floor().IntPart()
}

func (s *payoutService) ExecutePayout(ctx context.Context, cycleID uuid.UUID) (*PayoutResult, error) {
	timer := prometheus.NewTimer(metrics.PayoutDuration)
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()

	cycle, err := s.d.Circles.GetCycle(ctx, s.db, cycleID)
	if err != nil {
		return nil, fmt.Errorf("execute payout: failed to get cycle %s: %w", cycleID, err)
	}

	resumable, err := s.d.Executions.FindResumableExecution(ctx, s.db, cycleID)
	switch {
	case err == nil:
		return s.resume(ctx, resumable, cycle)
	case !util.IsError(err, util.ErrNotFound):
		return nil, fmt.Errorf("execute payout: failed to look up interrupted execution: %w", err)
	}

	if _, err := s.d.Ledger.EnsureWallet(ctx, cycle.RecipientUserID); err != nil {
		return nil, fmt.Errorf("execute payout: %w", err)
	}

	gross := cycle.CollectedAmount
	exec := domain.NewPayoutExecution(cycle, gross, s.platformFee(gross))
	if err := s.d.Executions.CreateExecution(ctx, s.db, exec); err != nil {
		return nil, fmt.Errorf("execute payout: failed to create execution: %w", err)
	}
	log := s.logger.With(zap.String("execution_id", exec.ID.String()), zap.String("cycle_id", cycleID.String()))
	result := &PayoutResult{Execution: exec, Suggestions: []domain.Suggestion{}}

	verification, err := s.d.Verifier.Verify(ctx, exec)
	if err != nil {
		msg := err.Error()
		exec.Status = domain.ExecutionFailed
		exec.ErrorMessage = &msg
		s.persistDetached(ctx, exec, log)
		metrics.PayoutExecutions.WithLabelValues(string(domain.ExecutionFailed)).Inc()
		return nil, fmt.Errorf("execute payout: %w", err)
	}
	exec.VerificationChecks = verification.Checks
	exec.AllPassed = verification.AllPassed

	if verification.Fraud != nil && verification.Fraud.RequiresManualReview {
		s.enqueueReview(ctx, exec, verification.Fraud, log)
	}

	if !verification.AllPassed {
		reason := verification.FailureReason
		exec.Status = domain.ExecutionFailed
		exec.FailureReason = &reason
		if err := s.d.Executions.UpdateExecution(ctx, s.db, exec); err != nil {
			return nil, fmt.Errorf("execute payout: failed to record verification failure: %w", err)
		}
		metrics.PayoutExecutions.WithLabelValues(string(domain.ExecutionFailed)).Inc()
		return result, verification.Error()
	}

	pref, err := s.GetEffectivePreference(ctx, cycle.RecipientUserID, &cycle.CircleID)
	if err != nil {
		return nil, fmt.Errorf("execute payout: %w", err)
	}
	goals, err := s.d.Goals.ListGoalsByUser(ctx, s.db, cycle.RecipientUserID)
	if err != nil {
		return nil, fmt.Errorf("execute payout: failed to list savings goals: %w", err)
	}
	pctx := PlanContext{Goals: make(map[uuid.UUID]domain.SavingsGoal, len(goals))}
	for _, g := range goals {
		pctx.Goals[g.ID] = g
	}
	dist := s.d.Planner.Plan(exec.NetAmount, pref.Destination, pctx)
	exec.Distribution = &dist
	exec.Status = domain.ExecutionVerified
	if err := s.d.Executions.UpdateExecution(ctx, s.db, exec); err != nil {
		return nil, fmt.Errorf("execute payout: failed to record distribution: %w", err)
	}
	result.Distribution = exec.Distribution
	result.Suggestions = s.suggest(ctx, exec, verification.Snapshot.Wallet, goals, log)

	now := time.Now().UTC()
	if err := s.d.Executions.ClaimExecution(ctx, s.db, exec.ID, domain.ExecutionVerified, now); err != nil {
		if !util.IsError(err, util.ErrDuplicateEntry) && !util.IsError(err, util.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("execute payout: failed to claim cycle: %w", err)
		}
		// another execution holds the cycle
		exec.Status = domain.ExecutionFailed
		exec.AllPassed = false
		exec.VerificationChecks[domain.CheckNoDuplicate] = gate(false, ReasonPayoutInProgress)
		reason := ReasonPayoutInProgress
		exec.FailureReason = &reason
		s.persistDetached(ctx, exec, log)
		metrics.VerificationFailures.WithLabelValues(domain.CheckNoDuplicate).Inc()
		metrics.PayoutExecutions.WithLabelValues(string(domain.ExecutionFailed)).Inc()
		log.Warn("lost cycle claim to a concurrent execution")
		return result, &util.VerificationError{Reason: reason}
	}
	exec.Status = domain.ExecutionExecuting
	exec.StartedAt = &now

	return s.run(ctx, exec, cycle, result, log)
}

// resume continues an execution that already claimed the cycle and may have
// applied some legs. Verification is not repeated.
func (s *payoutService) resume(ctx context.Context, exec *domain.PayoutExecution, cycle *domain.Cycle) (*PayoutResult, error) {
	log := s.logger.With(zap.String("execution_id", exec.ID.String()), zap.String("cycle_id", cycle.ID.String()))
	if exec.RetryCount >= s.cfg.MaxRetries {
		return nil, fmt.Errorf("execute payout: execution %s failed %d times: %w", exec.ID, exec.RetryCount, util.ErrRetryLimitExceeded)
	}
	now := time.Now().UTC()
	if exec.NextRetryAt != nil && now.Before(*exec.NextRetryAt) {
		return nil, fmt.Errorf("execute payout: execution %s may retry at %s: %w", exec.ID, exec.NextRetryAt.Format(time.RFC3339), util.ErrRetryNotDue)
	}

	if err := s.d.Executions.ClaimExecution(ctx, s.db, exec.ID, exec.Status, now); err != nil {
		if util.IsError(err, util.ErrDuplicateEntry) || util.IsError(err, util.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("execute payout: %w", util.ErrExecutionInProgress)
		}
		return nil, fmt.Errorf("execute payout: failed to reclaim execution %s: %w", exec.ID, err)
	}
	exec.Status = domain.ExecutionExecuting
	if exec.StartedAt == nil {
		exec.StartedAt = &now
	}
	log.Info("resuming payout execution", zap.Int("retry_count", exec.RetryCount))

	result := &PayoutResult{Execution: exec, Distribution: exec.Distribution, Suggestions: []domain.Suggestion{}}
	return s.run(ctx, exec, cycle, result, log)
}

// leg is one planned sub-transfer.
type leg struct {
	kind    string
	amount  int64
	goalID  uuid.UUID
	account string
}

func plannedLegs(d *domain.Distribution) []leg {
	var legs []leg
	if d == nil {
		return legs
	}
	if d.ToWallet > 0 {
		legs = append(legs, leg{kind: domain.LegWalletCredit, amount: d.ToWallet})
	}
	for _, g := range d.ToSavingsGoals {
		if g.Amount > 0 {
			legs = append(legs, leg{kind: domain.SavingsLegKind(g.GoalID), amount: g.Amount, goalID: g.GoalID})
		}
	}
	if d.ToBank != nil && d.ToBank.Amount > 0 {
		legs = append(legs, leg{kind: domain.LegBankTransfer, amount: d.ToBank.Amount, account: d.ToBank.AccountID})
	}
	return legs
}

// run applies every unapplied leg, collects the fee and finalizes.
func (s *payoutService) run(ctx context.Context, exec *domain.PayoutExecution, cycle *domain.Cycle, result *PayoutResult, log *zap.Logger) (*PayoutResult, error) {
	applied, err := s.appliedLegs(ctx, s.db, exec.ID)
	if err != nil {
		return s.fail(ctx, exec, result, err, log)
	}
	wallet, err := s.d.Ledger.EnsureWallet(ctx, exec.RecipientUserID)
	if err != nil {
		return s.fail(ctx, exec, result, err, log)
	}

	for _, l := range plannedLegs(exec.Distribution) {
		if applied[l.kind] {
			continue
		}
		if err := s.applyLeg(ctx, exec, wallet.ID, l); err != nil {
			return s.fail(ctx, exec, result, fmt.Errorf("leg %s: %w", l.kind, err), log)
		}
		log.Info("payout leg applied", zap.String("leg", l.kind), zap.Int64("amount", l.amount))
	}

	if exec.PlatformFee > 0 && !applied[domain.LegPlatformFee] {
		if err := s.collectFee(ctx, exec); err != nil {
			log.Warn("platform fee collection failed", zap.Int64("fee", exec.PlatformFee), zap.Error(err))
		}
	}

	completedAt := time.Now().UTC()
	err = s.inTxWithRetry(ctx, "complete payout", func(q repository.DBExecutor) error {
		done := exec.Clone()
		done.Status = domain.ExecutionCompleted
		done.CompletedAt = &completedAt
		done.ErrorMessage = nil
		done.NextRetryAt = nil
		if err := s.d.Executions.UpdateExecutionFrom(ctx, q, done, domain.ExecutionExecuting); err != nil {
			return fmt.Errorf("complete payout: failed to update execution: %w", err)
		}
		if err := s.d.Circles.MarkCyclePayoutCompleted(ctx, q, cycle.ID, exec.ID); err != nil {
			return fmt.Errorf("complete payout: failed to stamp cycle: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, exec, result, err, log)
	}
	exec.Status = domain.ExecutionCompleted
	exec.CompletedAt = &completedAt
	exec.ErrorMessage = nil
	exec.NextRetryAt = nil

	metrics.PayoutExecutions.WithLabelValues(string(domain.ExecutionCompleted)).Inc()
	log.Info("payout completed",
		zap.String("recipient_user_id", exec.RecipientUserID.String()),
		zap.Int64("net_amount", exec.NetAmount),
		zap.Int64("platform_fee", exec.PlatformFee))

	s.announce(ctx, exec, log)
	return result, nil
}

func (s *payoutService) appliedLegs(ctx context.Context, q repository.DBExecutor, executionID uuid.UUID) (map[string]bool, error) {
	legs, err := s.d.Executions.ListLegs(ctx, q, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied legs: %w", err)
	}
	applied := make(map[string]bool, len(legs))
	for _, l := range legs {
		applied[l.LegKind] = true
	}
	return applied, nil
}

func legReference(executionID uuid.UUID, kind string) domain.Reference {
	return domain.Reference{Type: domain.RefTypePayoutLeg, ID: executionID.String() + "/" + kind}
}

// applyLeg commits one leg's postings and its marker together.
func (s *payoutService) applyLeg(ctx context.Context, exec *domain.PayoutExecution, walletID uuid.UUID, l leg) error {
	ref := legReference(exec.ID, l.kind)
	return s.inTxWithRetry(ctx, "apply payout leg", func(q repository.DBExecutor) error {
		applied, err := s.appliedLegs(ctx, q, exec.ID)
		if err != nil {
			return err
		}
		if applied[l.kind] {
			return nil
		}

		credit, err := s.d.Ledger.PostInTx(ctx, q, Posting{
			WalletID:    walletID,
			Type:        domain.TxTypeCirclePayout,
			Reference:   ref,
			Description: "Circle payout",
			Moves:       CreditMove(l.amount),
		})
		if err != nil {
			return err
		}
		marker := &domain.PayoutLeg{
			ExecutionID: exec.ID,
			LegKind:     l.kind,
			Amount:      l.amount,
			AppliedAt:   time.Now().UTC(),
		}
		txID := credit.TransactionID()
		marker.TransactionID = &txID

		switch {
		case l.kind == domain.LegWalletCredit:

		case l.goalID != uuid.Nil:
			goal, err := optional(s.d.Goals.GetGoalByID(ctx, q, l.goalID))
			if err != nil {
				return fmt.Errorf("failed to get savings goal %s: %w", l.goalID, err)
			}
			if goal == nil || !goal.IsOpen() || goal.WalletID != walletID {
				// the goal went away after planning; the credit stays in the wallet
				s.logger.Warn("savings goal unavailable, payout share kept in wallet",
					zap.String("execution_id", exec.ID.String()),
					zap.String("goal_id", l.goalID.String()))
				break
			}
			transfer, err := s.d.Ledger.TransferToSavingsGoalInTx(ctx, q, l.goalID, l.amount, ref)
			if err != nil {
				return err
			}
			txID := transfer.TransactionID()
			marker.TransactionID = &txID

		case l.kind == domain.LegBankTransfer:
			debit, err := s.d.Ledger.PostInTx(ctx, q, Posting{
				WalletID:    walletID,
				Type:        domain.TxTypeBankTransfer,
				Reference:   ref,
				Description: "Transfer to bank account",
				Moves:       DebitMove(l.amount),
			})
			if err != nil {
				return err
			}
			execID := exec.ID
			movement := domain.NewMoneyMovement(&execID, walletID, l.account, l.amount)
			if err := s.d.Movements.CreateMovement(ctx, q, movement); err != nil {
				return fmt.Errorf("failed to record money movement: %w", err)
			}
			txID := debit.TransactionID()
			marker.TransactionID = &txID
			marker.MovementID = &movement.ID
			metrics.MovementTransitions.WithLabelValues(string(domain.MovementPending)).Inc()
		}

		if err := s.d.Executions.CreateLeg(ctx, q, marker); err != nil {
			return fmt.Errorf("failed to record leg: %w", err)
		}
		return nil
	})
}

// collectFee credits the platform wallet with the execution's fee.
func (s *payoutService) collectFee(ctx context.Context, exec *domain.PayoutExecution) error {
	if s.cfg.PlatformWalletUserID == uuid.Nil {
		return errors.New("platform wallet user is not configured")
	}
	platform, err := s.d.Ledger.EnsureWallet(ctx, s.cfg.PlatformWalletUserID)
	if err != nil {
		return err
	}
	return s.inTxWithRetry(ctx, "collect platform fee", func(q repository.DBExecutor) error {
		applied, err := s.appliedLegs(ctx, q, exec.ID)
		if err != nil || applied[domain.LegPlatformFee] {
			return err
		}
		posted, err := s.d.Ledger.PostInTx(ctx, q, Posting{
			WalletID:    platform.ID,
			Type:        domain.TxTypePlatformFee,
			Reference:   legReference(exec.ID, domain.LegPlatformFee),
			Description: "Platform fee",
			Moves:       CreditMove(exec.PlatformFee),
		})
		if err != nil {
			return err
		}
		txID := posted.TransactionID()
		return s.d.Executions.CreateLeg(ctx, q, &domain.PayoutLeg{
			ExecutionID:   exec.ID,
			LegKind:       domain.LegPlatformFee,
			Amount:        exec.PlatformFee,
			TransactionID: &txID,
			AppliedAt:     time.Now().UTC(),
		})
	})
}

// fail records an interrupted execution. Applied legs are kept; the
// execution becomes partial when any of them moved money.
func (s *payoutService) fail(ctx context.Context, exec *domain.PayoutExecution, result *PayoutResult, cause error, log *zap.Logger) (*PayoutResult, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	applied, _ := s.appliedLegs(dctx, s.db, exec.ID)
	s.interrupt(exec, applied, cause)
	next := *exec.NextRetryAt

	s.persistDetached(dctx, exec, log)
	metrics.PayoutExecutions.WithLabelValues(string(exec.Status)).Inc()
	log.Error("payout execution interrupted",
		zap.String("status", string(exec.Status)),
		zap.Int("retry_count", exec.RetryCount),
		zap.Time("next_retry_at", next),
		zap.Error(cause))
	return result, fmt.Errorf("execute payout: %w", cause)
}

// interrupt schedules a retry for an execution that stopped mid-way. It becomes
// partial when any applied leg moved money.
func (s *payoutService) interrupt(exec *domain.PayoutExecution, applied map[string]bool, cause error) {
	exec.Status = domain.ExecutionFailed
	for kind := range applied {
		if kind != domain.LegPlatformFee {
			exec.Status = domain.ExecutionPartial
			break
		}
	}
	exec.RetryCount++
	next := time.Now().UTC().Add(s.retryDelay(exec.RetryCount))
	exec.NextRetryAt = &next
	msg := cause.Error()
	exec.ErrorMessage = &msg
}

// retryDelay is base * 2^(attempt-1).
func (s *payoutService) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return s.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
}

// persistDetached writes exec even when ctx is already cancelled.
func (s *payoutService) persistDetached(ctx context.Context, exec *domain.PayoutExecution, log *zap.Logger) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := s.d.Executions.UpdateExecution(dctx, s.db, exec); err != nil {
		log.Error("failed to persist payout execution", zap.String("status", string(exec.Status)), zap.Error(err))
	}
}

func (s *payoutService) enqueueReview(ctx context.Context, exec *domain.PayoutExecution, fraud *domain.FraudAssessment, log *zap.Logger) {
	log.Info("payout flagged for manual review", zap.Int("fraud_score", fraud.Score), zap.Any("flags", fraud.Flags))
	if s.d.OpsQueue == nil {
		return
	}
	item := domain.OpsReviewItem{
		ExecutionID: exec.ID.String(),
		CycleID:     exec.CycleID.String(),
		UserID:      exec.RecipientUserID.String(),
		Score:       fraud.Score,
		Flags:       fraud.Flags,
		Held:        !fraud.Passed,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.d.OpsQueue.EnqueueReview(ctx, item); err != nil {
		log.Warn("failed to enqueue ops review", zap.Error(err))
	}
}

// announce fires the post-completion side effects. Failures are only logged.
func (s *payoutService) announce(ctx context.Context, exec *domain.PayoutExecution, log *zap.Logger) {
	if s.d.Notifier != nil {
		n := domain.Notification{
			UserID: exec.RecipientUserID,
			Title:  "Payout received",
			Body:   fmt.Sprintf("Your circle payout of %s has arrived.", formatCents(exec.NetAmount)),
		}
		if err := s.d.Notifier.Notify(ctx, n); err != nil {
			log.Warn("failed to send payout notification", zap.Error(err))
		}
	}
	if s.d.Engagement != nil {
		ev := domain.EngagementEvent{
			Type:        "payout_completed",
			UserID:      exec.RecipientUserID,
			CircleID:    exec.CircleID,
			ExecutionID: exec.ID,
			AmountCents: exec.NetAmount,
			OccurredAt:  time.Now().UTC(),
		}
		if err := s.d.Engagement.Publish(ctx, ev); err != nil {
			log.Warn("failed to publish engagement event", zap.Error(err))
		}
	}
}

// suggest builds advisory suggestions. Lookup failures yield no suggestions.
func (s *payoutService) suggest(ctx context.Context, exec *domain.PayoutExecution, wallet *domain.Wallet, goals []domain.SavingsGoal, log *zap.Logger) []domain.Suggestion {
	sctx := SuggestionContext{Wallet: wallet, Goals: goals}
	now := time.Now().UTC()

	upcoming, err := s.d.Circles.ListUpcomingContributions(ctx, s.db, exec.RecipientUserID, now, now.Add(s.cfg.SuggestionHorizon))
	if err != nil {
		log.Warn("suggestions: failed to list upcoming contributions", zap.Error(err))
		return []domain.Suggestion{}
	}
	reserved := map[string]bool{}
	if wallet != nil {
		active, err := s.d.Reservations.ListActiveReservations(ctx, s.db, wallet.ID)
		if err != nil {
			log.Warn("suggestions: failed to list reservations", zap.Error(err))
			return []domain.Suggestion{}
		}
		for _, r := range active {
			reserved[fmt.Sprintf("%s/%d", r.CircleID, r.CycleNumber)] = true
		}
	}
	for _, c := range upcoming {
		if !reserved[fmt.Sprintf("%s/%d", c.CircleID, c.CycleNumber)] {
			sctx.Upcoming = append(sctx.Upcoming, c)
		}
	}

	if s.d.Remittance != nil {
		recipients, err := s.d.Remittance.Recipients(ctx, exec.RecipientUserID)
		if err != nil {
			log.Warn("suggestions: failed to list remittance recipients", zap.Error(err))
		} else {
			sctx.Recipients = recipients
		}
	}
	return s.d.Planner.Suggest(exec.NetAmount, *exec.Distribution, sctx)
}

func (s *payoutService) GetExecution(ctx context.Context, executionID uuid.UUID) (*domain.PayoutExecution, []domain.PayoutLeg, error) {
	exec, err := s.d.Executions.GetExecutionByID(ctx, s.db, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	legs, err := s.d.Executions.ListLegs(ctx, s.db, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get execution %s: failed to list legs: %w", executionID, err)
	}
	return exec, legs, nil
}

func (s *payoutService) RetryDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.d.Executions.ListRetryableExecutions(ctx, s.db, now, s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("retry payouts: failed to list retryable executions: %w", err)
	}
	completed := 0
	seen := map[uuid.UUID]bool{}
	for _, e := range due {
		if seen[e.CycleID] {
			continue
		}
		seen[e.CycleID] = true
		res, err := s.ExecutePayout(ctx, e.CycleID)
		if err != nil {
			s.logger.Warn("payout retry failed", zap.String("cycle_id", e.CycleID.String()), zap.Error(err))
			continue
		}
		if res.Execution.Status == domain.ExecutionCompleted {
			completed++
		}
	}
	return completed, nil
}

func (s *payoutService) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.d.Executions.ListStaleExecutions(ctx, s.db, now.Add(-2*s.cfg.ExecutionTimeout), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("recover payouts: failed to list stale executions: %w", err)
	}
	recovered := 0
	for i := range stale {
		id := stale[i].ID
		log := s.logger.With(zap.String("execution_id", id.String()), zap.String("cycle_id", stale[i].CycleID.String()))
		exec, err := s.recoverOne(ctx, id)
		if err != nil {
			if util.IsError(err, util.ErrConcurrencyConflict) {
				log.Debug("stale execution finished before recovery")
				continue
			}
			log.Error("failed to recover stale execution", zap.Error(err))
			continue
		}
		metrics.PayoutExecutions.WithLabelValues(string(exec.Status)).Inc()
		log.Warn("stale payout execution recovered",
			zap.String("status", string(exec.Status)),
			zap.Int("retry_count", exec.RetryCount))
		recovered++
	}
	return recovered, nil
}

// recoverOne marks a timed-out execution failed or partial, but only while it
// is still executing.
func (s *payoutService) recoverOne(ctx context.Context, id uuid.UUID) (*domain.PayoutExecution, error) {
	var exec *domain.PayoutExecution
	err := s.inTx(ctx, nil, "recover payout", func(q repository.DBExecutor) error {
		cur, err := s.d.Executions.GetExecutionByID(ctx, q, id)
		if err != nil {
			return fmt.Errorf("recover payout: failed to get execution %s: %w", id, err)
		}
		if cur.Status != domain.ExecutionExecuting {
			return fmt.Errorf("recover payout: execution %s is %s: %w", id, cur.Status, util.ErrConcurrencyConflict)
		}
		applied, err := s.appliedLegs(ctx, q, id)
		if err != nil {
			return fmt.Errorf("recover payout: %w", err)
		}
		s.interrupt(cur, applied, errors.New("execution timed out"))
		if err := s.d.Executions.UpdateExecutionFrom(ctx, q, cur, domain.ExecutionExecuting); err != nil {
			return err
		}
		exec = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// UpsertPreference validates and stores a payout preference.
func (s *payoutService) UpsertPreference(ctx context.Context, in PreferenceInput) (*domain.PayoutPreference, error) {
	if in.UserID == uuid.Nil {
		return nil, util.NewValidationError("user_id", "is required")
	}
	if err := s.validateDestination(ctx, in.UserID, in.Destination); err != nil {
		return nil, err
	}

	pref := &domain.PayoutPreference{
		ID:          uuid.New(),
		UserID:      in.UserID,
		Scope:       domain.ScopeDefault,
		Destination: in.Destination,
		UpdatedAt:   time.Now().UTC(),
	}
	if in.CircleID != nil {
		circleID := *in.CircleID
		pref.Scope = domain.ScopeCircleSpecific
		pref.CircleID = &circleID
	}
	if err := s.d.Preferences.UpsertPreference(ctx, s.db, pref); err != nil {
		return nil, fmt.Errorf("upsert preference: %w", err)
	}
	return pref, nil
}

func (s *payoutService) validateDestination(ctx context.Context, userID uuid.UUID, dest domain.PayoutDestination) error {
	switch d := dest.(type) {
	case domain.WalletDestination:
		return nil
	case domain.BankDestination:
		if d.AccountID == "" {
			return util.NewValidationError("account_id", "is required for bank payouts")
		}
		return nil
	case domain.SavingsGoalDestination:
		return s.validateGoal(ctx, userID, d.GoalID)
	case domain.SplitDestination:
		cfg := d.Config
		if err := s.validate.Struct(cfg); err != nil {
			return util.NewValidationError("split_config", err.Error())
		}
		percents := []decimal.Decimal{cfg.WalletPercent, cfg.BankPercent}
		for _, sp := range cfg.SavingsPercent {
			percents = append(percents, sp.Percent)
		}
		for _, p := range percents {
			if p.IsNegative() || p.GreaterThan(hundred) {
				return util.NewValidationError("split_config", "percentages must be between 0 and 100")
			}
		}
		if cfg.HasBankShare() && cfg.BankAccountID == "" {
			return util.NewValidationError("bank_account_id", "is required when a bank share is declared")
		}
		for _, id := range cfg.GoalIDs() {
			if err := s.validateGoal(ctx, userID, id); err != nil {
				return err
			}
		}
		return nil
	default:
		return util.NewValidationError("destination", "is required")
	}
}

func (s *payoutService) validateGoal(ctx context.Context, userID, goalID uuid.UUID) error {
	goal, err := s.d.Goals.GetGoalByID(ctx, s.db, goalID)
	if err != nil {
		if util.IsError(err, util.ErrNotFound) {
			return util.NewValidationError("goal_id", "does not exist")
		}
		return fmt.Errorf("upsert preference: failed to get goal %s: %w", goalID, err)
	}
	if goal.UserID != userID || !goal.IsOpen() {
		return util.NewValidationError("goal_id", "is not an open goal of this user")
	}
	return nil
}

// GetEffectivePreference returns the circle override, else the default, else
// an unsaved wallet preference.
func (s *payoutService) GetEffectivePreference(ctx context.Context, userID uuid.UUID, circleID *uuid.UUID) (*domain.PayoutPreference, error) {
	if circleID != nil {
		pref, err := s.d.Preferences.GetCirclePreference(ctx, s.db, userID, *circleID)
		if err == nil {
			return pref, nil
		}
		if !util.IsError(err, util.ErrNotFound) {
			return nil, fmt.Errorf("failed to get circle preference: %w", err)
		}
	}
	pref, err := s.d.Preferences.GetDefaultPreference(ctx, s.db, userID)
	if err == nil {
		return pref, nil
	}
	if !util.IsError(err, util.ErrNotFound) {
		return nil, fmt.Errorf("failed to get default preference: %w", err)
	}
	return &domain.PayoutPreference{
		UserID:      userID,
		Scope:       domain.ScopeDefault,
		Destination: domain.WalletDestination{},
	}, nil
}
