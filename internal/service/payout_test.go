// internal/service/payout_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errLedgerUnavailable = errors.New("ledger unavailable")

// flakyLedger fails the first failures postings of failType.
type flakyLedger struct {
	LedgerService
	failType domain.TransactionType
	failures int32
}

func (l *flakyLedger) PostInTx(ctx context.Context, q repository.DBExecutor, p Posting) (*PostingResult, error) {
	if p.Type == l.failType && atomic.AddInt32(&l.failures, -1) >= 0 {
		return nil, errLedgerUnavailable
	}
	return l.LedgerService.PostInTx(ctx, q, p)
}

func (f *fixture) setDefaultPreference(t *testing.T, userID uuid.UUID, dest domain.PayoutDestination) {
	t.Helper()
	_, err := f.payouts.UpsertPreference(context.Background(), PreferenceInput{UserID: userID, Destination: dest})
	require.NoError(t, err)
}

func legKinds(legs []domain.PayoutLeg) []string {
	kinds := make([]string, 0, len(legs))
	for _, l := range legs {
		kinds = append(kinds, l.LegKind)
	}
	return kinds
}

func TestExecutePayout_WalletPreference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)

	res, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	require.NoError(t, err)

	exec := res.Execution
	assert.Equal(t, domain.ExecutionCompleted, exec.Status)
	assert.True(t, exec.AllPassed)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.CompletedAt)
	require.NotNil(t, res.Distribution)
	assert.Equal(t, int64(50000), res.Distribution.ToWallet)
	assert.Empty(t, res.Distribution.ToSavingsGoals)
	assert.Nil(t, res.Distribution.ToBank)
	assert.NotNil(t, res.Suggestions)

	wallet := f.walletOf(t, sc.recipient)
	assert.Equal(t, int64(50000), wallet.MainBalance)
	assert.Equal(t, wallet.Total(), f.ledgerSum(t, wallet.ID))

	cycle, err := f.store.Circles().GetCycle(ctx, f.store, sc.cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CycleStatusPayoutCompleted, cycle.Status)
	require.NotNil(t, cycle.PayoutExecutionID)
	assert.Equal(t, exec.ID, *cycle.PayoutExecutionID)

	stored, legs, err := f.payouts.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, stored.Status)
	assert.Equal(t, []string{domain.LegWalletCredit}, legKinds(legs))

	f.notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n domain.Notification) bool {
		return n.UserID == sc.recipient && n.Title == "Payout received"
	}))
	f.engagement.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(ev domain.EngagementEvent) bool {
		return ev.Type == "payout_completed" && ev.ExecutionID == exec.ID && ev.AmountCents == 50000
	}))
	f.ops.AssertNotCalled(t, "EnqueueReview", mock.Anything, mock.Anything)
}

func TestExecutePayout_UnverifiedRecipientLeavesWalletUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)
	f.store.SetIdentity(sc.recipient, false)

	res, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	require.Error(t, err)
	var verr *util.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonIdentityNotVerified, verr.Reason)

	require.NotNil(t, res)
	assert.Equal(t, domain.ExecutionFailed, res.Execution.Status)
	assert.False(t, res.Execution.AllPassed)
	require.NotNil(t, res.Execution.FailureReason)
	assert.Equal(t, ReasonIdentityNotVerified, *res.Execution.FailureReason)

	stored, legs, err := f.payouts.GetExecution(ctx, res.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, stored.Status)
	assert.Empty(t, legs)

	wallet := f.walletOf(t, sc.recipient)
	assert.Zero(t, wallet.Total())
	f.engagement.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestExecutePayout_SecondRunIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)

	_, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	require.NoError(t, err)

	_, err = f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	assert.True(t, util.IsError(err, util.ErrVerificationFailed))
	assert.Equal(t, int64(50000), f.walletOf(t, sc.recipient).MainBalance)
}

func TestExecutePayout_ConcurrentCallsPayOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)
	_, err := f.ledger.EnsureWallet(ctx, sc.recipient)
	require.NoError(t, err)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Execution.Status == domain.ExecutionCompleted:
				completed++
			case util.IsError(err, util.ErrVerificationFailed):
				rejected++
			default:
				t.Errorf("unexpected outcome: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, callers-1, rejected)

	history, err := f.store.Executions().GetRecipientHistory(ctx, f.store, sc.recipient)
	require.NoError(t, err)
	assert.Equal(t, int64(1), history.CompletedCount)
	assert.Equal(t, int64(50000), f.walletOf(t, sc.recipient).MainBalance)
}

func TestExecutePayout_PlatformFee(t *testing.T) {
	f := newFixture(t, withFeeBps(100))
	ctx := context.Background()
	sc := f.seedReadyCycle(t)

	res, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	require.NoError(t, err)

	exec := res.Execution
	assert.Equal(t, int64(50000), exec.GrossAmount)
	assert.Equal(t, int64(500), exec.PlatformFee)
	assert.Equal(t, int64(49500), exec.NetAmount)
	assert.Equal(t, int64(49500), f.walletOf(t, sc.recipient).MainBalance)
	assert.Equal(t, int64(500), f.walletOf(t, f.platformUser).MainBalance)

	_, legs, err := f.payouts.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{domain.LegWalletCredit, domain.LegPlatformFee}, legKinds(legs))
}

func TestExecutePayout_BankLegQueuesMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)
	f.setDefaultPreference(t, sc.recipient, domain.BankDestination{AccountID: "acct-B"})

	res, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Distribution.ToBank)
	assert.Equal(t, int64(45000), res.Distribution.ToBank.Amount)

	wallet := f.walletOf(t, sc.recipient)
	assert.Equal(t, int64(5000), wallet.MainBalance)
	assert.Equal(t, wallet.Total(), f.ledgerSum(t, wallet.ID))

	_, legs, err := f.payouts.GetExecution(ctx, res.Execution.ID)
	require.NoError(t, err)
	var movementID *uuid.UUID
	for _, l := range legs {
		if l.LegKind == domain.LegBankTransfer {
			movementID = l.MovementID
		}
	}
	require.NotNil(t, movementID)
	movement, err := f.store.Movements().GetMovementByID(ctx, f.store, *movementID)
	require.NoError(t, err)
	assert.Equal(t, domain.MovementPending, movement.Status)
	assert.Equal(t, int64(45000), movement.Amount)
	assert.Equal(t, "acct-B", movement.BankAccountID)
}

func TestExecutePayout_SplitIntoSavingsGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)
	goal := f.createGoal(t, sc.recipient, domain.GoalTypeEducation, 100000)
	f.setDefaultPreference(t, sc.recipient, domain.SplitDestination{Config: domain.SplitConfig{
		SavingsFixed:  []domain.GoalAmount{{GoalID: goal.ID, Amount: 10000}},
		WalletPercent: decimal.NewFromInt(100),
	}})

	res, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.Execution.Status)

	assert.Equal(t, int64(40000), f.walletOf(t, sc.recipient).MainBalance)
	g, err := f.store.SavingsGoals().GetGoalByID(ctx, f.store, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), g.CurrentBalance)

	_, legs, err := f.payouts.GetExecution(ctx, res.Execution.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{domain.LegWalletCredit, domain.SavingsLegKind(goal.ID)}, legKinds(legs))
}

func TestExecutePayout_PartialThenResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)
	f.setDefaultPreference(t, sc.recipient, domain.BankDestination{AccountID: "acct-B"})

	deps := f.payoutDeps
	deps.Ledger = &flakyLedger{LedgerService: f.ledger, failType: domain.TxTypeBankTransfer, failures: 1}
	svc := NewPayoutService(deps, f.payoutCfg)

	res, err := svc.ExecutePayout(ctx, sc.cycle.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errLedgerUnavailable))
	exec := res.Execution
	assert.Equal(t, domain.ExecutionPartial, exec.Status)
	assert.Equal(t, 1, exec.RetryCount)
	require.NotNil(t, exec.NextRetryAt)
	assert.Equal(t, int64(5000), f.walletOf(t, sc.recipient).MainBalance)

	_, err = svc.ExecutePayout(ctx, sc.cycle.ID)
	assert.True(t, util.IsError(err, util.ErrRetryNotDue))

	stored, err := f.store.Executions().GetExecutionByID(ctx, f.store, exec.ID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Second)
	stored.NextRetryAt = &past
	require.NoError(t, f.store.Executions().UpdateExecution(ctx, f.store, stored))

	n, err := svc.RetryDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done, legs, err := svc.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, done.Status)
	assert.ElementsMatch(t, []string{domain.LegWalletCredit, domain.LegBankTransfer}, legKinds(legs))

	wallet := f.walletOf(t, sc.recipient)
	assert.Equal(t, int64(5000), wallet.MainBalance)
	assert.Equal(t, wallet.Total(), f.ledgerSum(t, wallet.ID))

	txs, err := f.store.Transactions().GetTransactionsByWalletID(ctx, f.store, wallet.ID, 100, 0)
	require.NoError(t, err)
	var credited int64
	for _, tx := range txs {
		if tx.Type == domain.TxTypeCirclePayout {
			credited += tx.Amount
		}
	}
	assert.Equal(t, int64(50000), credited)
}

func TestExecutePayout_RetryLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)

	started := time.Now().UTC().Add(-time.Hour)
	exec := domain.NewPayoutExecution(&sc.cycle, 50000, 0)
	exec.Status = domain.ExecutionFailed
	exec.StartedAt = &started
	exec.RetryCount = f.payoutCfg.MaxRetries
	require.NoError(t, f.store.Executions().CreateExecution(ctx, f.store, exec))

	_, err := f.payouts.ExecutePayout(ctx, sc.cycle.ID)
	assert.True(t, util.IsError(err, util.ErrRetryLimitExceeded))

	n, err := f.payouts.RetryDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)

	started := time.Now().UTC().Add(-time.Hour)
	exec := domain.NewPayoutExecution(&sc.cycle, 50000, 0)
	exec.Status = domain.ExecutionExecuting
	exec.StartedAt = &started
	require.NoError(t, f.store.Executions().CreateExecution(ctx, f.store, exec))

	n, err := f.payouts.RecoverStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.Executions().GetExecutionByID(ctx, f.store, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "execution timed out", *stored.ErrorMessage)
	assert.True(t, stored.Resumable())
}

// completingExecutions finishes every stale execution right after it is listed.
type completingExecutions struct {
	repository.ExecutionRepository
	q repository.DBExecutor
}

func (c completingExecutions) ListStaleExecutions(ctx context.Context, q repository.DBExecutor, startedBefore time.Time, limit int) ([]domain.PayoutExecution, error) {
	stale, err := c.ExecutionRepository.ListStaleExecutions(ctx, q, startedBefore, limit)
	for i := range stale {
		done := stale[i].Clone()
		done.Status = domain.ExecutionCompleted
		if uerr := c.ExecutionRepository.UpdateExecution(ctx, c.q, done); uerr != nil {
			return nil, uerr
		}
	}
	return stale, err
}

func TestRecoverStale_KeepsExecutionThatCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.seedReadyCycle(t)

	started := time.Now().UTC().Add(-time.Hour)
	exec := domain.NewPayoutExecution(&sc.cycle, 50000, 0)
	exec.Status = domain.ExecutionExecuting
	exec.StartedAt = &started
	require.NoError(t, f.store.Executions().CreateExecution(ctx, f.store, exec))

	deps := f.payoutDeps
	deps.Executions = completingExecutions{ExecutionRepository: f.store.Executions(), q: f.store}
	payouts := NewPayoutService(deps, f.payoutCfg)

	n, err := payouts.RecoverStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := f.store.Executions().GetExecutionByID(ctx, f.store, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Nil(t, stored.ErrorMessage)
}

func TestUpsertPreference_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	own := f.createGoal(t, user, domain.GoalTypeGeneral, 10000)
	foreign := f.createGoal(t, uuid.New(), domain.GoalTypeGeneral, 10000)

	tests := []struct {
		name string
		dest domain.PayoutDestination
	}{
		{name: "missing destination", dest: nil},
		{name: "bank without account", dest: domain.BankDestination{}},
		{name: "unknown goal", dest: domain.SavingsGoalDestination{GoalID: uuid.New()}},
		{name: "goal of another user", dest: domain.SavingsGoalDestination{GoalID: foreign.ID}},
		{name: "percent above 100", dest: domain.SplitDestination{Config: domain.SplitConfig{WalletPercent: decimal.NewFromInt(150)}}},
		{name: "negative fixed amount", dest: domain.SplitDestination{Config: domain.SplitConfig{WalletFixed: -1}}},
		{name: "bank share without account", dest: domain.SplitDestination{Config: domain.SplitConfig{BankPercent: decimal.NewFromInt(20)}}},
		{name: "split with foreign goal", dest: domain.SplitDestination{Config: domain.SplitConfig{
			SavingsPercent: []domain.GoalPercent{{GoalID: foreign.ID, Percent: decimal.NewFromInt(50)}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.payouts.UpsertPreference(ctx, PreferenceInput{UserID: user, Destination: tt.dest})
			require.Error(t, err)
			assert.True(t, util.IsError(err, util.ErrInvalidInput))
		})
	}

	pref, err := f.payouts.UpsertPreference(ctx, PreferenceInput{UserID: user, Destination: domain.SavingsGoalDestination{GoalID: own.ID}})
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeDefault, pref.Scope)
}

func TestGetEffectivePreference_Precedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	circleID := uuid.New()

	pref, err := f.payouts.GetEffectivePreference(ctx, user, &circleID)
	require.NoError(t, err)
	assert.Equal(t, domain.DestinationWallet, pref.Destination.Kind())

	f.setDefaultPreference(t, user, domain.BankDestination{AccountID: "acct-1"})
	override, err := f.payouts.UpsertPreference(ctx, PreferenceInput{
		UserID:      user,
		CircleID:    &circleID,
		Destination: domain.BankDestination{AccountID: "acct-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeCircleSpecific, override.Scope)

	pref, err = f.payouts.GetEffectivePreference(ctx, user, &circleID)
	require.NoError(t, err)
	assert.Equal(t, domain.BankDestination{AccountID: "acct-2"}, pref.Destination)

	otherCircle := uuid.New()
	pref, err = f.payouts.GetEffectivePreference(ctx, user, &otherCircle)
	require.NoError(t, err)
	assert.Equal(t, domain.BankDestination{AccountID: "acct-1"}, pref.Destination)

	pref, err = f.payouts.GetEffectivePreference(ctx, user, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeDefault, pref.Scope)
}
