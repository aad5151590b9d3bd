// internal/service/helpers_test.go
package service

import (
	"context"
	"testing"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testFBOAccount = "fbo-test"

var testRetry = RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

// registryCollaborators answers collaborator queries from the memory store.
type registryCollaborators struct {
	store *memory.Store
	repo  repository.RegistryRepository
}

func (r registryCollaborators) IdentityStatus(ctx context.Context, userID uuid.UUID) (domain.IdentityStatus, error) {
	return r.repo.GetIdentityStatus(ctx, r.store, userID)
}

func (r registryCollaborators) ActiveRestrictions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return r.repo.ListActiveRestrictions(ctx, r.store, userID)
}

func (r registryCollaborators) UnresolvedDefaults(ctx context.Context, userID uuid.UUID) (int, error) {
	return r.repo.CountUnresolvedDefaults(ctx, r.store, userID)
}

func (r registryCollaborators) ClearedBalance(ctx context.Context) (int64, error) {
	return r.repo.GetCustodialBalance(ctx, r.store, testFBOAccount)
}

func (r registryCollaborators) Recipients(ctx context.Context, userID uuid.UUID) ([]domain.RemittanceRecipient, error) {
	return r.repo.ListRemittanceRecipients(ctx, r.store, userID)
}

// MockBankRail is a mock implementation of BankRail.
type MockBankRail struct {
	mock.Mock
}

func (m *MockBankRail) InitiateTransfer(ctx context.Context, instr domain.TransferInstruction) (string, error) {
	args := m.Called(ctx, instr)
	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockOpsQueue is a mock implementation of OpsQueue.
type MockOpsQueue struct {
	mock.Mock
}

func (m *MockOpsQueue) EnqueueReview(ctx context.Context, item domain.OpsReviewItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

// MockEngagementPublisher is a mock implementation of EngagementPublisher.
type MockEngagementPublisher struct {
	mock.Mock
}

func (m *MockEngagementPublisher) Publish(ctx context.Context, event domain.EngagementEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type fixture struct {
	store        *memory.Store
	ledger       LedgerService
	reservations ReservationService
	verifier     VerificationPipeline
	payouts      PayoutService
	reconciler   MovementReconciler
	rail         *MockBankRail
	notifier     *MockNotifier
	ops          *MockOpsQueue
	engagement   *MockEngagementPublisher
	platformUser uuid.UUID
	payoutDeps   PayoutDeps
	payoutCfg    PayoutConfig
}

type fixtureOption func(*PayoutConfig)

func withFeeBps(bps int64) fixtureOption {
	return func(c *PayoutConfig) { c.PlatformFeeBps = bps }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	transactor := store.Transactor(logger)
	collab := registryCollaborators{store: store, repo: store.Registry()}

	f := &fixture{
		store:        store,
		rail:         new(MockBankRail),
		notifier:     new(MockNotifier),
		ops:          new(MockOpsQueue),
		engagement:   new(MockEngagementPublisher),
		platformUser: uuid.New(),
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.ops.On("EnqueueReview", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.engagement.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.ledger = NewLedgerService(store, transactor, store.Wallets(), store.Transactions(), store.Reservations(),
		store.SavingsGoals(), testRetry, "USD", logger)
	f.reservations = NewReservationService(store, transactor, f.ledger, store.Wallets(), store.Reservations(),
		store.Circles(), f.notifier, ReservationConfig{Horizon: 14 * 24 * time.Hour, ExpiryGrace: 72 * time.Hour}, testRetry, logger)
	f.verifier = NewVerificationPipeline(store, transactor, store.Circles(), store.Wallets(), store.Executions(),
		collab, collab, collab, collab, VerificationConfig{AmountTolerancePct: 10}, logger)

	cfg := PayoutConfig{
		ExecutionTimeout:     5 * time.Second,
		MaxRetries:           5,
		RetryBaseDelay:       time.Minute,
		PlatformWalletUserID: f.platformUser,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.payoutDeps = PayoutDeps{
		DB:           store,
		Transactor:   transactor,
		Ledger:       f.ledger,
		Verifier:     f.verifier,
		Planner:      NewDistributionPlanner(),
		Circles:      store.Circles(),
		Executions:   store.Executions(),
		Movements:    store.Movements(),
		Preferences:  store.Preferences(),
		Goals:        store.SavingsGoals(),
		Reservations: store.Reservations(),
		Wallets:      store.Wallets(),
		Remittance:   collab,
		Notifier:     f.notifier,
		OpsQueue:     f.ops,
		Engagement:   f.engagement,
		Retry:        testRetry,
		Logger:       logger,
	}
	f.payoutCfg = cfg
	f.payouts = NewPayoutService(f.payoutDeps, cfg)
	f.reconciler = NewMovementReconciler(store, transactor, f.ledger, store.Movements(), store.Wallets(), f.rail,
		f.notifier, ReconcilerConfig{BatchSize: 10, MaxAttempts: 3, BaseDelay: time.Millisecond}, testRetry, logger)
	return f
}

// fundedWallet creates a wallet for a new user and deposits amount into main.
func (f *fixture) fundedWallet(t *testing.T, amount int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.ledger.EnsureWallet(ctx, uuid.New())
	require.NoError(t, err)
	if amount > 0 {
		res, err := f.ledger.Credit(ctx, PostingRequest{
			WalletID:      w.ID,
			AmountCents:   amount,
			Type:          domain.TxTypeDeposit,
			ReferenceType: domain.RefTypeManual,
			ReferenceID:   uuid.NewString(),
		})
		require.NoError(t, err)
		w = res.Wallet
	}
	return w
}

func (f *fixture) wallet(t *testing.T, id uuid.UUID) *domain.Wallet {
	t.Helper()
	w, err := f.store.Wallets().GetWalletByID(context.Background(), f.store, id)
	require.NoError(t, err)
	return w
}

func (f *fixture) walletOf(t *testing.T, userID uuid.UUID) *domain.Wallet {
	t.Helper()
	w, err := f.store.Wallets().GetWalletByUserID(context.Background(), f.store, userID)
	require.NoError(t, err)
	return w
}

// ledgerSum is the net effect of every logged row on the wallet total.
func (f *fixture) ledgerSum(t *testing.T, walletID uuid.UUID) int64 {
	t.Helper()
	txs, err := f.store.Transactions().GetTransactionsByWalletID(context.Background(), f.store, walletID, 10000, 0)
	require.NoError(t, err)
	var total int64
	for _, tx := range txs {
		switch tx.Direction {
		case domain.DirectionCredit:
			total += tx.Amount
		case domain.DirectionDebit:
			total -= tx.Amount
		}
	}
	return total
}

// circleScenario is a circle whose cycle is ready to pay its recipient.
type circleScenario struct {
	circle    domain.Circle
	cycle     domain.Cycle
	recipient uuid.UUID
	members   []uuid.UUID
}

const scenarioContribution int64 = 10000

// seedReadyCycle builds an active five-member circle whose cycle 1 collected
// 50000 cents for a verified, long-standing recipient.
func (f *fixture) seedReadyCycle(t *testing.T) circleScenario {
	t.Helper()
	joined := time.Now().UTC().Add(-90 * 24 * time.Hour)
	sc := circleScenario{
		circle: domain.Circle{
			ID:                 uuid.New(),
			Name:               "Family circle",
			Status:             domain.CircleStatusActive,
			ContributionAmount: scenarioContribution,
			CreatedAt:          joined,
		},
	}
	for i := 1; i <= 5; i++ {
		userID := uuid.New()
		sc.members = append(sc.members, userID)
		f.store.PutMembership(domain.Membership{
			CircleID:       sc.circle.ID,
			UserID:         userID,
			PayoutPosition: i,
			Status:         domain.MembershipStatusActive,
			JoinedAt:       joined,
		})
	}
	sc.recipient = sc.members[0]
	sc.cycle = domain.Cycle{
		ID:              uuid.New(),
		CircleID:        sc.circle.ID,
		CycleNumber:     1,
		Status:          domain.CycleStatusReadyPayout,
		RecipientUserID: sc.recipient,
		ExpectedAmount:  5 * scenarioContribution,
		CollectedAmount: 5 * scenarioContribution,
		DueDate:         time.Now().UTC().Add(-time.Hour),
	}
	f.store.PutCircle(sc.circle)
	f.store.PutCycle(sc.cycle)
	for _, m := range sc.members {
		f.store.RecordContribution(sc.cycle.ID, m, scenarioContribution)
	}
	f.store.SetIdentity(sc.recipient, true)
	f.store.SetCustodialBalance(testFBOAccount, 10_000_000)
	return sc
}

func (f *fixture) createGoal(t *testing.T, userID uuid.UUID, goalType domain.GoalType, target int64) domain.SavingsGoal {
	t.Helper()
	ctx := context.Background()
	w, err := f.ledger.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	now := time.Now().UTC()
	g := domain.SavingsGoal{
		ID:           uuid.New(),
		UserID:       userID,
		WalletID:     w.ID,
		Name:         string(goalType) + " goal",
		GoalType:     goalType,
		TargetAmount: target,
		Status:       domain.GoalStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.SavingsGoals().CreateGoal(ctx, f.store, &g))
	return g
}
