// internal/repository/memory/store_test.go
package memory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	w := domain.NewWallet(uuid.New(), "USD")
	require.NoError(t, s.Wallets().CreateWallet(ctx, nil, w))

	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)
	inTx, err := s.Wallets().GetWalletForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	inTx.MainBalance = 900
	require.NoError(t, s.Wallets().UpdateWalletBalances(ctx, tx, inTx))

	outside, err := s.Wallets().GetWalletByID(ctx, s, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), outside.MainBalance, "uncommitted write must not be visible")

	require.NoError(t, tx.Rollback())
	after, err := s.Wallets().GetWalletByID(ctx, s, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.MainBalance)
}

func TestStore_CommitPublishes(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	w := domain.NewWallet(uuid.New(), "USD")
	require.NoError(t, s.Wallets().CreateWallet(ctx, nil, w))

	tx, err := s.BeginTx(ctx, nil)
	require.NoError(t, err)
	w.MainBalance = 250
	require.NoError(t, s.Wallets().UpdateWalletBalances(ctx, tx, w))
	require.NoError(t, tx.Commit())

	got, err := s.Wallets().GetWalletByID(ctx, s, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.MainBalance)
	assert.ErrorIs(t, tx.Rollback(), sql.ErrTxDone)
}

func TestStore_BeginTxHonorsContext(t *testing.T) {
	s := NewStore()
	tx, err := s.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.BeginTx(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	userID := uuid.New()

	require.NoError(t, s.Wallets().CreateWallet(ctx, nil, domain.NewWallet(userID, "USD")))
	assert.ErrorIs(t, s.Wallets().CreateWallet(ctx, nil, domain.NewWallet(userID, "USD")), util.ErrDuplicateEntry)

	ref := domain.Reference{Type: domain.RefTypeManual, ID: "dep-1"}
	t1 := domain.NewWalletTransaction(uuid.New(), domain.TxTypeDeposit, domain.DirectionCredit, domain.BalanceMain, 10, 0, 10, ref, "")
	t2 := domain.NewWalletTransaction(uuid.New(), domain.TxTypeDeposit, domain.DirectionCredit, domain.BalanceMain, 10, 10, 20, ref, "")
	require.NoError(t, s.Transactions().CreateTransaction(ctx, nil, t1))
	assert.ErrorIs(t, s.Transactions().CreateTransaction(ctx, nil, t2), util.ErrDuplicateEntry)
}

func TestStore_ExecutionCycleHold(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	cycle := &domain.Cycle{ID: uuid.New(), CircleID: uuid.New(), RecipientUserID: uuid.New()}

	first := domain.NewPayoutExecution(cycle, 1000, 0)
	first.Status = domain.ExecutionVerified
	second := domain.NewPayoutExecution(cycle, 1000, 0)
	second.Status = domain.ExecutionVerified
	repo := s.Executions()
	require.NoError(t, repo.CreateExecution(ctx, nil, first))
	require.NoError(t, repo.CreateExecution(ctx, nil, second))

	require.NoError(t, repo.ClaimExecution(ctx, nil, first.ID, domain.ExecutionVerified, time.Now()))
	assert.ErrorIs(t, repo.ClaimExecution(ctx, nil, second.ID, domain.ExecutionVerified, time.Now()), util.ErrDuplicateEntry)
	assert.ErrorIs(t, repo.ClaimExecution(ctx, nil, first.ID, domain.ExecutionVerified, time.Now()), util.ErrConcurrencyConflict)
}

func TestStore_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	cycle := &domain.Cycle{ID: uuid.New(), CircleID: uuid.New(), RecipientUserID: uuid.New()}
	e := domain.NewPayoutExecution(cycle, 500, 0)
	e.Distribution = &domain.Distribution{Mode: domain.DestinationWallet, ToWallet: 500, ToSavingsGoals: []domain.GoalAllocation{}}
	require.NoError(t, s.Executions().CreateExecution(ctx, nil, e))

	got, err := s.Executions().GetExecutionByID(ctx, nil, e.ID)
	require.NoError(t, err)
	got.Distribution.ToWallet = 1

	again, err := s.Executions().GetExecutionByID(ctx, nil, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), again.Distribution.ToWallet)
}
