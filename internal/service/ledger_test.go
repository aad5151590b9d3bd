// internal/service/ledger_test.go
package service

import (
	"context"
	"sync"
	"testing"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReserveThenDebitBeyondAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 20000)

	_, err := f.ledger.Reserve(ctx, w.ID, 15000, domain.Reference{Type: domain.RefTypeReservation, ID: "r-1"})
	require.NoError(t, err)

	got := f.wallet(t, w.ID)
	assert.Equal(t, int64(5000), got.MainBalance)
	assert.Equal(t, int64(15000), got.ReservedBalance)
	assert.Equal(t, int64(5000), got.Available())

	_, err = f.ledger.Debit(ctx, PostingRequest{
		WalletID:      w.ID,
		AmountCents:   6000,
		Type:          domain.TxTypeWithdrawal,
		ReferenceType: domain.RefTypeManual,
		ReferenceID:   "w-1",
	})
	require.Error(t, err)
	assert.True(t, util.IsError(err, util.ErrInsufficientFunds))

	after := f.wallet(t, w.ID)
	assert.Equal(t, int64(5000), after.MainBalance)
	assert.Equal(t, int64(15000), after.ReservedBalance)
	assert.Equal(t, after.Total(), f.ledgerSum(t, w.ID))
}

func TestLedger_ReplayDoesNotApplyTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 0)

	req := PostingRequest{
		WalletID:      w.ID,
		AmountCents:   2500,
		Type:          domain.TxTypeDeposit,
		ReferenceType: domain.RefTypeManual,
		ReferenceID:   "dep-1",
	}
	first, err := f.ledger.Credit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.ledger.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID(), second.TransactionID())

	got := f.wallet(t, w.ID)
	assert.Equal(t, int64(2500), got.MainBalance)
	assert.Equal(t, int64(2500), f.ledgerSum(t, w.ID))
}

func TestLedger_ReserveUseAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 10000)

	_, err := f.ledger.Reserve(ctx, w.ID, 4000, domain.Reference{Type: domain.RefTypeReservation, ID: "a"})
	require.NoError(t, err)
	_, err = f.ledger.CommitReserved(ctx, w.ID, 4000, domain.Reference{Type: domain.RefTypeReservation, ID: "a"})
	require.NoError(t, err)

	_, err = f.ledger.Reserve(ctx, w.ID, 3000, domain.Reference{Type: domain.RefTypeReservation, ID: "b"})
	require.NoError(t, err)
	_, err = f.ledger.ReleaseReserved(ctx, w.ID, 3000, domain.Reference{Type: domain.RefTypeReservation, ID: "b"})
	require.NoError(t, err)

	got := f.wallet(t, w.ID)
	assert.Equal(t, int64(6000), got.MainBalance)
	assert.Equal(t, int64(0), got.ReservedBalance)
	assert.Equal(t, int64(4000), got.CommittedBalance)
	assert.Equal(t, int64(10000), got.Total())

	_, err = f.ledger.ReleaseReserved(ctx, w.ID, 1, domain.Reference{Type: domain.RefTypeReservation, ID: "c"})
	assert.True(t, util.IsError(err, util.ErrInsufficientFunds))
}

func TestLedger_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 100)

	_, err := f.ledger.Credit(ctx, PostingRequest{WalletID: w.ID, AmountCents: 0, Type: domain.TxTypeDeposit, ReferenceType: "manual", ReferenceID: "x"})
	assert.True(t, util.IsError(err, util.ErrInvalidInput))

	_, err = f.ledger.Credit(ctx, PostingRequest{WalletID: w.ID, AmountCents: 10, Type: domain.TxTypeDeposit})
	assert.True(t, util.IsError(err, util.ErrInvalidInput))

	_, err = f.ledger.Credit(ctx, PostingRequest{WalletID: uuid.New(), AmountCents: 10, Type: domain.TxTypeDeposit, ReferenceType: "manual", ReferenceID: "y"})
	assert.True(t, util.IsError(err, util.ErrWalletNotFound))
}

func TestLedger_EnsureWalletCreatesForNewUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	created, err := f.ledger.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, created.UserID)
	assert.Equal(t, domain.WalletStatusActive, created.Status)
	assert.Zero(t, created.MainBalance)

	again, err := f.ledger.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	_, err = f.ledger.GetWalletSummary(ctx, uuid.New())
	assert.True(t, util.IsError(err, util.ErrNotFound))
}

func TestLedger_InactiveWalletRejectsPostings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 1000)

	_, err := f.ledger.SetWalletStatus(ctx, w.ID, domain.WalletStatusFrozen, "chargeback review")
	require.NoError(t, err)

	_, err = f.ledger.Credit(ctx, PostingRequest{WalletID: w.ID, AmountCents: 10, Type: domain.TxTypeDeposit, ReferenceType: "manual", ReferenceID: "frozen"})
	assert.True(t, util.IsError(err, util.ErrWalletNotActive))
	assert.Equal(t, int64(1000), f.wallet(t, w.ID).MainBalance)

	_, err = f.ledger.SetWalletStatus(ctx, w.ID, domain.WalletStatusActive, "")
	require.NoError(t, err)
	_, err = f.ledger.Credit(ctx, PostingRequest{WalletID: w.ID, AmountCents: 10, Type: domain.TxTypeDeposit, ReferenceType: "manual", ReferenceID: "thawed"})
	require.NoError(t, err)
}

func TestLedger_ClosedWalletStaysClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 0)

	closed, err := f.ledger.SetWalletStatus(ctx, w.ID, domain.WalletStatusClosed, "account closed")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusClosed, closed.Status)

	_, err = f.ledger.SetWalletStatus(ctx, w.ID, domain.WalletStatusActive, "")
	assert.True(t, util.IsError(err, util.ErrInvalidState))

	_, err = f.ledger.SetWalletStatus(ctx, w.ID, domain.WalletStatus("paused"), "")
	assert.True(t, util.IsError(err, util.ErrInvalidInput))
}

func TestLedger_ConcurrentCreditsAllApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 0)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Credit(ctx, PostingRequest{
				WalletID:      w.ID,
				AmountCents:   100,
				Type:          domain.TxTypeDeposit,
				ReferenceType: domain.RefTypeManual,
				ReferenceID:   uuid.NewString(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := f.wallet(t, w.ID)
	assert.Equal(t, int64(workers*100), got.MainBalance)
	assert.Equal(t, got.Total(), f.ledgerSum(t, w.ID))
}

func TestLedger_TransferToSavingsGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 5000)
	goal := f.createGoal(t, w.UserID, domain.GoalTypeEmergency, 20000)

	ref := domain.Reference{Type: domain.RefTypeManual, ID: "save-1"}
	_, err := f.ledger.TransferToSavingsGoal(ctx, goal.ID, 2000, ref)
	require.NoError(t, err)
	replay, err := f.ledger.TransferToSavingsGoal(ctx, goal.ID, 2000, ref)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	assert.Equal(t, int64(3000), f.wallet(t, w.ID).MainBalance)
	g, err := f.store.SavingsGoals().GetGoalByID(ctx, f.store, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), g.CurrentBalance)

	_, err = f.ledger.TransferToSavingsGoal(ctx, goal.ID, 9000, domain.Reference{Type: domain.RefTypeManual, ID: "save-2"})
	assert.True(t, util.IsError(err, util.ErrInsufficientFunds))
}

func TestLedger_WalletSummaryAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 3000)
	_, err := f.ledger.Reserve(ctx, w.ID, 1000, domain.Reference{Type: domain.RefTypeReservation, ID: "s-1"})
	require.NoError(t, err)

	summary, err := f.ledger.GetWalletSummary(ctx, w.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), summary.Available)
	assert.Equal(t, int64(3000), summary.Total)
	assert.Len(t, summary.RecentTransactions, 3)

	txs, total, err := f.ledger.GetTransactionHistory(ctx, w.ID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.Equal(t, int64(3), total)

	_, err = f.ledger.GetWalletSummary(ctx, uuid.New())
	assert.True(t, util.IsError(err, util.ErrWalletNotFound))
	_, _, err = f.ledger.GetTransactionHistory(ctx, uuid.New(), 10, 0)
	assert.True(t, util.IsError(err, util.ErrWalletNotFound))
}
