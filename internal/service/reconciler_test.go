// internal/service/reconciler_test.go
package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// queueTransfer debits amount for a bank transfer and records its outbox row.
func (f *fixture) queueTransfer(t *testing.T, w *domain.Wallet, amount int64) *domain.MoneyMovement {
	t.Helper()
	ctx := context.Background()
	m := domain.NewMoneyMovement(nil, w.ID, "acct-R", amount)
	_, err := f.ledger.Debit(ctx, PostingRequest{
		WalletID:      w.ID,
		AmountCents:   amount,
		Type:          domain.TxTypeBankTransfer,
		ReferenceType: domain.RefTypeMovement,
		ReferenceID:   m.ID.String(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Movements().CreateMovement(ctx, f.store, m))
	return m
}

func (f *fixture) movement(t *testing.T, m *domain.MoneyMovement) *domain.MoneyMovement {
	t.Helper()
	got, err := f.store.Movements().GetMovementByID(context.Background(), f.store, m.ID)
	require.NoError(t, err)
	return got
}

func forMovement(m *domain.MoneyMovement) interface{} {
	return mock.MatchedBy(func(instr domain.TransferInstruction) bool {
		return instr.MovementID == m.ID && instr.AmountCents == m.Amount && instr.BankAccountID == m.BankAccountID
	})
}

func TestReconciler_SubmitThenSettle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 10000)
	m := f.queueTransfer(t, w, 4000)
	f.rail.On("InitiateTransfer", mock.Anything, forMovement(m)).Return("ext-1", nil).Once()

	n, err := f.reconciler.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.movement(t, m)
	assert.Equal(t, domain.MovementSubmitted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ExternalRef)
	assert.Equal(t, "ext-1", *got.ExternalRef)

	n, err = f.reconciler.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.rail.AssertExpectations(t)

	settled, err := f.reconciler.MarkSettled(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MovementSettled, settled.Status)
	_, err = f.reconciler.MarkSettled(ctx, m.ID)
	require.NoError(t, err)

	_, err = f.reconciler.MarkRejected(ctx, m.ID, "late return")
	assert.True(t, util.IsError(err, util.ErrInvalidState))
	assert.Equal(t, int64(6000), f.wallet(t, w.ID).MainBalance)
}

func TestReconciler_TransientFailuresThenReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 10000)
	m := f.queueTransfer(t, w, 4000)
	f.rail.On("InitiateTransfer", mock.Anything, forMovement(m)).Return("", errors.New("rail timeout"))

	_, err := f.reconciler.ProcessBatch(ctx)
	require.NoError(t, err)
	got := f.movement(t, m)
	assert.Equal(t, domain.MovementPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "rail timeout", *got.LastError)
	assert.Equal(t, int64(6000), f.wallet(t, w.ID).MainBalance)

	for i := 0; i < 2; i++ {
		time.Sleep(10 * time.Millisecond)
		_, err := f.reconciler.ProcessBatch(ctx)
		require.NoError(t, err)
	}

	got = f.movement(t, m)
	assert.Equal(t, domain.MovementFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)

	wallet := f.wallet(t, w.ID)
	assert.Equal(t, int64(10000), wallet.MainBalance)
	assert.Equal(t, wallet.Total(), f.ledgerSum(t, w.ID))
	f.rail.AssertNumberOfCalls(t, "InitiateTransfer", 3)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n domain.Notification) bool {
		return n.UserID == w.UserID && n.Title == "Bank transfer returned"
	}))
}

func TestReconciler_RejectedTransferIsReversedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 10000)
	m := f.queueTransfer(t, w, 2500)
	f.rail.On("InitiateTransfer", mock.Anything, forMovement(m)).
		Return("", fmt.Errorf("account closed: %w", util.ErrTransferRejected)).Once()

	n, err := f.reconciler.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.MovementFailed, f.movement(t, m).Status)
	assert.Equal(t, int64(10000), f.wallet(t, w.ID).MainBalance)

	again, err := f.reconciler.MarkRejected(ctx, m.ID, "duplicate callback")
	require.NoError(t, err)
	assert.Equal(t, domain.MovementFailed, again.Status)
	assert.Equal(t, int64(10000), f.wallet(t, w.ID).MainBalance)
}

func TestReconciler_RejectedTransferReversesIntoFrozenWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 10000)
	m := f.queueTransfer(t, w, 4000)
	_, err := f.ledger.SetWalletStatus(ctx, w.ID, domain.WalletStatusFrozen, "chargeback review")
	require.NoError(t, err)
	f.rail.On("InitiateTransfer", mock.Anything, forMovement(m)).
		Return("", fmt.Errorf("account closed: %w", util.ErrTransferRejected)).Once()

	_, err = f.reconciler.ProcessBatch(ctx)
	require.NoError(t, err)

	got := f.movement(t, m)
	assert.Equal(t, domain.MovementFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	wallet := f.wallet(t, w.ID)
	assert.Equal(t, domain.WalletStatusFrozen, wallet.Status)
	assert.Equal(t, int64(10000), wallet.MainBalance)
	assert.Equal(t, wallet.Total(), f.ledgerSum(t, w.ID))

	_, err = f.reconciler.ProcessBatch(ctx)
	require.NoError(t, err)
	f.rail.AssertNumberOfCalls(t, "InitiateTransfer", 1)

	_, err = f.ledger.Credit(ctx, PostingRequest{
		WalletID:      w.ID,
		AmountCents:   100,
		Type:          domain.TxTypeDeposit,
		ReferenceType: domain.RefTypeManual,
		ReferenceID:   "frozen-deposit",
	})
	assert.True(t, util.IsError(err, util.ErrWalletNotActive))
}

func TestReconciler_CallbackRejectsSubmittedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.fundedWallet(t, 10000)
	m := f.queueTransfer(t, w, 7000)
	f.rail.On("InitiateTransfer", mock.Anything, forMovement(m)).Return("ext-9", nil).Once()

	_, err := f.reconciler.ProcessBatch(ctx)
	require.NoError(t, err)

	rejected, err := f.reconciler.MarkRejected(ctx, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.MovementFailed, rejected.Status)
	require.NotNil(t, rejected.LastError)
	assert.Equal(t, "rejected by bank rail", *rejected.LastError)
	assert.Equal(t, int64(10000), f.wallet(t, w.ID).MainBalance)

	_, err = f.reconciler.MarkSettled(ctx, m.ID)
	assert.True(t, util.IsError(err, util.ErrInvalidState))
}
