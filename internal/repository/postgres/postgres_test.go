// internal/repository/postgres/postgres_test.go
package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"payout-ledger/internal/domain"
	"payout-ledger/internal/util"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

var walletRowColumns = []string{
	"id", "user_id", "currency", "main_balance", "reserved_balance", "committed_balance",
	"status", "status_reason", "created_at", "updated_at",
}

func TestWalletRepository_GetWalletForUpdate(t *testing.T) {
	t.Run("locks the row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWalletRepository()
		id, userID := uuid.New(), uuid.New()
		now := time.Now().UTC()

		rows := sqlmock.NewRows(walletRowColumns).
			AddRow(id.String(), userID.String(), "USD", 1500, 200, 300, "active", nil, now, now)
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(rows)

		w, err := repo.GetWalletForUpdate(context.Background(), db, id)
		require.NoError(t, err)
		assert.Equal(t, id, w.ID)
		assert.Equal(t, int64(2000), w.Total())
		assert.Equal(t, domain.WalletStatusActive, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing wallet", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWalletRepository()
		id := uuid.New()

		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(walletRowColumns))

		_, err := repo.GetWalletForUpdate(context.Background(), db, id)
		assert.ErrorIs(t, err, util.ErrWalletNotFound)
	})

	t.Run("lock timeout is a concurrency conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWalletRepository()
		id := uuid.New()

		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(id).
			WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})

		_, err := repo.GetWalletForUpdate(context.Background(), db, id)
		assert.ErrorIs(t, err, util.ErrConcurrencyConflict)
	})
}

func TestWalletRepository_CreateWallet(t *testing.T) {
	t.Run("existing user wallet is a duplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWalletRepository()
		w := domain.NewWallet(uuid.New(), "USD")

		mock.ExpectExec(`INSERT INTO wallets .+ ON CONFLICT \(user_id\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.CreateWallet(context.Background(), db, w)
		assert.ErrorIs(t, err, util.ErrDuplicateEntry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inserts", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewWalletRepository()
		w := domain.NewWallet(uuid.New(), "USD")

		mock.ExpectExec(`INSERT INTO wallets`).
			WithArgs(w.ID, w.UserID, "USD", int64(0), int64(0), int64(0), w.Status, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.CreateWallet(context.Background(), db, w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_CreateTransaction_DuplicateReference(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransactionRepository()
	tx := domain.NewWalletTransaction(uuid.New(), domain.TxTypeCirclePayout, domain.DirectionCredit,
		domain.BalanceMain, 100, 0, 100, domain.Reference{Type: "payout_leg", ID: "x"}, "")

	mock.ExpectExec(`INSERT INTO wallet_transactions`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ux_wallet_transactions_reference"})

	err := repo.CreateTransaction(context.Background(), db, tx)
	assert.ErrorIs(t, err, util.ErrDuplicateEntry)
}

func TestExecutionRepository_ClaimExecution(t *testing.T) {
	tests := []struct {
		name    string
		result  error
		rows    int64
		wantErr error
	}{
		{name: "claimed", rows: 1},
		{name: "status moved on", rows: 0, wantErr: util.ErrConcurrencyConflict},
		{name: "cycle held by another execution", result: &pq.Error{Code: "23505"}, wantErr: util.ErrDuplicateEntry},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewExecutionRepository()
			id := uuid.New()

			exp := mock.ExpectExec(`UPDATE payout_executions\s+SET status = 'executing'`).
				WithArgs(sqlmock.AnyArg(), id, domain.ExecutionVerified)
			if tc.result != nil {
				exp.WillReturnError(tc.result)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tc.rows))
			}

			err := repo.ClaimExecution(context.Background(), db, id, domain.ExecutionVerified, time.Now())
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutionRepository_UpdateExecutionFrom_GuardsStatus(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "still executing", rows: 1},
		{name: "completed meanwhile", rows: 0, wantErr: util.ErrConcurrencyConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewExecutionRepository()
			cycle := &domain.Cycle{ID: uuid.New(), CircleID: uuid.New(), RecipientUserID: uuid.New()}
			e := domain.NewPayoutExecution(cycle, 500, 0)
			e.Status = domain.ExecutionFailed

			mock.ExpectExec(`UPDATE payout_executions SET.+WHERE id = \$12 AND status = \$13`).
				WillReturnResult(sqlmock.NewResult(0, tc.rows))

			err := repo.UpdateExecutionFrom(context.Background(), db, e, domain.ExecutionExecuting)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutionRepository_GetExecutionByID_DecodesJSON(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepository()
	id, cycleID, circleID, userID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()

	checks := []byte(`{"identityVerified":{"passed":false,"gating":true,"message":"Recipient identity not verified"}}`)
	dist := []byte(`{"mode":"wallet","to_wallet":500,"to_savings_goals":null,"to_bank":null}`)
	rows := sqlmock.NewRows([]string{
		"id", "cycle_id", "circle_id", "recipient_user_id", "gross_amount", "platform_fee", "net_amount", "status",
		"verification_checks", "all_passed", "failure_reason", "distribution", "retry_count", "next_retry_at",
		"error_message", "started_at", "completed_at", "created_at", "updated_at",
	}).AddRow(id.String(), cycleID.String(), circleID.String(), userID.String(), 500, 0, 500, "failed",
		checks, false, "Recipient identity not verified", dist, 0, nil,
		nil, nil, nil, now, now)
	mock.ExpectQuery(`SELECT .+ FROM payout_executions WHERE id = \$1`).WithArgs(id).WillReturnRows(rows)

	e, err := repo.GetExecutionByID(context.Background(), db, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, e.Status)
	assert.False(t, e.VerificationChecks[domain.CheckIdentityVerified].Passed)
	require.NotNil(t, e.Distribution)
	assert.Equal(t, int64(500), e.Distribution.ToWallet)
	assert.NotNil(t, e.Distribution.ToSavingsGoals)
	assert.Nil(t, e.StartedAt)
}

func TestMovementRepository_ClaimDueMovements_SkipsLockedRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMovementRepository()

	mock.ExpectQuery(`FROM money_movements\s+WHERE status = 'pending' AND next_attempt_at <= \$1.+FOR UPDATE SKIP LOCKED`).
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out, err := repo.ClaimDueMovements(context.Background(), db, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCircleRepository_MarkCyclePayoutCompleted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCircleRepository()
	cycleID, execID := uuid.New(), uuid.New()

	mock.ExpectExec(`UPDATE circle_cycles SET status = \$1, payout_execution_id = \$2`).
		WithArgs(domain.CycleStatusPayoutCompleted, execID, cycleID, domain.CycleStatusReadyPayout).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCyclePayoutCompleted(context.Background(), db, cycleID, execID)
	assert.ErrorIs(t, err, util.ErrInvalidState)
}

func TestPreferenceRepository_GetCirclePreference(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPreferenceRepository()
	id, userID, circleID := uuid.New(), uuid.New(), uuid.New()

	rows := sqlmock.NewRows([]string{"id", "user_id", "scope", "circle_id", "destination", "destination_config", "updated_at"}).
		AddRow(id.String(), userID.String(), "circle_specific", circleID.String(), "bank", []byte(`{"account_id":"acct-9"}`), time.Now())
	mock.ExpectQuery(`FROM payout_preferences WHERE user_id = \$1 AND scope = 'circle_specific'`).
		WithArgs(userID, circleID).
		WillReturnRows(rows)

	p, err := repo.GetCirclePreference(context.Background(), db, userID, circleID)
	require.NoError(t, err)
	assert.Equal(t, domain.BankDestination{AccountID: "acct-9"}, p.Destination)
	require.NotNil(t, p.CircleID)
	assert.Equal(t, circleID, *p.CircleID)
}

func TestRegistryRepository_GetIdentityStatus_NoRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegistryRepository()
	userID := uuid.New()

	mock.ExpectQuery(`FROM identity_verifications`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"identity_verified", "verified_at"}))

	st, err := repo.GetIdentityStatus(context.Background(), db, userID)
	require.NoError(t, err)
	assert.False(t, st.Verified)
}

func TestExecutionRepository_HasDisbursedForCycle(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepository()
	cycleID, execID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT EXISTS \(.+status = ANY\(\$3\)\)`).
		WithArgs(cycleID, execID, pq.Array([]string{"completed", "partial"})).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := repo.HasDisbursedForCycle(context.Background(), db, cycleID, execID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}
