// internal/service/tx.go
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payout-ledger/internal/metrics"
	"payout-ledger/internal/repository"
	"payout-ledger/internal/util"
	"payout-ledger/pkg/db"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds retries of operations that lost a concurrency race.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is used when a zero policy is configured.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, InitialBackoff: 20 * time.Millisecond, MaxBackoff: time.Second}

// txRunner wraps the injected transaction functions.
type txRunner struct {
	db     repository.DBExecutor // for non-transactional reads
	tx     db.Transactor
	retry  RetryPolicy
	logger *zap.Logger
}

func newTxRunner(dbExecutor repository.DBExecutor, tx db.Transactor, retry RetryPolicy, logger *zap.Logger) txRunner {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return txRunner{db: dbExecutor, tx: tx, retry: retry, logger: logger}
}

// inTx runs fn in a transaction and commits when fn returns nil.
func (r txRunner) inTx(ctx context.Context, opts *sql.TxOptions, op string, fn func(q repository.DBExecutor) error) error {
	txController, err := r.tx.Begin(ctx, opts)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer r.tx.Rollback(txController)

	txExecutor, ok := txController.(repository.DBExecutor)
	if !ok {
		return fmt.Errorf("%s: transaction controller does not implement DBExecutor", op)
	}

	if err := fn(txExecutor); err != nil {
		return err
	}

	if err := r.tx.Commit(txController); err != nil {
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	return nil
}

// retryable reports whether err came from losing a race that a fresh
// transaction can win.
func retryable(err error) bool {
	return util.IsError(err, util.ErrConcurrencyConflict) || util.IsError(err, util.ErrDuplicateEntry)
}

// inTxWithRetry runs inTx, retrying with exponential backoff while it fails
// with a concurrency conflict.
func (r txRunner) inTxWithRetry(ctx context.Context, op string, fn func(q repository.DBExecutor) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.InitialBackoff
	b.MaxInterval = r.retry.MaxBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := r.inTx(ctx, nil, op, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt < r.retry.MaxAttempts {
			metrics.LedgerConflictRetries.Inc()
			r.logger.Debug("retrying after concurrency conflict",
				zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.retry.MaxAttempts-1)), ctx)
	return backoff.Retry(operation, policy)
}
