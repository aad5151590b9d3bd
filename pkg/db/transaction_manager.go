// pkg/db/transaction_manager.go
package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// TxController defines methods for controlling a database transaction.
// *sqlx.Tx implicitly implements this interface.
type TxController interface {
	Commit() error
	Rollback() error
}

// BeginTxFunc starts a transaction. The returned controller must also satisfy
// the repository executor interface of the store that created it.
type BeginTxFunc func(ctx context.Context, opts *sql.TxOptions) (TxController, error)

// CommitTxFunc commits a transaction.
type CommitTxFunc func(tx TxController) error

// RollbackTxFunc rolls back a transaction; it is safe to call after commit.
type RollbackTxFunc func(tx TxController)

// Transactor bundles the injected transaction functions a service needs.
type Transactor struct {
	Begin    BeginTxFunc
	Commit   CommitTxFunc
	Rollback RollbackTxFunc
}

// DBTxBeginner defines the interface for beginning transactions.
// *sqlx.DB implements this.
type DBTxBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// NewSQLXTransactor returns a Transactor backed by an sqlx connection pool.
func NewSQLXTransactor(dbConn DBTxBeginner, logger *zap.Logger) Transactor {
	return Transactor{
		Begin: func(ctx context.Context, opts *sql.TxOptions) (TxController, error) {
			tx, err := dbConn.BeginTxx(ctx, opts)
			if err != nil {
				return nil, err
			}
			return tx, nil // *sqlx.Tx implicitly implements TxController
		},
		Commit: CommitTx,
		Rollback: func(tx TxController) {
			RollbackTx(tx, logger)
		},
	}
}

// CommitTx commits the transaction.
func CommitTx(tx TxController) error {
	return tx.Commit()
}

// RollbackTx rolls back the transaction. Errors are only logged since it is
// typically a deferred call and the original error matters more.
func RollbackTx(tx TxController, logger *zap.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		if logger != nil {
			logger.Warn("failed to roll back transaction", zap.Error(err))
		}
	}
}
