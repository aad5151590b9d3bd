// internal/repository/postgres/errors.go
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"payout-ledger/internal/util"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// classify maps driver errors onto the util sentinels and wraps everything with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return util.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, util.ErrDuplicateEntry, pqErr.Constraint)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%s: %w: %s", op, util.ErrConcurrencyConflict, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// expectOneRow turns a zero-row update into util.ErrNotFound.
func expectOneRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, util.ErrNotFound)
	}
	return nil
}
