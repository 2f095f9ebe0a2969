package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxFailure marks transaction lifecycle failures (begin/commit) as
// opposed to errors raised by the callback itself.
var ErrTxFailure = errors.New("platform/db: transaction failure")

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. Callback errors roll the transaction back and are
// returned unchanged; begin/commit failures wrap ErrTxFailure.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxFailure, err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxFailure, err)
	}

	return nil
}
