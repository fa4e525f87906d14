package database

import (
	"context"
	"fmt"
	"time"
)

// SetLocalTimeouts bounds statement and lock waits for the rest of the transaction carried by ctx.
func SetLocalTimeouts(ctx context.Context, tx Executor, statement, lock time.Duration) error {
	if statement > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", statement.Milliseconds())); err != nil {
			return err
		}
	}
	if lock > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", lock.Milliseconds())); err != nil {
			return err
		}
	}
	return nil
}

// AdvisoryXactLock takes a transaction-scoped advisory lock keyed by name.
// It is released automatically on commit or rollback.
func AdvisoryXactLock(ctx context.Context, tx Executor, name string) error {
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", name)
	return err
}
