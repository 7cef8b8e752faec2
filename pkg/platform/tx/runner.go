package tx

import (
	"context"
	"database/sql"
	"time"
)

const defaultRunTimeout = 5 * time.Second

// Runner executes fn with an ambient transaction in context. Stores that
// check From(ctx) join it, so every write inside fn commits or rolls back
// as one unit.
type Runner func(ctx context.Context, fn func(ctx context.Context) error) error

// NewRunner builds a Runner over a shared database handle. A nil error from
// fn commits; anything else rolls back and is returned unchanged, so
// sentinel checks on store errors still work across the boundary.
func NewRunner(db *sql.DB) Runner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultRunTimeout)
			defer cancel()
		}

		sqlTx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = sqlTx.Rollback()
		}()

		if err := fn(WithTx(ctx, sqlTx)); err != nil {
			return err
		}
		return sqlTx.Commit()
	}
}

// Passthrough runs fn directly. It stands in for NewRunner when the stores
// have no shared database, as with the in-memory implementations.
func Passthrough() Runner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
}
