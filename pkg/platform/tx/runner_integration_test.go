//go:build integration

package tx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachet/pkg/platform/tx"
	"cachet/pkg/testutil/containers"
)

func TestRunner_CommitsOnNilError(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	pg.Exec(t, `CREATE TABLE issued_refs (id TEXT PRIMARY KEY)`)
	run := tx.NewRunner(pg.DB)
	ctx := context.Background()

	err := run(ctx, func(ctx context.Context) error {
		sqlTx, ok := tx.From(ctx)
		require.True(t, ok, "runner must inject the ambient transaction")
		_, err := sqlTx.ExecContext(ctx, `INSERT INTO issued_refs (id) VALUES ('doc-1')`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, pg.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM issued_refs`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunner_RollsBackOnError(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	pg.Exec(t, `CREATE TABLE issued_refs (id TEXT PRIMARY KEY)`)
	run := tx.NewRunner(pg.DB)
	ctx := context.Background()

	failed := errors.New("stage advance refused")
	err := run(ctx, func(ctx context.Context) error {
		sqlTx, _ := tx.From(ctx)
		if _, err := sqlTx.ExecContext(ctx, `INSERT INTO issued_refs (id) VALUES ('doc-2')`); err != nil {
			return err
		}
		return failed
	})
	require.ErrorIs(t, err, failed, "the caller's error survives the rollback")

	var count int
	require.NoError(t, pg.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM issued_refs`).Scan(&count))
	assert.Equal(t, 0, count, "nothing written inside a failed unit survives")
}
