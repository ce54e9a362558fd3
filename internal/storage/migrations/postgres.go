package migrations

import (
	"context"
	"fmt"

	"options-backtest-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies every embedded script. Scripts are idempotent
// (CREATE ... IF NOT EXISTS), so this runs on every start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	scripts, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.name, err)
		}
	}
	return nil
}
