package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `
	storage_key, run_id, fingerprint, variant, revision,
	raw_config, canonical_config, created_at
`

// Insert registers a run. Returns ErrDuplicateKey if storage_key or (fingerprint, revision) exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.BacktestRun) error {
	if err := storage.ValidateRun(r); err != nil {
		return err
	}

	query := `INSERT INTO backtest_runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		r.StorageKey, r.RunID, r.Fingerprint, string(r.Variant), r.Revision,
		r.RawConfig, r.CanonicalConfig, r.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}

// GetByStorageKey retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByStorageKey(ctx context.Context, storageKey string) (*domain.BacktestRun, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE storage_key = $1`

	r, err := scanRun(s.pool.QueryRow(ctx, query, storageKey))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backtest run by storage key: %w", err)
	}
	return r, nil
}

// GetByFingerprint retrieves every run of a configuration, ordered by revision ASC.
func (s *RunStore) GetByFingerprint(ctx context.Context, fingerprint string) ([]*domain.BacktestRun, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE fingerprint = $1 ORDER BY revision ASC`

	rows, err := s.pool.Query(ctx, query, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("get backtest runs by fingerprint: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetByVariant retrieves every run of a variant, ordered by created_at ASC, storage_key ASC.
func (s *RunStore) GetByVariant(ctx context.Context, variant domain.Variant) ([]*domain.BacktestRun, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs WHERE variant = $1 ORDER BY created_at ASC, storage_key ASC`

	rows, err := s.pool.Query(ctx, query, string(variant))
	if err != nil {
		return nil, fmt.Errorf("get backtest runs by variant: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// List retrieves every run, ordered by created_at ASC, storage_key ASC.
func (s *RunStore) List(ctx context.Context) ([]*domain.BacktestRun, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs ORDER BY created_at ASC, storage_key ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRun(row pgx.Row) (*domain.BacktestRun, error) {
	var r domain.BacktestRun
	var variant string

	err := row.Scan(
		&r.StorageKey, &r.RunID, &r.Fingerprint, &variant, &r.Revision,
		&r.RawConfig, &r.CanonicalConfig, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Variant = domain.Variant(variant)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func scanRuns(rows pgx.Rows) ([]*domain.BacktestRun, error) {
	var runs []*domain.BacktestRun

	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backtest run row: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backtest run rows: %w", err)
	}

	return runs, nil
}
