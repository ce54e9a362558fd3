package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// RunStore implements storage.RunStore using SQLite.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `storage_key, run_id, fingerprint, variant, revision, raw_config, canonical_config, created_at`

func (s *RunStore) Insert(ctx context.Context, r *domain.BacktestRun) error {
	if err := storage.ValidateRun(r); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StorageKey, r.RunID, r.Fingerprint, string(r.Variant), r.Revision,
		r.RawConfig, r.CanonicalConfig, r.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}

func (s *RunStore) GetByStorageKey(ctx context.Context, storageKey string) (*domain.BacktestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE storage_key = ?`, storageKey)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backtest run: %w", err)
	}
	return r, nil
}

func (s *RunStore) GetByFingerprint(ctx context.Context, fingerprint string) ([]*domain.BacktestRun, error) {
	return s.query(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE fingerprint = ? ORDER BY revision ASC`, fingerprint)
}

func (s *RunStore) GetByVariant(ctx context.Context, variant domain.Variant) ([]*domain.BacktestRun, error) {
	return s.query(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE variant = ? ORDER BY created_at ASC, storage_key ASC`, string(variant))
}

func (s *RunStore) List(ctx context.Context) ([]*domain.BacktestRun, error) {
	return s.query(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at ASC, storage_key ASC`)
}

func (s *RunStore) query(ctx context.Context, query string, args ...any) ([]*domain.BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.BacktestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.BacktestRun, error) {
	var r domain.BacktestRun
	var variant, created string

	if err := row.Scan(
		&r.StorageKey, &r.RunID, &r.Fingerprint, &variant, &r.Revision,
		&r.RawConfig, &r.CanonicalConfig, &created,
	); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(timestampLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.Variant = domain.Variant(variant)
	r.CreatedAt = createdAt.UTC()
	return &r, nil
}
