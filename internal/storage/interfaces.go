package storage

import (
	"context"

	"options-backtest-lab/internal/domain"
)

// RunStore provides access to backtest_runs storage.
type RunStore interface {
	// Insert registers a run. Returns ErrDuplicateKey if storage_key exists.
	Insert(ctx context.Context, run *domain.BacktestRun) error

	// GetByStorageKey retrieves a run by its table key. Returns ErrNotFound if not exists.
	GetByStorageKey(ctx context.Context, storageKey string) (*domain.BacktestRun, error)

	// GetByFingerprint retrieves every run of a configuration, ordered by revision ASC.
	GetByFingerprint(ctx context.Context, fingerprint string) ([]*domain.BacktestRun, error)

	// GetByVariant retrieves every run of a variant, ordered by created_at ASC, storage_key ASC.
	GetByVariant(ctx context.Context, variant domain.Variant) ([]*domain.BacktestRun, error)

	// List retrieves every run, ordered by created_at ASC, storage_key ASC.
	List(ctx context.Context) ([]*domain.BacktestRun, error)
}

// LedgerStore provides access to trade_records and leg_records storage.
type LedgerStore interface {
	// Append commits one date's records atomically. Fails the entire batch,
	// writing nothing, on any duplicate (ErrDuplicateKey).
	Append(ctx context.Context, batch domain.LedgerBatch) error

	// GetTradeRecords retrieves all trade records of a run, ordered by seq ASC, revision ASC.
	GetTradeRecords(ctx context.Context, storageKey string) ([]domain.TradeRecord, error)

	// GetLegRecords retrieves all leg records of a run, ordered by date ASC, trade_id ASC, leg_index ASC.
	GetLegRecords(ctx context.Context, storageKey string) ([]domain.LegRecord, error)
}

// SummaryStore provides access to run_summaries storage.
type SummaryStore interface {
	// Insert stores the summary of a completed run. Returns ErrDuplicateKey if storage_key exists.
	Insert(ctx context.Context, s *domain.RunSummary) error

	// GetByStorageKey retrieves a summary. Returns ErrNotFound if the run is not complete.
	GetByStorageKey(ctx context.Context, storageKey string) (*domain.RunSummary, error)
}

// Stores bundles the stores one backend provides.
type Stores struct {
	Runs      RunStore
	Ledger    LedgerStore
	Summaries SummaryStore
}
