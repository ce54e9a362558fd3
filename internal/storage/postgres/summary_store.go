package postgres

import (
	"context"
	"fmt"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// SummaryStore implements storage.SummaryStore using PostgreSQL.
type SummaryStore struct {
	pool *Pool
}

// NewSummaryStore creates a new SummaryStore.
func NewSummaryStore(pool *Pool) *SummaryStore {
	return &SummaryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SummaryStore = (*SummaryStore)(nil)

const summaryColumns = `
	storage_key, run_id, fingerprint, variant,
	trading_dates, first_date, last_date,
	total_trades, closed_profit, closed_stop_loss, closed_force_time, closed_expiry, closed_end_of_data,
	wins, losses, win_rate,
	total_pnl, mean_pnl, median_pnl, p10_pnl, p90_pnl, min_pnl, max_pnl, stddev_pnl,
	max_drawdown, max_consecutive_losses, premium_collected,
	data_gap_trades, data_gap_dates, completed_at
`

// Insert stores a summary. Returns ErrDuplicateKey if storage_key exists.
func (s *SummaryStore) Insert(ctx context.Context, sum *domain.RunSummary) error {
	if sum == nil || sum.StorageKey == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO run_summaries (` + summaryColumns + `) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7,
		$8, $9, $10, $11, $12, $13,
		$14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24,
		$25, $26, $27,
		$28, $29, $30
	)`

	_, err := s.pool.Exec(ctx, query,
		sum.StorageKey, sum.RunID, sum.Fingerprint, string(sum.Variant),
		sum.TradingDates, sum.FirstDate, sum.LastDate,
		sum.TotalTrades, sum.ClosedProfit, sum.ClosedStopLoss, sum.ClosedForceTime, sum.ClosedExpiry, sum.ClosedEndOfData,
		sum.Wins, sum.Losses, sum.WinRate,
		sum.TotalPnL, sum.MeanPnL, sum.MedianPnL, sum.P10PnL, sum.P90PnL, sum.MinPnL, sum.MaxPnL, sum.StddevPnL,
		sum.MaxDrawdown, sum.MaxConsecutiveLosses, sum.PremiumCollected,
		sum.DataGapTrades, sum.DataGapDates, sum.CompletedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run summary: %w", err)
	}
	return nil
}

// GetByStorageKey retrieves a summary. Returns ErrNotFound if not exists.
func (s *SummaryStore) GetByStorageKey(ctx context.Context, storageKey string) (*domain.RunSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM run_summaries WHERE storage_key = $1`

	var sum domain.RunSummary
	var variant string

	err := s.pool.QueryRow(ctx, query, storageKey).Scan(
		&sum.StorageKey, &sum.RunID, &sum.Fingerprint, &variant,
		&sum.TradingDates, &sum.FirstDate, &sum.LastDate,
		&sum.TotalTrades, &sum.ClosedProfit, &sum.ClosedStopLoss, &sum.ClosedForceTime, &sum.ClosedExpiry, &sum.ClosedEndOfData,
		&sum.Wins, &sum.Losses, &sum.WinRate,
		&sum.TotalPnL, &sum.MeanPnL, &sum.MedianPnL, &sum.P10PnL, &sum.P90PnL, &sum.MinPnL, &sum.MaxPnL, &sum.StddevPnL,
		&sum.MaxDrawdown, &sum.MaxConsecutiveLosses, &sum.PremiumCollected,
		&sum.DataGapTrades, &sum.DataGapDates, &sum.CompletedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run summary: %w", err)
	}

	sum.Variant = domain.Variant(variant)
	sum.CompletedAt = sum.CompletedAt.UTC()
	return &sum, nil
}

// NewStores returns the PostgreSQL backend.
func NewStores(pool *Pool) storage.Stores {
	return storage.Stores{
		Runs:      NewRunStore(pool),
		Ledger:    NewLedgerStore(pool),
		Summaries: NewSummaryStore(pool),
	}
}
