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

// SummaryStore implements storage.SummaryStore using SQLite.
type SummaryStore struct {
	db *DB
}

// NewSummaryStore creates a new SummaryStore.
func NewSummaryStore(db *DB) *SummaryStore {
	return &SummaryStore{db: db}
}

var _ storage.SummaryStore = (*SummaryStore)(nil)

const summaryColumns = `
	storage_key, run_id, fingerprint, variant,
	trading_dates, first_date, last_date,
	total_trades, closed_profit, closed_stop_loss, closed_force_time, closed_expiry, closed_end_of_data,
	wins, losses, win_rate,
	total_pnl, mean_pnl, median_pnl, p10_pnl, p90_pnl, min_pnl, max_pnl, stddev_pnl,
	max_drawdown, max_consecutive_losses, premium_collected,
	data_gap_trades, data_gap_dates, completed_at`

func (s *SummaryStore) Insert(ctx context.Context, sum *domain.RunSummary) error {
	if sum == nil || sum.StorageKey == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_summaries (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.StorageKey, sum.RunID, sum.Fingerprint, string(sum.Variant),
		sum.TradingDates, formatNullDate(sum.FirstDate), formatNullDate(sum.LastDate),
		sum.TotalTrades, sum.ClosedProfit, sum.ClosedStopLoss, sum.ClosedForceTime, sum.ClosedExpiry, sum.ClosedEndOfData,
		sum.Wins, sum.Losses, sum.WinRate,
		sum.TotalPnL, sum.MeanPnL, sum.MedianPnL, sum.P10PnL, sum.P90PnL, sum.MinPnL, sum.MaxPnL, sum.StddevPnL,
		sum.MaxDrawdown, sum.MaxConsecutiveLosses, sum.PremiumCollected,
		sum.DataGapTrades, sum.DataGapDates, sum.CompletedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run summary: %w", err)
	}
	return nil
}

func (s *SummaryStore) GetByStorageKey(ctx context.Context, storageKey string) (*domain.RunSummary, error) {
	var sum domain.RunSummary
	var variant, completed string
	var firstDate, lastDate sql.NullString

	err := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM run_summaries WHERE storage_key = ?`, storageKey).Scan(
		&sum.StorageKey, &sum.RunID, &sum.Fingerprint, &variant,
		&sum.TradingDates, &firstDate, &lastDate,
		&sum.TotalTrades, &sum.ClosedProfit, &sum.ClosedStopLoss, &sum.ClosedForceTime, &sum.ClosedExpiry, &sum.ClosedEndOfData,
		&sum.Wins, &sum.Losses, &sum.WinRate,
		&sum.TotalPnL, &sum.MeanPnL, &sum.MedianPnL, &sum.P10PnL, &sum.P90PnL, &sum.MinPnL, &sum.MaxPnL, &sum.StddevPnL,
		&sum.MaxDrawdown, &sum.MaxConsecutiveLosses, &sum.PremiumCollected,
		&sum.DataGapTrades, &sum.DataGapDates, &completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run summary: %w", err)
	}

	if sum.FirstDate, err = parseNullDate(firstDate); err != nil {
		return nil, err
	}
	if sum.LastDate, err = parseNullDate(lastDate); err != nil {
		return nil, err
	}
	completedAt, err := time.Parse(timestampLayout, completed)
	if err != nil {
		return nil, fmt.Errorf("parse completed_at %q: %w", completed, err)
	}
	sum.Variant = domain.Variant(variant)
	sum.CompletedAt = completedAt.UTC()
	return &sum, nil
}
