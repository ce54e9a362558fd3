package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// SummaryStore implements storage.SummaryStore using ClickHouse.
// Sweeps write summaries here for cross-run analysis.
type SummaryStore struct {
	conn *Conn
}

// NewSummaryStore creates a new SummaryStore.
func NewSummaryStore(conn *Conn) *SummaryStore {
	return &SummaryStore{conn: conn}
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

	// ReplacingMergeTree would replace; keep append-only semantics
	exists, err := s.exists(ctx, sum.StorageKey)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO run_summaries (`+summaryColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		sum.StorageKey, sum.RunID, sum.Fingerprint, string(sum.Variant),
		uint32(sum.TradingDates), sum.FirstDate, sum.LastDate,
		uint32(sum.TotalTrades), uint32(sum.ClosedProfit), uint32(sum.ClosedStopLoss),
		uint32(sum.ClosedForceTime), uint32(sum.ClosedExpiry), uint32(sum.ClosedEndOfData),
		uint32(sum.Wins), uint32(sum.Losses), sum.WinRate,
		sum.TotalPnL, sum.MeanPnL, sum.MedianPnL, sum.P10PnL, sum.P90PnL, sum.MinPnL, sum.MaxPnL, sum.StddevPnL,
		sum.MaxDrawdown, uint32(sum.MaxConsecutiveLosses), sum.PremiumCollected,
		uint32(sum.DataGapTrades), uint32(sum.DataGapDates), sum.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("insert run summary: %w", err)
	}
	return nil
}

// GetByStorageKey retrieves a summary. Returns ErrNotFound if not exists.
func (s *SummaryStore) GetByStorageKey(ctx context.Context, storageKey string) (*domain.RunSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM run_summaries FINAL WHERE storage_key = ? LIMIT 1`

	var sum domain.RunSummary
	var variant string
	var tradingDates, total, profit, stop, force, expiry, endOfData uint32
	var wins, losses, maxConsecutive, gapTrades, gapDates uint32
	var firstDate, lastDate *time.Time

	err := s.conn.QueryRow(ctx, query, storageKey).Scan(
		&sum.StorageKey, &sum.RunID, &sum.Fingerprint, &variant,
		&tradingDates, &firstDate, &lastDate,
		&total, &profit, &stop, &force, &expiry, &endOfData,
		&wins, &losses, &sum.WinRate,
		&sum.TotalPnL, &sum.MeanPnL, &sum.MedianPnL, &sum.P10PnL, &sum.P90PnL, &sum.MinPnL, &sum.MaxPnL, &sum.StddevPnL,
		&sum.MaxDrawdown, &maxConsecutive, &sum.PremiumCollected,
		&gapTrades, &gapDates, &sum.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run summary: %w", err)
	}

	sum.Variant = domain.Variant(variant)
	sum.TradingDates = int(tradingDates)
	sum.FirstDate = utcDate(firstDate)
	sum.LastDate = utcDate(lastDate)
	sum.TotalTrades = int(total)
	sum.ClosedProfit = int(profit)
	sum.ClosedStopLoss = int(stop)
	sum.ClosedForceTime = int(force)
	sum.ClosedExpiry = int(expiry)
	sum.ClosedEndOfData = int(endOfData)
	sum.Wins = int(wins)
	sum.Losses = int(losses)
	sum.MaxConsecutiveLosses = int(maxConsecutive)
	sum.DataGapTrades = int(gapTrades)
	sum.DataGapDates = int(gapDates)
	sum.CompletedAt = sum.CompletedAt.UTC()
	return &sum, nil
}

func (s *SummaryStore) exists(ctx context.Context, storageKey string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM run_summaries WHERE storage_key = ?`, storageKey).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := domain.Day(*t)
	return &d
}
