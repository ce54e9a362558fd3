package metrics

import (
	"context"
	"fmt"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// Aggregator computes run summaries from stored ledgers.
type Aggregator struct {
	ledger storage.LedgerStore
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(ledger storage.LedgerStore) *Aggregator {
	return &Aggregator{ledger: ledger}
}

// Compute rebuilds the trades of run from its ledger and summarizes them.
// Calendar facts not held by the ledger are taken from the dates trades were marked on.
func (a *Aggregator) Compute(ctx context.Context, run *domain.BacktestRun) (*domain.RunSummary, error) {
	tradeRecs, err := a.ledger.GetTradeRecords(ctx, run.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load trade records: %w", err)
	}
	legRecs, err := a.ledger.GetLegRecords(ctx, run.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load leg records: %w", err)
	}

	info := RunInfo{}
	seen := make(map[int64]bool)
	for _, l := range legRecs {
		day := domain.Day(l.Date)
		if seen[day.Unix()] {
			continue
		}
		seen[day.Unix()] = true
		info.TradingDates++
		if info.FirstDate == nil || day.Before(*info.FirstDate) {
			d := day
			info.FirstDate = &d
		}
		if info.LastDate == nil || day.After(*info.LastDate) {
			d := day
			info.LastDate = &d
		}
	}

	sum := Summarize(domain.RebuildTrades(tradeRecs, legRecs), info)
	sum.StorageKey = run.StorageKey
	sum.RunID = run.RunID
	sum.Fingerprint = run.Fingerprint
	sum.Variant = run.Variant
	return sum, nil
}
