package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/metrics"
	"options-backtest-lab/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	runs       storage.RunStore
	ledger     storage.LedgerStore
	summaries  storage.SummaryStore
	aggregator *metrics.Aggregator
	now        func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(stores storage.Stores) *Generator {
	return &Generator{
		runs:       stores.Runs,
		ledger:     stores.Ledger,
		summaries:  stores.Summaries,
		aggregator: metrics.NewAggregator(stores.Ledger),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report of the run stored under storageKey.
// Returns storage.ErrNotFound if no such run exists.
func (g *Generator) Generate(ctx context.Context, storageKey string) (*Report, error) {
	run, err := g.runs.GetByStorageKey(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", storageKey, err)
	}

	tradeRecs, err := g.ledger.GetTradeRecords(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	legRecs, err := g.ledger.GetLegRecords(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	trades := domain.RebuildTrades(tradeRecs, legRecs)

	partial := false
	summary, err := g.summaries.GetByStorageKey(ctx, storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		// Interrupted run: summarize what the ledger holds without storing it.
		partial = true
		summary, err = g.aggregator.Compute(ctx, run)
	}
	if err != nil {
		return nil, err
	}

	configYAML, err := canonicalYAML(run.CanonicalConfig)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: g.now(),
		Run:         run,
		DisplayName: displayName(run),
		Summary:     summary,
		Partial:     partial,
		ConfigYAML:  configYAML,
		Statuses:    statusRows(trades),
	}

	asOf := g.now()
	if summary.LastDate != nil {
		asOf = *summary.LastDate
	}
	for _, t := range trades {
		report.Trades = append(report.Trades, tradeRow(t, asOf))
		if t.DataGap {
			report.DataGapTrades = append(report.DataGapTrades, t.TradeID)
		}
	}
	return report, nil
}

// Index lists every stored run with its completion state.
// Sorted by created_at ASC, storage_key ASC.
func (g *Generator) Index(ctx context.Context) ([]IndexRow, error) {
	runs, err := g.runs.List(ctx)
	if err != nil {
		return nil, err
	}
	return g.IndexOf(ctx, runs)
}

// IndexOf builds index rows for the given runs, keeping their order.
func (g *Generator) IndexOf(ctx context.Context, runs []*domain.BacktestRun) ([]IndexRow, error) {
	rows := make([]IndexRow, 0, len(runs))
	for _, run := range runs {
		row := IndexRow{
			StorageKey:  run.StorageKey,
			Variant:     run.Variant,
			Revision:    run.Revision,
			Fingerprint: run.Fingerprint,
			CreatedAt:   run.CreatedAt,
		}
		sum, err := g.summaries.GetByStorageKey(ctx, run.StorageKey)
		switch {
		case err == nil:
			row.Complete = true
			row.TotalTrades = sum.TotalTrades
			row.TotalPnL = sum.TotalPnL
			row.WinRate = sum.WinRate
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func displayName(run *domain.BacktestRun) string {
	var cfg struct {
		Staggered bool `json:"staggered"`
	}
	if err := json.Unmarshal([]byte(run.CanonicalConfig), &cfg); err == nil && cfg.Staggered {
		return string(run.Variant) + "_staggered"
	}
	return string(run.Variant)
}

// canonicalYAML renders canonical JSON as YAML with sorted keys.
func canonicalYAML(canonical string) (string, error) {
	if strings.TrimSpace(canonical) == "" {
		return "", nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(canonical), &params); err != nil {
		return "", fmt.Errorf("decode canonical config: %w", err)
	}
	out, err := yaml.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(out), nil
}

func statusRows(trades []*domain.Trade) []StatusRow {
	byStatus := make(map[domain.TradeStatus]*StatusRow)
	for _, t := range trades {
		if !t.Status.IsClosed() {
			continue
		}
		row, ok := byStatus[t.Status]
		if !ok {
			row = &StatusRow{Status: t.Status}
			byStatus[t.Status] = row
		}
		row.Count++
		row.TotalPnL += t.RealizedPnL
	}

	var rows []StatusRow
	for _, s := range domain.ClosedStatuses {
		if row, ok := byStatus[s]; ok {
			rows = append(rows, *row)
		}
	}
	return rows
}

func tradeRow(t *domain.Trade, asOf time.Time) TradeRow {
	low, high := t.Breakevens()
	return TradeRow{
		Seq:           t.Seq,
		TradeID:       t.TradeID,
		EntryDate:     t.EntryDate,
		CloseDate:     t.CloseDate,
		Expiry:        t.Expiry,
		DTE:           t.DTE,
		Contracts:     t.Contracts,
		Status:        t.Status,
		EntryValue:    t.EntryValue,
		CloseValue:    t.CloseValue,
		RealizedPnL:   t.RealizedPnL,
		HoldingDays:   t.HoldingDays(asOf),
		BreakevenLow:  low,
		BreakevenHigh: high,
		DataGap:       t.DataGap,
		Legs:          describeLegs(t.Legs),
	}
}

// describeLegs renders legs as "SHORT PUT 3200 2020-02-21 @ 40.25", ordered as stored.
func describeLegs(legs []domain.TradeLeg) string {
	parts := make([]string, 0, len(legs))
	for _, l := range legs {
		parts = append(parts, fmt.Sprintf("%s %s %g %s @ %.2f",
			l.Position, l.Type, l.Strike, domain.FormatDate(l.Expiry), l.EntryPrice))
	}
	return strings.Join(parts, "; ")
}
