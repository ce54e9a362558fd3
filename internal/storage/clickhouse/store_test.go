package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/marketdata"
	"options-backtest-lab/internal/storage"
)

func TestSummaryStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSummaryStore(conn)

	first := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	last := time.Date(2020, 3, 30, 0, 0, 0, 0, time.UTC)
	sum := &domain.RunSummary{
		StorageKey: "ss_key", RunID: "run-1", Fingerprint: "fp", Variant: domain.VariantShortStraddle,
		TradingDates: 64, FirstDate: &first, LastDate: &last,
		TotalTrades: 2, ClosedExpiry: 1, ClosedEndOfData: 1, Wins: 1, Losses: 1, WinRate: 0.5,
		TotalPnL: -320, MeanPnL: -160, MedianPnL: -160, MinPnL: -900, MaxPnL: 580,
		MaxDrawdown: 900, MaxConsecutiveLosses: 1, PremiumCollected: 17000,
		DataGapTrades: 1, DataGapDates: 2,
		CompletedAt: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.Insert(ctx, sum))
	assert.ErrorIs(t, store.Insert(ctx, sum), storage.ErrDuplicateKey)

	got, err := store.GetByStorageKey(ctx, "ss_key")
	require.NoError(t, err)
	assert.Equal(t, sum, got)

	_, err = store.GetByStorageKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQuoteSource_RoundTrip(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	synth := marketdata.NewSynthetic(marketdata.DefaultSyntheticConfig())
	dates, err := synth.Dates(ctx)
	require.NoError(t, err)

	var snaps []*domain.MarketSnapshot
	for _, d := range dates[:3] {
		snap, err := synth.Snapshot(ctx, d)
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}

	src := NewQuoteSource(conn)
	require.NoError(t, src.InsertSnapshots(ctx, snaps...))

	gotDates, err := src.Dates(ctx)
	require.NoError(t, err)
	assert.Equal(t, dates[:3], gotDates)

	got, err := src.Snapshot(ctx, dates[1])
	require.NoError(t, err)
	assert.Equal(t, snaps[1].UnderlyingClose, got.UnderlyingClose)
	assert.Len(t, got.Quotes, len(snaps[1].Quotes))

	want := snaps[1].Quotes[0]
	q, ok := got.Quote(want.Expiry, want.Strike, want.Type)
	require.True(t, ok)
	assert.Equal(t, want.Price, q.Price)
	assert.InDelta(t, want.Delta, q.Delta, 1e-12)

	bars, err := src.Underlying(ctx)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, snaps[2].UnderlyingClose, bars[2].Close)

	_, err = src.Snapshot(ctx, dates[5])
	assert.True(t, errors.Is(err, marketdata.ErrNotFound))
}
