package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSynthetic_WeekdayCalendar(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())

	dates, err := src.Dates(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, dates)

	assert.Equal(t, date(2020, 1, 1), dates[0])
	assert.Equal(t, date(2020, 3, 30), dates[len(dates)-1])
	for _, d := range dates {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}
}

func TestSynthetic_MonthlyExpiries(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())

	exp := src.Expiries()
	require.GreaterOrEqual(t, len(exp), 4)
	assert.Equal(t, date(2020, 1, 17), exp[0])
	assert.Equal(t, date(2020, 2, 21), exp[1])
	assert.Equal(t, date(2020, 3, 20), exp[2])
	assert.Equal(t, date(2020, 4, 17), exp[3])
}

func TestSynthetic_BiweeklyExpiries(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Schedule = ExpiryBiweekly
	src := NewSynthetic(cfg)

	exp := src.Expiries()
	require.GreaterOrEqual(t, len(exp), 4)
	assert.Equal(t, date(2020, 1, 17), exp[0])
	assert.Equal(t, date(2020, 1, 31), exp[1])
	assert.Equal(t, date(2020, 2, 14), exp[2])
	assert.Equal(t, date(2020, 2, 28), exp[3])
}

func TestSynthetic_SnapshotQuotes(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())
	ctx := context.Background()

	snap, err := src.Snapshot(ctx, date(2020, 1, 2))
	require.NoError(t, err)
	require.NotEmpty(t, snap.Quotes)

	spot, ok := src.Spot(date(2020, 1, 2))
	require.True(t, ok)
	assert.Equal(t, spot, snap.UnderlyingClose)

	for _, q := range snap.Quotes {
		if q.Type == domain.OptionPut {
			assert.LessOrEqual(t, q.Delta, 0.0)
		} else {
			assert.GreaterOrEqual(t, q.Delta, 0.0)
		}
		assert.GreaterOrEqual(t, q.Price, 0.0)
		assert.LessOrEqual(t, q.Bid, q.Ask)
	}

	_, err = src.Snapshot(ctx, date(2020, 1, 4))
	assert.ErrorIs(t, err, ErrNotFound, "weekends have no snapshot")
}

func TestSynthetic_ExpiryDayPricesIntrinsic(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())
	expiry := date(2020, 2, 21)

	snap, err := src.Snapshot(context.Background(), expiry)
	require.NoError(t, err)

	for _, q := range snap.Chain(expiry, domain.OptionPut) {
		want := q.Strike - snap.UnderlyingClose
		if want < 0 {
			want = 0
		}
		assert.InDelta(t, want, q.Price, 0.01)
	}
}

func TestSynthetic_GapDates(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.GapDates = []time.Time{date(2020, 1, 6)}
	src := NewSynthetic(cfg)

	dates, err := src.Dates(context.Background())
	require.NoError(t, err)
	assert.Contains(t, dates, date(2020, 1, 6))

	_, err = src.Snapshot(context.Background(), date(2020, 1, 6))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSynthetic_UnderlyingIncludesHistory(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())

	bars, err := src.Underlying(context.Background())
	require.NoError(t, err)

	dates, _ := src.Dates(context.Background())
	assert.Len(t, bars, len(dates)+60)
	assert.True(t, bars[0].Date.Before(date(2020, 1, 1)))
}

func TestBlackScholes_PutCallParity(t *testing.T) {
	call := blackScholes(domain.OptionCall, 100, 100, 0.5, 0, 0.2)
	put := blackScholes(domain.OptionPut, 100, 100, 0.5, 0, 0.2)

	// C - P = S - K at zero rate
	assert.InDelta(t, 0, call.price-put.price, 0.02)
	assert.InDelta(t, 1, call.delta-put.delta, 1e-9)
	assert.Greater(t, call.gamma, 0.0)
	assert.Less(t, call.theta, 0.0)
}
