package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
)

func TestFeed_RangeRestriction(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())
	feed := NewFeed(src, WithStart(date(2020, 2, 1)), WithEnd(date(2020, 2, 29)))

	dates, err := feed.Dates(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, dates)
	assert.Equal(t, date(2020, 2, 3), dates[0])
	assert.Equal(t, date(2020, 2, 28), dates[len(dates)-1])
}

func TestFeed_RangeExcludingEverything(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())
	feed := NewFeed(src, WithStart(date(2021, 1, 1)))

	dates, err := feed.Dates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestFeed_EmptySource(t *testing.T) {
	feed := NewFeed(NewMemorySource())

	_, err := feed.Dates(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNoMarketData)
}

type failingSource struct{ MemorySource }

func (f *failingSource) Dates(ctx context.Context) ([]time.Time, error) {
	return nil, errors.New("connection refused")
}

func TestFeed_SourceFailureIsDataAccess(t *testing.T) {
	feed := NewFeed(&failingSource{})

	_, err := feed.Dates(context.Background())
	assert.ErrorIs(t, err, apperr.ErrDataAccess)
	assert.Equal(t, apperr.ExitData, apperr.ExitCode(err))
}

func TestFeed_SnapshotNotFoundPassesThrough(t *testing.T) {
	feed := NewFeed(NewMemorySource())

	_, err := feed.Snapshot(context.Background(), date(2020, 1, 2))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, apperr.ErrDataAccess))
}

func TestFeed_Indicator(t *testing.T) {
	src := NewSynthetic(DefaultSyntheticConfig())
	feed := NewFeed(src)
	ctx := context.Background()

	rsi, ok, err := feed.Indicator(ctx, date(2020, 1, 2), IndicatorRSI, 14)
	require.NoError(t, err)
	require.True(t, ok, "sixty days of history cover a 14 day rsi")
	assert.GreaterOrEqual(t, rsi, 0.0)
	assert.LessOrEqual(t, rsi, 100.0)

	again, _, err := feed.Indicator(ctx, date(2020, 1, 2), IndicatorRSI, 14)
	require.NoError(t, err)
	assert.Equal(t, rsi, again)

	vol, ok, err := feed.Indicator(ctx, date(2020, 1, 2), IndicatorRealizedVol, 20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, vol, 0.0)

	_, _, err = feed.Indicator(ctx, date(2020, 1, 2), "macd", 14)
	assert.ErrorIs(t, err, ErrUnknownIndicator)
}

func TestFeed_IndicatorUnavailableWithoutHistory(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.HistoryDays = 0
	feed := NewFeed(NewSynthetic(cfg))

	_, ok, err := feed.Indicator(context.Background(), date(2020, 1, 2), IndicatorRSI, 14)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = feed.Indicator(context.Background(), date(2019, 12, 1), IndicatorRSI, 14)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySource(t *testing.T) {
	a := domain.NewMarketSnapshot(date(2020, 1, 3), 101, nil)
	b := domain.NewMarketSnapshot(date(2020, 1, 2), 100, nil)
	src := NewMemorySource(a, b)
	ctx := context.Background()

	dates, err := src.Dates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2020, 1, 2), date(2020, 1, 3)}, dates)

	bars, err := src.Underlying(ctx)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Close)

	src.Remove(date(2020, 1, 2))
	_, err = src.Snapshot(ctx, date(2020, 1, 2))
	assert.ErrorIs(t, err, ErrNotFound)
}
