package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/domain"
)

type flakySource struct {
	MemorySource
	fail  bool
	calls int
}

func (f *flakySource) Snapshot(ctx context.Context, d time.Time) (*domain.MarketSnapshot, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("i/o timeout")
	}
	return f.MemorySource.Snapshot(ctx, d)
}

func TestGuarded_TripsAfterConsecutiveFailures(t *testing.T) {
	src := &flakySource{fail: true}
	settings := DefaultBreakerSettings()
	settings.ConsecutiveFailures = 3
	settings.Timeout = time.Hour
	g := NewGuarded("test", src, settings, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Snapshot(ctx, date(2020, 1, 2))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Snapshot(ctx, date(2020, 1, 2))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, src.calls, "open breaker must not reach the source")
}

func TestGuarded_NotFoundDoesNotTrip(t *testing.T) {
	src := &flakySource{}
	settings := DefaultBreakerSettings()
	settings.ConsecutiveFailures = 2
	g := NewGuarded("test", src, settings, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := g.Snapshot(context.Background(), date(2020, 1, 2))
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuarded_PassesResults(t *testing.T) {
	inner := NewMemorySource(domain.NewMarketSnapshot(date(2020, 1, 2), 100, nil))
	g := NewGuarded("test", inner, DefaultBreakerSettings(), zerolog.Nop())

	dates, err := g.Dates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2020, 1, 2)}, dates)

	snap, err := g.Snapshot(context.Background(), date(2020, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.UnderlyingClose)

	bars, err := g.Underlying(context.Background())
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}
