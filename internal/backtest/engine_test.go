package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/marketdata"
	"options-backtest-lab/internal/observability"
	"options-backtest-lab/internal/recorder"
	"options-backtest-lab/internal/storage"
	"options-backtest-lab/internal/storage/memory"
)

type fixture struct {
	engine   *Engine
	recorder *recorder.Recorder
	stores   storage.Stores
	metrics  *observability.Metrics
	source   *marketdata.Synthetic
}

func newFixture(t *testing.T, synth marketdata.SyntheticConfig, opts ...recorder.Option) *fixture {
	t.Helper()
	stores := memory.NewStores()
	rec := recorder.New(stores, opts...)
	src := marketdata.NewSynthetic(synth)
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	return &fixture{
		engine:   NewEngine(src, rec, WithMetrics(m)),
		recorder: rec,
		stores:   stores,
		metrics:  m,
		source:   src,
	}
}

func config(v domain.Variant, mutate func(*domain.StrategyConfig)) domain.StrategyConfig {
	cfg := domain.DefaultStrategyConfig(v)
	cfg.MaxOpenTrades = 1
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestEngine_Scenarios(t *testing.T) {
	biweekly := marketdata.DefaultSyntheticConfig()
	biweekly.Schedule = marketdata.ExpiryBiweekly

	tests := []struct {
		name   string
		synth  marketdata.SyntheticConfig
		cfg    domain.StrategyConfig
		trades int
	}{
		{
			name:   "short put dte 30",
			synth:  marketdata.DefaultSyntheticConfig(),
			cfg:    config(domain.VariantShortPut, func(c *domain.StrategyConfig) { c.DTE = 30 }),
			trades: 2,
		},
		{
			name:   "short straddle dte 45",
			synth:  marketdata.DefaultSyntheticConfig(),
			cfg:    config(domain.VariantShortStraddle, func(c *domain.StrategyConfig) { c.DTE = 45 }),
			trades: 2,
		},
		{
			name:   "put calendar 30/60 biweekly",
			synth:  biweekly,
			cfg:    config(domain.VariantPutCalendar, nil),
			trades: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.synth)
			res, err := f.engine.Run(context.Background(), Request{Config: tt.cfg})
			require.NoError(t, err)

			assert.False(t, res.Reused)
			assert.Len(t, res.Trades, tt.trades)
			require.NotNil(t, res.Summary)
			assert.Equal(t, tt.trades, res.Summary.TotalTrades)
			assert.Equal(t, res.Run.StorageKey, res.Summary.StorageKey)

			for _, trade := range res.Trades {
				require.NotNil(t, trade.CloseDate)
				assert.True(t, trade.EntryDate.Before(*trade.CloseDate))
				assert.True(t, trade.Status.IsClosed())
			}

			stored, err := f.recorder.Summary(context.Background(), res.Run.StorageKey)
			require.NoError(t, err)
			assert.Equal(t, tt.trades, stored.TotalTrades)

			assert.Equal(t, float64(tt.trades),
				testutil.ToFloat64(f.metrics.TradesOpened.WithLabelValues(string(tt.cfg.Variant))))
			assert.Equal(t, 1.0,
				testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues(string(tt.cfg.Variant), observability.RunCompleted)))
		})
	}
}

func TestEngine_DataGapFlagsHeldTrades(t *testing.T) {
	synth := marketdata.DefaultSyntheticConfig()
	for d := 6; d <= 10; d++ {
		synth.GapDates = append(synth.GapDates, time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC))
	}
	f := newFixture(t, synth)

	res, err := f.engine.Run(context.Background(), Request{Config: config(domain.VariantShortPut, nil)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	first := res.Trades[0]
	assert.True(t, first.EntryDate.Before(synth.GapDates[0]))
	assert.True(t, first.DataGap)
	assert.Equal(t, 5, res.Summary.DataGapDates)
	assert.Equal(t, 1, res.Summary.DataGapTrades)
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.DataGaps.WithLabelValues(observability.GapTrade)))

	loaded, err := f.recorder.LoadLedger(context.Background(), res.Run.StorageKey)
	require.NoError(t, err)
	assert.True(t, loaded[0].DataGap)
}

func TestEngine_StaggeredCapsContractsPerExpiry(t *testing.T) {
	for _, contracts := range []int{1, 2} {
		f := newFixture(t, marketdata.DefaultSyntheticConfig())
		cfg := config(domain.VariantShortStraddle, func(c *domain.StrategyConfig) {
			c.Staggered = true
			c.Contracts = contracts
			c.MaxOpenTrades = domain.DefaultMaxOpenTrades
			c.TradeDelayDays = intPtr(1)
		})
		res, err := f.engine.Run(context.Background(), Request{Config: cfg})
		require.NoError(t, err)
		require.NotEmpty(t, res.Trades)

		for _, a := range res.Trades {
			held := 0
			for _, b := range res.Trades {
				if b.Expiry.Equal(a.Expiry) && !b.EntryDate.After(a.EntryDate) && b.CloseDate.After(a.EntryDate) {
					held += b.Contracts
				}
			}
			assert.LessOrEqual(t, held, contracts, "contracts open on %s at %s", domain.FormatDate(a.Expiry), domain.FormatDate(a.EntryDate))
		}
	}
}

func TestEngine_LedgerRoundTrip(t *testing.T) {
	f := newFixture(t, marketdata.DefaultSyntheticConfig())
	res, err := f.engine.Run(context.Background(), Request{Config: config(domain.VariantShortPutCall, nil)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	loaded, err := f.recorder.LoadLedger(context.Background(), res.Run.StorageKey)
	require.NoError(t, err)
	require.Len(t, loaded, len(res.Trades))

	for i, want := range res.Trades {
		got := loaded[i]
		assert.Equal(t, want.TradeID, got.TradeID)
		assert.Equal(t, want.Seq, got.Seq)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.EntryDate, got.EntryDate)
		assert.Equal(t, *want.CloseDate, *got.CloseDate)
		assert.InDelta(t, want.EntryValue, got.EntryValue, 1e-9)
		assert.InDelta(t, want.RealizedPnL, got.RealizedPnL, 1e-9)
		require.Len(t, got.Legs, len(want.Legs))
		for j := range want.Legs {
			assert.Equal(t, want.Legs[j].Type, got.Legs[j].Type)
			assert.Equal(t, want.Legs[j].Position, got.Legs[j].Position)
			assert.InDelta(t, want.Legs[j].Strike, got.Legs[j].Strike, 1e-9)
			assert.InDelta(t, want.Legs[j].EntryPrice, got.Legs[j].EntryPrice, 1e-9)
			assert.InDelta(t, want.Legs[j].MarkPrice, got.Legs[j].MarkPrice, 1e-9)
		}
	}
}

func TestEngine_ProfitTakeClosesOnFirstCrossing(t *testing.T) {
	const profitTake = 10.0
	f := newFixture(t, marketdata.DefaultSyntheticConfig())
	cfg := config(domain.VariantShortPut, func(c *domain.StrategyConfig) {
		c.ProfitTake = floatPtr(profitTake)
		c.StopLoss = floatPtr(75)
	})

	res, err := f.engine.Run(context.Background(), Request{Config: cfg})
	require.NoError(t, err)

	legs, err := f.stores.Ledger.GetLegRecords(context.Background(), res.Run.StorageKey)
	require.NoError(t, err)

	profits := 0
	for _, trade := range res.Trades {
		if trade.Status != domain.StatusClosedProfit {
			continue
		}
		profits++

		// per-share P&L as a percentage of the entry premium on each mark date
		pct := make(map[time.Time]float64)
		for _, l := range legs {
			if l.TradeID != trade.TradeID || l.LegType == domain.LegTypeOpen {
				continue
			}
			cost := l.Price
			if l.Position == domain.PositionLong {
				cost = -cost
			}
			pct[l.Date] += cost
		}
		for date, cost := range pct {
			p := (trade.EntryPremium - cost) / trade.EntryPremium * 100
			if date.Equal(*trade.CloseDate) {
				assert.GreaterOrEqual(t, p, profitTake-1e-6, "close date %s", domain.FormatDate(date))
			} else {
				assert.Less(t, p, profitTake+1e-6, "held past crossing on %s", domain.FormatDate(date))
			}
		}
	}
	assert.Positive(t, profits, "expected at least one CLOSED_PROFIT trade")
	assert.Equal(t, profits, res.Summary.ClosedProfit)
}

func TestEngine_ExpiryWithoutExitRules(t *testing.T) {
	f := newFixture(t, marketdata.DefaultSyntheticConfig())
	res, err := f.engine.Run(context.Background(), Request{Config: config(domain.VariantShortPut, nil)})
	require.NoError(t, err)

	dates, err := f.source.Dates(context.Background())
	require.NoError(t, err)

	expired := 0
	for _, trade := range res.Trades {
		if trade.Status != domain.StatusClosedExpiry {
			assert.Equal(t, domain.StatusClosedEndOfData, trade.Status)
			continue
		}
		expired++
		assert.False(t, trade.CloseDate.Before(trade.Expiry))
		for _, d := range dates {
			if !d.Before(trade.Expiry) {
				assert.Equal(t, d, *trade.CloseDate, "must close on the first date on or after expiry")
				break
			}
		}
		for _, leg := range trade.Legs {
			assert.True(t, leg.Settled)
		}
	}
	assert.Positive(t, expired)
}

func TestEngine_Policies(t *testing.T) {
	cfg := config(domain.VariantShortPut, nil)

	t.Run("rerun creates revisions", func(t *testing.T) {
		f := newFixture(t, marketdata.DefaultSyntheticConfig())
		first, err := f.engine.Run(context.Background(), Request{Config: cfg})
		require.NoError(t, err)
		second, err := f.engine.Run(context.Background(), Request{Config: cfg})
		require.NoError(t, err)

		assert.Equal(t, first.Run.Fingerprint, second.Run.Fingerprint)
		assert.Equal(t, 2, second.Run.Revision)
		assert.Equal(t, first.Run.StorageKey+"_r2", second.Run.StorageKey)
		assert.Len(t, second.Trades, len(first.Trades))
	})

	t.Run("reuse returns completed run", func(t *testing.T) {
		f := newFixture(t, marketdata.DefaultSyntheticConfig(), recorder.WithPolicy(recorder.PolicyReuse))
		first, err := f.engine.Run(context.Background(), Request{Config: cfg})
		require.NoError(t, err)
		second, err := f.engine.Run(context.Background(), Request{Config: cfg})
		require.NoError(t, err)

		assert.True(t, second.Reused)
		assert.Nil(t, second.Schedule)
		assert.Equal(t, first.Run.StorageKey, second.Run.StorageKey)
		assert.Len(t, second.Trades, len(first.Trades))
		assert.Equal(t, first.Summary.TotalTrades, second.Summary.TotalTrades)

		runs, err := f.recorder.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})
}

func TestEngine_Errors(t *testing.T) {
	t.Run("invalid config registers nothing", func(t *testing.T) {
		f := newFixture(t, marketdata.DefaultSyntheticConfig())
		cfg := config(domain.VariantShortPut, func(c *domain.StrategyConfig) { c.DTE = -5 })

		_, err := f.engine.Run(context.Background(), Request{Config: cfg})
		require.ErrorIs(t, err, apperr.ErrConfig)
		assert.Equal(t, apperr.ExitConfig, apperr.ExitCode(err))

		runs, err := f.recorder.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("empty source is fatal", func(t *testing.T) {
		rec := recorder.New(memory.NewStores())
		engine := NewEngine(marketdata.NewMemorySource(), rec)

		_, err := engine.Run(context.Background(), Request{Config: config(domain.VariantShortPut, nil)})
		require.ErrorIs(t, err, apperr.ErrNoMarketData)
		assert.Equal(t, apperr.ExitData, apperr.ExitCode(err))
	})

	t.Run("range outside calendar completes with zero trades", func(t *testing.T) {
		f := newFixture(t, marketdata.DefaultSyntheticConfig())
		cfg := config(domain.VariantShortPut, func(c *domain.StrategyConfig) {
			c.StartDate = "2021-01-01"
			c.EndDate = "2021-02-01"
		})

		res, err := f.engine.Run(context.Background(), Request{Config: cfg})
		require.NoError(t, err)
		assert.Empty(t, res.Trades)
		assert.Equal(t, 0, res.Summary.TotalTrades)
		assert.Nil(t, res.Summary.FirstDate)
	})
}

func TestEngine_StoresRawConfig(t *testing.T) {
	f := newFixture(t, marketdata.DefaultSyntheticConfig())
	cfg := config(domain.VariantShortPut, nil)

	res, err := f.engine.Run(context.Background(), Request{Config: cfg, Raw: "--dte 30 --max-open-trades 1"})
	require.NoError(t, err)
	assert.Equal(t, "--dte 30 --max-open-trades 1", res.Run.RawConfig)

	res, err = f.engine.Run(context.Background(), Request{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, res.Run.RawConfig, cfg.WithDefaults().RawParams())
}
