package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/selector"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2020, m, d, 0, 0, 0, 0, time.UTC)
}

var expiry = day(time.February, 21)

func putQuote(price float64) domain.OptionQuote {
	return domain.OptionQuote{Expiry: expiry, Strike: 3200, Type: domain.OptionPut, Delta: -0.3, Price: price}
}

func snap(date time.Time, underlying float64, quotes ...domain.OptionQuote) *domain.MarketSnapshot {
	return domain.NewMarketSnapshot(date, underlying, quotes)
}

func shortPutCandidate(price float64) *selector.Candidate {
	return &selector.Candidate{
		Variant:    domain.VariantShortPut,
		Expiry:     expiry,
		Contracts:  2,
		Underlying: 3250,
		Legs:       []selector.CandidateLeg{{Quote: putQuote(price), Position: domain.PositionShort}},
	}
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func newTracker(mutate func(*domain.StrategyConfig)) *Tracker {
	cfg := domain.DefaultStrategyConfig(domain.VariantShortPut)
	if mutate != nil {
		mutate(&cfg)
	}
	return New("sp_test", cfg)
}

func TestOpen(t *testing.T) {
	tr := newTracker(nil)

	trade, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40.25))
	require.NoError(t, err)

	assert.Equal(t, 1, trade.Seq)
	assert.Len(t, trade.TradeID, 64)
	assert.Equal(t, domain.StatusOpen, trade.Status)
	assert.True(t, trade.IsOpen())
	assert.Equal(t, expiry, trade.Expiry)
	assert.Equal(t, 50, trade.DTE)
	assert.Equal(t, 40.25, trade.EntryPremium)
	assert.Equal(t, 8050.0, trade.EntryValue) // 40.25 x 100 x 2

	batch := tr.Drain(day(time.January, 2))
	require.Len(t, batch.Trades, 1)
	assert.Equal(t, domain.RevisionOpen, batch.Trades[0].Revision)
	require.Len(t, batch.Legs, 1)
	assert.Equal(t, domain.LegTypeOpen, batch.Legs[0].LegType)
	assert.Equal(t, 3250.0, batch.Legs[0].Underlying)

	assert.True(t, tr.Drain(day(time.January, 3)).IsEmpty())
}

func TestOpen_RejectsBadInput(t *testing.T) {
	tr := newTracker(nil)
	s := snap(day(time.January, 2), 3250)

	_, err := tr.Open(day(time.January, 2), s, nil)
	assert.ErrorIs(t, err, ErrNilCandidate)

	_, err = tr.Open(day(time.January, 2), s, &selector.Candidate{})
	assert.ErrorIs(t, err, ErrEmptyCandidate)

	_, err = tr.Open(day(time.January, 2), nil, shortPutCandidate(1))
	assert.ErrorIs(t, err, ErrNilSnapshot)
}

func TestMarkAndClose_Audit(t *testing.T) {
	tr := newTracker(nil)
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)
	tr.Drain(day(time.January, 2))

	events := tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3260, putQuote(35)))
	assert.Empty(t, events)

	open := tr.OpenTrades()
	require.Len(t, open, 1)
	assert.Equal(t, 1000.0, open[0].UnrealizedPnL) // (40-35) x 100 x 2

	batch := tr.Drain(day(time.January, 3))
	assert.Empty(t, batch.Trades)
	require.Len(t, batch.Legs, 1)
	assert.Equal(t, domain.LegTypeAudit, batch.Legs[0].LegType)
	assert.Equal(t, 35.0, batch.Legs[0].Price)
}

func TestMarkAndClose_ProfitTake(t *testing.T) {
	tr := newTracker(func(c *domain.StrategyConfig) { c.ProfitTake = floatPtr(10) })
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)

	// 5% gain: hold
	events := tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3255, putQuote(38)))
	assert.Empty(t, events)

	// exactly 10% gain: close
	events = tr.MarkAndClose(day(time.January, 6), snap(day(time.January, 6), 3270, putQuote(36)))
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusClosedProfit, events[0].Status)
	assert.Equal(t, 800.0, events[0].PnL)

	trade := tr.Trades()[0]
	assert.False(t, trade.IsOpen())
	assert.Equal(t, day(time.January, 6), *trade.CloseDate)
	assert.Equal(t, 36.0, trade.ClosePremium)
	assert.Equal(t, 7200.0, trade.CloseValue)
	assert.Equal(t, 800.0, trade.RealizedPnL)
	assert.Zero(t, trade.UnrealizedPnL)
	assert.Empty(t, tr.OpenTrades())
}

func TestMarkAndClose_StopLoss(t *testing.T) {
	tr := newTracker(func(c *domain.StrategyConfig) {
		c.ProfitTake = floatPtr(10)
		c.StopLoss = floatPtr(75)
	})
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)

	events := tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3100, putQuote(69)))
	assert.Empty(t, events, "72.5% loss is below the stop")

	events = tr.MarkAndClose(day(time.January, 6), snap(day(time.January, 6), 3050, putQuote(70)))
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusClosedStopLoss, events[0].Status)
	assert.Equal(t, -6000.0, events[0].PnL)
}

func TestMarkAndClose_ForceClose(t *testing.T) {
	tr := newTracker(func(c *domain.StrategyConfig) { c.ForceCloseAfterDays = intPtr(4) })
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)

	assert.Empty(t, tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3250, putQuote(40))))

	events := tr.MarkAndClose(day(time.January, 6), snap(day(time.January, 6), 3250, putQuote(39)))
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusClosedForceTime, events[0].Status)
}

func TestMarkAndClose_ExpiryWinsOverProfit(t *testing.T) {
	tr := newTracker(func(c *domain.StrategyConfig) { c.ProfitTake = floatPtr(10) })
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)

	// expiry day, put finishes 30 in the money
	events := tr.MarkAndClose(expiry, snap(expiry, 3170))
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusClosedExpiry, events[0].Status)

	trade := tr.Trades()[0]
	assert.True(t, trade.Legs[0].Settled)
	assert.Equal(t, 30.0, trade.Legs[0].MarkPrice)
	assert.Equal(t, 2000.0, trade.RealizedPnL) // (40-30) x 100 x 2

	// expiry settlement is evaluated before profit: a worthless put is also a 100% gain
	tr2 := newTracker(func(c *domain.StrategyConfig) { c.ProfitTake = floatPtr(10) })
	_, err = tr2.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)
	events = tr2.MarkAndClose(expiry.AddDate(0, 0, 3), snap(expiry.AddDate(0, 0, 3), 3300))
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusClosedExpiry, events[0].Status)
	assert.Equal(t, 8000.0, events[0].PnL)
}

func TestMarkAndClose_StaleLegAndDataGap(t *testing.T) {
	tr := New("ss_test", domain.DefaultStrategyConfig(domain.VariantShortStraddle))
	call := domain.OptionQuote{Expiry: expiry, Strike: 3200, Type: domain.OptionCall, Delta: 0.7, Price: 70}
	cand := &selector.Candidate{
		Variant:   domain.VariantShortStraddle,
		Expiry:    expiry,
		Contracts: 1,
		Legs: []selector.CandidateLeg{
			{Quote: putQuote(40), Position: domain.PositionShort},
			{Quote: call, Position: domain.PositionShort},
		},
	}
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), cand)
	require.NoError(t, err)
	tr.Drain(day(time.January, 2))

	// call quote missing: carried forward and flagged
	events := tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3250, putQuote(38)))
	assert.Empty(t, events)
	trade := tr.OpenTrades()[0]
	assert.False(t, trade.Legs[0].Stale)
	assert.True(t, trade.Legs[1].Stale)
	assert.Equal(t, 70.0, trade.Legs[1].MarkPrice)
	assert.Equal(t, 200.0, trade.UnrealizedPnL)
	assert.False(t, trade.DataGap)

	// every leg missing: held, flagged, no audit rows
	tr.Drain(day(time.January, 3))
	events = tr.MarkAndClose(day(time.January, 6), snap(day(time.January, 6), 3250))
	require.Len(t, events, 1)
	assert.Equal(t, EventDataGap, events[0].Kind)
	assert.True(t, trade.DataGap)
	assert.Equal(t, 200.0, trade.UnrealizedPnL)
	assert.True(t, tr.Drain(day(time.January, 6)).IsEmpty())
	require.Len(t, tr.DataGaps(), 1)
	assert.Equal(t, trade.TradeID, tr.DataGaps()[0].TradeID)
}

func TestDataGapSuppressesForceClose(t *testing.T) {
	tr := newTracker(func(c *domain.StrategyConfig) { c.ForceCloseAfterDays = intPtr(1) })
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)

	events := tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3250))
	require.Len(t, events, 1)
	assert.Equal(t, EventDataGap, events[0].Kind)
	assert.Len(t, tr.OpenTrades(), 1)
}

func TestHoldAll_FlagsOpenTrades(t *testing.T) {
	tr := newTracker(nil)
	held, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)
	tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3250, putQuote(33)))
	fresh, err := tr.Open(day(time.January, 3), snap(day(time.January, 3), 3250), shortPutCandidate(35))
	require.NoError(t, err)
	tr.Drain(day(time.January, 3))

	// a gap on the fresh trade's entry date must not flag it
	sameDay := tr.HoldAll(day(time.January, 3), "no market snapshot")
	require.Len(t, sameDay, 2)
	assert.False(t, fresh.DataGap)

	events := tr.HoldAll(day(time.January, 6), "no market snapshot")
	require.Len(t, events, 3)
	assert.Empty(t, events[0].TradeID)
	assert.Equal(t, held.TradeID, events[1].TradeID)
	assert.Equal(t, fresh.TradeID, events[2].TradeID)
	assert.True(t, held.DataGap)
	assert.True(t, fresh.DataGap)
	assert.Equal(t, 1400.0, held.UnrealizedPnL, "held at last marks")
	assert.Len(t, tr.OpenTrades(), 2)
	assert.True(t, tr.Drain(day(time.January, 6)).IsEmpty())

	err = events[1].Err()
	require.True(t, errors.Is(err, apperr.ErrDataGap))
	var gapErr *apperr.DataGapError
	require.True(t, errors.As(err, &gapErr))
	assert.Equal(t, held.TradeID, gapErr.TradeID)
	assert.Equal(t, day(time.January, 6), gapErr.Date)
	assert.NoError(t, Event{Kind: EventClosed}.Err())
}

func TestCalendarPremiumIsDebit(t *testing.T) {
	tr := New("pc_test", domain.DefaultStrategyConfig(domain.VariantPutCalendar))
	back := domain.OptionQuote{Expiry: day(time.March, 20), Strike: 3200, Type: domain.OptionPut, Price: 55}
	cand := &selector.Candidate{
		Variant:   domain.VariantPutCalendar,
		Contracts: 1,
		Legs: []selector.CandidateLeg{
			{Quote: putQuote(40), Position: domain.PositionShort, Role: domain.RoleFront},
			{Quote: back, Position: domain.PositionLong, Role: domain.RoleBack},
		},
	}
	trade, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), cand)
	require.NoError(t, err)
	assert.Equal(t, -15.0, trade.EntryPremium)
	assert.Equal(t, -1500.0, trade.EntryValue)
	assert.Equal(t, expiry, trade.Expiry, "primary expiry is the front leg")

	// front expires worthless, back worth 30
	back.Price = 30
	events := tr.MarkAndClose(expiry, snap(expiry, 3300, back))
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusClosedExpiry, events[0].Status)
	assert.Equal(t, 1500.0, events[0].PnL) // -15 - (0 - 30) = 15
	assert.False(t, trade.Legs[1].Settled)
}

func TestCloseRemaining(t *testing.T) {
	tr := newTracker(nil)
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)
	tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3250, putQuote(33)))

	events := tr.CloseRemaining(day(time.January, 3), domain.StatusClosedEndOfData)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusClosedEndOfData, events[0].Status)
	assert.Equal(t, 1400.0, events[0].PnL)
	assert.Empty(t, tr.OpenTrades())

	batch := tr.Drain(day(time.January, 3))
	var closes int
	for _, l := range batch.Legs {
		if l.LegType == domain.LegTypeClose {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	assert.Equal(t, domain.RevisionClose, batch.Trades[len(batch.Trades)-1].Revision)
}

func TestClosedTradesAreNeverTouched(t *testing.T) {
	tr := newTracker(func(c *domain.StrategyConfig) { c.ProfitTake = floatPtr(10) })
	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)
	tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3300, putQuote(20)))
	closed := tr.Trades()[0].Clone()

	tr.Drain(day(time.January, 3))
	assert.Empty(t, tr.MarkAndClose(day(time.January, 6), snap(day(time.January, 6), 3000, putQuote(200))))
	assert.Empty(t, tr.CloseRemaining(day(time.January, 6), domain.StatusClosedEndOfData))
	assert.Equal(t, closed, tr.Trades()[0])
	assert.True(t, tr.Drain(day(time.January, 6)).IsEmpty())
}

func TestRoundTripThroughLedger(t *testing.T) {
	tr := newTracker(func(c *domain.StrategyConfig) { c.ProfitTake = floatPtr(50) })
	var trades []domain.TradeRecord
	var legs []domain.LegRecord
	collect := func(d time.Time) {
		b := tr.Drain(d)
		trades = append(trades, b.Trades...)
		legs = append(legs, b.Legs...)
	}

	_, err := tr.Open(day(time.January, 2), snap(day(time.January, 2), 3250), shortPutCandidate(40))
	require.NoError(t, err)
	collect(day(time.January, 2))
	tr.MarkAndClose(day(time.January, 3), snap(day(time.January, 3), 3260, putQuote(30)))
	collect(day(time.January, 3))
	tr.MarkAndClose(day(time.January, 6), snap(day(time.January, 6), 3300, putQuote(19.5)))
	collect(day(time.January, 6))

	rebuilt := domain.RebuildTrades(trades, legs)
	require.Len(t, rebuilt, 1)
	assert.Equal(t, tr.Trades()[0], rebuilt[0])
}
