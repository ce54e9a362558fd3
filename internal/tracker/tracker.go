// Package tracker owns the lifecycle of simulated positions: opening them from
// entry candidates, marking them to market each date and closing them when an
// exit rule fires. Every transition appends immutable ledger records.
package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/idhash"
	"options-backtest-lab/internal/selector"
)

// Errors returned by Open.
var (
	ErrNilCandidate   = errors.New("tracker: nil candidate")
	ErrEmptyCandidate = errors.New("tracker: candidate has no legs")
	ErrNilSnapshot    = errors.New("tracker: nil snapshot")
)

// EventKind classifies an Event.
type EventKind string

const (
	EventOpened  EventKind = "OPENED"
	EventClosed  EventKind = "CLOSED"
	EventDataGap EventKind = "DATA_GAP"
)

// Event reports one lifecycle transition or valuation problem.
type Event struct {
	Kind    EventKind
	TradeID string
	Date    time.Time
	Status  domain.TradeStatus
	PnL     float64
	Reason  string
}

// Tracker is single-threaded; one instance serves one run.
type Tracker struct {
	storageKey string
	variant    domain.Variant
	multiplier decimal.Decimal
	profitTake *float64
	stopLoss   *float64
	forceAfter *int
	logger     zerolog.Logger

	seq    int
	trades []*domain.Trade
	open   []*domain.Trade
	gaps   []domain.DataGap

	pendingTrades []domain.TradeRecord
	pendingLegs   []domain.LegRecord
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a tracker for the run stored under storageKey.
func New(storageKey string, cfg domain.StrategyConfig, opts ...Option) *Tracker {
	t := &Tracker{
		storageKey: storageKey,
		variant:    cfg.Variant,
		multiplier: decimal.NewFromFloat(cfg.ContractMultiplier),
		profitTake: cfg.ProfitTake,
		stopLoss:   cfg.StopLoss,
		forceAfter: cfg.ForceCloseAfterDays,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open materializes a candidate into an OPEN trade priced at the candidate's quotes.
func (t *Tracker) Open(date time.Time, snap *domain.MarketSnapshot, c *selector.Candidate) (*domain.Trade, error) {
	if c == nil {
		return nil, ErrNilCandidate
	}
	if len(c.Legs) == 0 {
		return nil, ErrEmptyCandidate
	}
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	day := domain.Day(date)
	t.seq++

	trade := &domain.Trade{
		TradeID:    idhash.ComputeTradeID(t.storageKey, t.seq, day),
		StorageKey: t.storageKey,
		Seq:        t.seq,
		Variant:    c.Variant,
		Tag:        c.Tag,
		EntryDate:  day,
		Contracts:  c.Contracts,
		Multiplier: t.multiplier.InexactFloat64(),
		Status:     domain.StatusOpen,
	}
	if trade.Variant == "" {
		trade.Variant = t.variant
	}

	for _, cl := range c.Legs {
		q := cl.Quote
		leg := domain.TradeLeg{
			Type:            q.Type,
			Position:        cl.Position,
			Role:            cl.Role,
			Strike:          q.Strike,
			Expiry:          domain.Day(q.Expiry),
			EntryPrice:      q.Price,
			EntryDelta:      q.Delta,
			UnderlyingEntry: snap.UnderlyingClose,
			MarkPrice:       q.Price,
			UnderlyingMark:  snap.UnderlyingClose,
			Delta:           q.Delta,
			Gamma:           q.Gamma,
			Vega:            q.Vega,
			Theta:           q.Theta,
			IV:              q.IV,
		}
		if trade.Expiry.IsZero() || leg.Expiry.Before(trade.Expiry) {
			trade.Expiry = leg.Expiry
		}
		trade.Legs = append(trade.Legs, leg)
	}

	premium := signedPremium(trade.Legs, func(l domain.TradeLeg) float64 { return l.EntryPrice })
	trade.EntryPremium = premium.InexactFloat64()
	trade.EntryValue = t.scale(premium, trade.Contracts)
	trade.DTE = domain.DaysBetween(day, trade.Expiry)

	t.trades = append(t.trades, trade)
	t.open = append(t.open, trade)

	t.pendingTrades = append(t.pendingTrades, domain.NewTradeRecord(trade, domain.RevisionOpen))
	for i := range trade.Legs {
		t.pendingLegs = append(t.pendingLegs, domain.NewLegRecord(trade, i, day, domain.LegTypeOpen))
	}

	t.logger.Debug().
		Str("trade_id", trade.TradeID).
		Str("date", domain.FormatDate(day)).
		Str("expiry", domain.FormatDate(trade.Expiry)).
		Int("contracts", trade.Contracts).
		Float64("premium", trade.EntryPremium).
		Msg("trade opened")

	return trade, nil
}

// MarkAndClose values every open trade against snap and closes those meeting
// an exit rule. Exit priority: expiry, profit take, stop loss, force close.
func (t *Tracker) MarkAndClose(date time.Time, snap *domain.MarketSnapshot) []Event {
	day := domain.Day(date)
	var events []Event
	var stillOpen []*domain.Trade

	for _, trade := range t.open {
		if !trade.EntryDate.Before(day) {
			stillOpen = append(stillOpen, trade)
			continue
		}

		priced := t.mark(trade, day, snap)
		expired := !trade.Expiry.After(day)

		if !priced && !expired {
			events = append(events, t.hold(trade, day, "no quote for any leg"))
			stillOpen = append(stillOpen, trade)
			continue
		}

		pnlPerShare := t.revalue(trade)

		if status, ok := t.exitStatus(trade, day, expired, pnlPerShare); ok {
			events = append(events, t.close(trade, day, status))
			continue
		}

		for i := range trade.Legs {
			t.pendingLegs = append(t.pendingLegs, domain.NewLegRecord(trade, i, day, domain.LegTypeAudit))
		}
		stillOpen = append(stillOpen, trade)
	}

	t.open = stillOpen
	return events
}

// HoldAll records a date without market data. Every trade open before the
// date keeps its last marks and is flagged with its own gap.
func (t *Tracker) HoldAll(date time.Time, reason string) []Event {
	day := domain.Day(date)
	t.gaps = append(t.gaps, domain.DataGap{Date: day, Reason: reason})
	events := []Event{{Kind: EventDataGap, Date: day, Reason: reason}}
	for _, trade := range t.open {
		if !trade.EntryDate.Before(day) {
			continue
		}
		events = append(events, t.hold(trade, day, reason))
	}
	return events
}

// hold flags trade as unvalued on day. No ledger rows are written for it.
func (t *Tracker) hold(trade *domain.Trade, day time.Time, reason string) Event {
	trade.DataGap = true
	gap := domain.DataGap{Date: day, TradeID: trade.TradeID, Reason: reason}
	t.gaps = append(t.gaps, gap)
	ev := Event{Kind: EventDataGap, TradeID: trade.TradeID, Date: day, Reason: reason}
	t.logger.Warn().
		Err(ev.Err()).
		Str("trade_id", trade.TradeID).
		Str("date", domain.FormatDate(day)).
		Msg("trade held at last marks")
	return ev
}

// CloseRemaining closes every open trade at its last marks with status.
func (t *Tracker) CloseRemaining(date time.Time, status domain.TradeStatus) []Event {
	day := domain.Day(date)
	var events []Event
	var stillOpen []*domain.Trade
	for _, trade := range t.open {
		if !trade.EntryDate.Before(day) {
			// entry and close on the same date is never allowed
			stillOpen = append(stillOpen, trade)
			continue
		}
		t.revalue(trade)
		events = append(events, t.close(trade, day, status))
	}
	t.open = stillOpen
	return events
}

// Drain returns the records appended since the previous Drain.
func (t *Tracker) Drain(date time.Time) domain.LedgerBatch {
	b := domain.LedgerBatch{
		StorageKey: t.storageKey,
		Date:       domain.Day(date),
		Trades:     t.pendingTrades,
		Legs:       t.pendingLegs,
	}
	t.pendingTrades = nil
	t.pendingLegs = nil
	return b
}

// OpenTrades returns the open trades in entry order.
func (t *Tracker) OpenTrades() []*domain.Trade {
	out := make([]*domain.Trade, len(t.open))
	copy(out, t.open)
	return out
}

// Trades returns every trade opened so far in entry order.
func (t *Tracker) Trades() []*domain.Trade {
	out := make([]*domain.Trade, len(t.trades))
	copy(out, t.trades)
	return out
}

// DataGaps returns the recorded gaps in date order.
func (t *Tracker) DataGaps() []domain.DataGap {
	out := make([]domain.DataGap, len(t.gaps))
	copy(out, t.gaps)
	return out
}

// mark updates leg marks from snap. Legs expiring on or before day settle at
// intrinsic value. Returns false when no leg could be priced.
func (t *Tracker) mark(trade *domain.Trade, day time.Time, snap *domain.MarketSnapshot) bool {
	priced := 0
	for i := range trade.Legs {
		leg := &trade.Legs[i]
		leg.UnderlyingMark = snap.UnderlyingClose

		if !leg.Expiry.After(day) {
			leg.MarkPrice = leg.Intrinsic(snap.UnderlyingClose)
			leg.Settled = true
			leg.Stale = false
			leg.Delta, leg.Gamma, leg.Vega, leg.Theta = 0, 0, 0, 0
			priced++
			continue
		}

		q, ok := snap.Quote(leg.Expiry, leg.Strike, leg.Type)
		if !ok || q.Price <= 0 {
			leg.Stale = true
			continue
		}
		leg.MarkPrice = q.Price
		leg.Delta = q.Delta
		leg.Gamma = q.Gamma
		leg.Vega = q.Vega
		leg.Theta = q.Theta
		leg.IV = q.IV
		leg.Stale = false
		priced++
	}
	return priced > 0
}

// revalue refreshes UnrealizedPnL from the current marks and returns the
// per-share P&L.
func (t *Tracker) revalue(trade *domain.Trade) decimal.Decimal {
	cost := signedPremium(trade.Legs, func(l domain.TradeLeg) float64 { return l.MarkPrice })
	pnl := decimal.NewFromFloat(trade.EntryPremium).Sub(cost)
	trade.UnrealizedPnL = t.scale(pnl, trade.Contracts)
	return pnl
}

func (t *Tracker) exitStatus(trade *domain.Trade, day time.Time, expired bool, pnlPerShare decimal.Decimal) (domain.TradeStatus, bool) {
	if expired {
		return domain.StatusClosedExpiry, true
	}

	base := decimal.NewFromFloat(trade.EntryPremium).Abs()
	if !base.IsZero() {
		pct := pnlPerShare.Div(base).Mul(decimal.NewFromInt(100))
		if t.profitTake != nil && pct.GreaterThanOrEqual(decimal.NewFromFloat(*t.profitTake)) {
			return domain.StatusClosedProfit, true
		}
		if t.stopLoss != nil && pct.Neg().GreaterThanOrEqual(decimal.NewFromFloat(*t.stopLoss)) {
			return domain.StatusClosedStopLoss, true
		}
	}

	if t.forceAfter != nil && domain.DaysBetween(trade.EntryDate, day) >= *t.forceAfter {
		return domain.StatusClosedForceTime, true
	}
	return "", false
}

func (t *Tracker) close(trade *domain.Trade, day time.Time, status domain.TradeStatus) Event {
	cost := signedPremium(trade.Legs, func(l domain.TradeLeg) float64 { return l.MarkPrice })

	closeDate := day
	trade.Status = status
	trade.CloseDate = &closeDate
	trade.ClosePremium = cost.InexactFloat64()
	trade.CloseValue = t.scale(cost, trade.Contracts)
	trade.RealizedPnL = t.scale(decimal.NewFromFloat(trade.EntryPremium).Sub(cost), trade.Contracts)
	trade.UnrealizedPnL = 0

	t.pendingTrades = append(t.pendingTrades, domain.NewTradeRecord(trade, domain.RevisionClose))
	for i := range trade.Legs {
		t.pendingLegs = append(t.pendingLegs, domain.NewLegRecord(trade, i, day, domain.LegTypeClose))
	}

	t.logger.Debug().
		Str("trade_id", trade.TradeID).
		Str("date", domain.FormatDate(day)).
		Str("status", string(status)).
		Float64("pnl", trade.RealizedPnL).
		Msg("trade closed")

	return Event{Kind: EventClosed, TradeID: trade.TradeID, Date: day, Status: status, PnL: trade.RealizedPnL}
}

// scale converts a per-share amount into money: x multiplier x contracts, rounded to cents.
func (t *Tracker) scale(perShare decimal.Decimal, contracts int) float64 {
	return perShare.Mul(t.multiplier).Mul(decimal.NewFromInt(int64(contracts))).Round(2).InexactFloat64()
}

// signedPremium sums leg prices with short legs positive and long legs negative.
func signedPremium(legs []domain.TradeLeg, price func(domain.TradeLeg) float64) decimal.Decimal {
	total := decimal.Zero
	for _, l := range legs {
		p := decimal.NewFromFloat(price(l))
		if l.Position == domain.PositionLong {
			total = total.Sub(p)
		} else {
			total = total.Add(p)
		}
	}
	return total
}

// Err returns the gap of a data-gap event as an *apperr.DataGapError, nil otherwise.
func (e Event) Err() error {
	if e.Kind != EventDataGap {
		return nil
	}
	return &apperr.DataGapError{Date: e.Date, TradeID: e.TradeID, Reason: e.Reason}
}

// String renders an event for logs.
func (e Event) String() string {
	switch e.Kind {
	case EventClosed:
		return fmt.Sprintf("%s %s %s pnl=%.2f", domain.FormatDate(e.Date), e.TradeID, e.Status, e.PnL)
	case EventDataGap:
		if e.TradeID == "" {
			return fmt.Sprintf("%s data gap: %s", domain.FormatDate(e.Date), e.Reason)
		}
		return fmt.Sprintf("%s %s data gap: %s", domain.FormatDate(e.Date), e.TradeID, e.Reason)
	default:
		return fmt.Sprintf("%s %s %s", domain.FormatDate(e.Date), e.TradeID, e.Kind)
	}
}
