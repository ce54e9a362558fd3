package domain

import (
	"time"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

// Trade status constants. Every status except OPEN is terminal.
const (
	StatusOpen            TradeStatus = "OPEN"
	StatusClosedProfit    TradeStatus = "CLOSED_PROFIT"
	StatusClosedStopLoss  TradeStatus = "CLOSED_STOP_LOSS"
	StatusClosedForceTime TradeStatus = "CLOSED_FORCE_TIME"
	StatusClosedExpiry    TradeStatus = "CLOSED_EXPIRY"
	StatusClosedEndOfData TradeStatus = "CLOSED_END_OF_DATA"
)

// ClosedStatuses lists the terminal statuses in report order.
var ClosedStatuses = []TradeStatus{
	StatusClosedProfit,
	StatusClosedStopLoss,
	StatusClosedForceTime,
	StatusClosedExpiry,
	StatusClosedEndOfData,
}

// IsClosed reports whether s is terminal.
func (s TradeStatus) IsClosed() bool {
	return s != StatusOpen && s != ""
}

// OptionType is PUT or CALL.
type OptionType string

const (
	OptionPut  OptionType = "PUT"
	OptionCall OptionType = "CALL"
)

// PositionSide is SHORT (premium received) or LONG (premium paid).
type PositionSide string

const (
	PositionShort PositionSide = "SHORT"
	PositionLong  PositionSide = "LONG"
)

// LegRole distinguishes calendar legs. Empty for single-expiry structures.
type LegRole string

const (
	RoleNone  LegRole = ""
	RoleFront LegRole = "FRONT"
	RoleBack  LegRole = "BACK"
)

// TradeLeg is one option contract of a trade.
type TradeLeg struct {
	Type     OptionType
	Position PositionSide
	Role     LegRole
	Strike   float64
	Expiry   time.Time

	EntryPrice      float64
	EntryDelta      float64
	UnderlyingEntry float64

	// Latest mark
	MarkPrice      float64
	UnderlyingMark float64
	Delta          float64
	Gamma          float64
	Vega           float64
	Theta          float64
	IV             float64

	Stale   bool // no quote on the last mark date, MarkPrice carried forward
	Settled bool // expired and settled at intrinsic value
}

// Sign is +1 for short legs and -1 for long legs.
func (l TradeLeg) Sign() float64 {
	if l.Position == PositionLong {
		return -1
	}
	return 1
}

// Intrinsic returns the exercise value of the leg at the given underlying price.
func (l TradeLeg) Intrinsic(underlying float64) float64 {
	var v float64
	if l.Type == OptionPut {
		v = l.Strike - underlying
	} else {
		v = underlying - l.Strike
	}
	if v < 0 {
		return 0
	}
	return v
}

// Trade is a multi-leg option position opened on one date.
type Trade struct {
	TradeID    string
	StorageKey string
	Seq        int
	Variant    Variant
	Tag        string // spacing scope, "staggered" for staggered tranches
	EntryDate  time.Time
	Expiry     time.Time // nearest leg expiry
	DTE        int
	Contracts  int
	Multiplier float64
	Status     TradeStatus

	// EntryPremium is the signed per-share premium: short legs add, long legs subtract.
	EntryPremium float64
	// EntryValue is EntryPremium scaled by multiplier and contracts.
	EntryValue float64

	CloseDate    *time.Time
	ClosePremium float64 // signed per-share cost to close
	CloseValue   float64

	RealizedPnL   float64
	UnrealizedPnL float64
	DataGap       bool

	Legs []TradeLeg
}

// IsOpen reports whether the trade has not been closed.
func (t *Trade) IsOpen() bool {
	return t.CloseDate == nil
}

// Breakevens returns the lower and upper underlying prices at which the trade
// breaks even at expiry, using the strike range widened by the per-share credit.
func (t *Trade) Breakevens() (low, high float64) {
	if len(t.Legs) == 0 {
		return 0, 0
	}
	minStrike, maxStrike := t.Legs[0].Strike, t.Legs[0].Strike
	for _, leg := range t.Legs[1:] {
		if leg.Strike < minStrike {
			minStrike = leg.Strike
		}
		if leg.Strike > maxStrike {
			maxStrike = leg.Strike
		}
	}
	return minStrike - t.EntryPremium, maxStrike + t.EntryPremium
}

// HoldingDays returns calendar days from entry to close, or to asOf while open.
func (t *Trade) HoldingDays(asOf time.Time) int {
	if t.CloseDate != nil {
		return DaysBetween(t.EntryDate, *t.CloseDate)
	}
	return DaysBetween(t.EntryDate, asOf)
}

// Clone returns a deep copy.
func (t *Trade) Clone() *Trade {
	c := *t
	if t.CloseDate != nil {
		d := *t.CloseDate
		c.CloseDate = &d
	}
	c.Legs = make([]TradeLeg, len(t.Legs))
	copy(c.Legs, t.Legs)
	return &c
}
