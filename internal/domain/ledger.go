package domain

import (
	"sort"
	"time"
)

// LegType tags a leg record with the lifecycle event that produced it.
type LegType string

const (
	LegTypeOpen  LegType = "OPEN"
	LegTypeAudit LegType = "AUDIT"
	LegTypeClose LegType = "CLOSE"
)

func (t LegType) order() int {
	switch t {
	case LegTypeOpen:
		return 0
	case LegTypeAudit:
		return 1
	default:
		return 2
	}
}

// Trade record revisions.
const (
	RevisionOpen  = 0
	RevisionClose = 1
)

// TradeRecord is the immutable snapshot of a trade at one state transition.
// Primary key: (storage_key, trade_id, revision).
type TradeRecord struct {
	StorageKey   string
	TradeID      string
	Revision     int
	Seq          int
	Variant      Variant
	Tag          string
	EntryDate    time.Time
	Expiry       time.Time
	DTE          int
	Contracts    int
	Multiplier   float64
	Status       TradeStatus
	EntryPremium float64
	EntryValue   float64
	CloseDate    *time.Time
	ClosePremium float64
	CloseValue   float64
	RealizedPnL  float64
	DataGap      bool
}

// LegRecord is one leg of one trade valued on one date.
// Primary key: (storage_key, trade_id, leg_index, date, leg_type).
type LegRecord struct {
	StorageKey string
	TradeID    string
	LegIndex   int
	Date       time.Time
	LegType    LegType
	OptionType OptionType
	Position   PositionSide
	Role       LegRole
	Strike     float64
	Expiry     time.Time
	Price      float64
	Delta      float64
	Gamma      float64
	Vega       float64
	Theta      float64
	IV         float64
	Underlying float64
	Stale      bool
	Settled    bool
}

// LedgerBatch holds the records produced by one simulated date.
// A batch is committed atomically or not at all.
type LedgerBatch struct {
	StorageKey string
	Date       time.Time
	Trades     []TradeRecord
	Legs       []LegRecord
}

// IsEmpty reports whether the batch carries no records.
func (b LedgerBatch) IsEmpty() bool {
	return len(b.Trades) == 0 && len(b.Legs) == 0
}

// NewTradeRecord snapshots t at the given revision.
func NewTradeRecord(t *Trade, revision int) TradeRecord {
	r := TradeRecord{
		StorageKey:   t.StorageKey,
		TradeID:      t.TradeID,
		Revision:     revision,
		Seq:          t.Seq,
		Variant:      t.Variant,
		Tag:          t.Tag,
		EntryDate:    t.EntryDate,
		Expiry:       t.Expiry,
		DTE:          t.DTE,
		Contracts:    t.Contracts,
		Multiplier:   t.Multiplier,
		Status:       t.Status,
		EntryPremium: t.EntryPremium,
		EntryValue:   t.EntryValue,
		ClosePremium: t.ClosePremium,
		CloseValue:   t.CloseValue,
		RealizedPnL:  t.RealizedPnL,
		DataGap:      t.DataGap,
	}
	if t.CloseDate != nil {
		d := *t.CloseDate
		r.CloseDate = &d
	}
	return r
}

// NewLegRecord snapshots leg i of t as valued on date.
func NewLegRecord(t *Trade, i int, date time.Time, typ LegType) LegRecord {
	leg := t.Legs[i]
	r := LegRecord{
		StorageKey: t.StorageKey,
		TradeID:    t.TradeID,
		LegIndex:   i,
		Date:       Day(date),
		LegType:    typ,
		OptionType: leg.Type,
		Position:   leg.Position,
		Role:       leg.Role,
		Strike:     leg.Strike,
		Expiry:     leg.Expiry,
		Price:      leg.MarkPrice,
		Delta:      leg.Delta,
		Gamma:      leg.Gamma,
		Vega:       leg.Vega,
		Theta:      leg.Theta,
		IV:         leg.IV,
		Underlying: leg.UnderlyingMark,
		Stale:      leg.Stale,
		Settled:    leg.Settled,
	}
	if typ == LegTypeOpen {
		r.Price = leg.EntryPrice
		r.Delta = leg.EntryDelta
		r.Underlying = leg.UnderlyingEntry
	}
	return r
}

// RebuildTrades reconstructs trades from ledger records. The highest revision of
// each trade wins; legs take entry fields from their OPEN record and mark fields
// from their latest record. Trades are returned ordered by Seq.
func RebuildTrades(tradeRecs []TradeRecord, legRecs []LegRecord) []*Trade {
	latest := make(map[string]TradeRecord)
	for _, r := range tradeRecs {
		if cur, ok := latest[r.TradeID]; !ok || r.Revision > cur.Revision {
			latest[r.TradeID] = r
		}
	}

	sortedLegs := make([]LegRecord, len(legRecs))
	copy(sortedLegs, legRecs)
	sort.SliceStable(sortedLegs, func(i, j int) bool {
		a, b := sortedLegs[i], sortedLegs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.LegType.order() < b.LegType.order()
	})

	legs := make(map[string]map[int]*TradeLeg)
	for _, r := range sortedLegs {
		byIndex, ok := legs[r.TradeID]
		if !ok {
			byIndex = make(map[int]*TradeLeg)
			legs[r.TradeID] = byIndex
		}
		leg, ok := byIndex[r.LegIndex]
		if !ok {
			leg = &TradeLeg{
				Type:     r.OptionType,
				Position: r.Position,
				Role:     r.Role,
				Strike:   r.Strike,
				Expiry:   r.Expiry,
			}
			byIndex[r.LegIndex] = leg
		}
		if r.LegType == LegTypeOpen {
			leg.EntryPrice = r.Price
			leg.EntryDelta = r.Delta
			leg.UnderlyingEntry = r.Underlying
		}
		leg.MarkPrice = r.Price
		leg.UnderlyingMark = r.Underlying
		leg.Delta = r.Delta
		leg.Gamma = r.Gamma
		leg.Vega = r.Vega
		leg.Theta = r.Theta
		leg.IV = r.IV
		leg.Stale = r.Stale
		leg.Settled = r.Settled
	}

	trades := make([]*Trade, 0, len(latest))
	for id, r := range latest {
		t := &Trade{
			TradeID:      r.TradeID,
			StorageKey:   r.StorageKey,
			Seq:          r.Seq,
			Variant:      r.Variant,
			Tag:          r.Tag,
			EntryDate:    r.EntryDate,
			Expiry:       r.Expiry,
			DTE:          r.DTE,
			Contracts:    r.Contracts,
			Multiplier:   r.Multiplier,
			Status:       r.Status,
			EntryPremium: r.EntryPremium,
			EntryValue:   r.EntryValue,
			ClosePremium: r.ClosePremium,
			CloseValue:   r.CloseValue,
			RealizedPnL:  r.RealizedPnL,
			DataGap:      r.DataGap,
		}
		if r.CloseDate != nil {
			d := *r.CloseDate
			t.CloseDate = &d
		}
		byIndex := legs[id]
		indexes := make([]int, 0, len(byIndex))
		for i := range byIndex {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			t.Legs = append(t.Legs, *byIndex[i])
		}
		trades = append(trades, t)
	}

	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Seq != trades[j].Seq {
			return trades[i].Seq < trades[j].Seq
		}
		return trades[i].TradeID < trades[j].TradeID
	})
	return trades
}
