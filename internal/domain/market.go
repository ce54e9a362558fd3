package domain

import (
	"math"
	"sort"
	"time"
)

// OptionQuote is one end-of-day option row.
type OptionQuote struct {
	Expiry time.Time
	Strike float64
	Type   OptionType
	Delta  float64
	Price  float64 // mark price, last trade or mid
	Bid    float64
	Ask    float64
	Gamma  float64
	Vega   float64
	Theta  float64
	IV     float64
}

// DTE returns calendar days from date to the quote's expiry.
func (q OptionQuote) DTE(date time.Time) int {
	return DaysBetween(date, q.Expiry)
}

type quoteKey struct {
	expiry int64
	strike int64
	typ    OptionType
}

func makeQuoteKey(expiry time.Time, strike float64, typ OptionType) quoteKey {
	return quoteKey{
		expiry: Day(expiry).Unix(),
		strike: int64(math.Round(strike * 1000)),
		typ:    typ,
	}
}

// MarketSnapshot is the option chain of a single trading date. Read-only once built.
type MarketSnapshot struct {
	Date            time.Time
	UnderlyingClose float64
	Quotes          []OptionQuote

	index    map[quoteKey]int
	expiries []time.Time
}

// NewMarketSnapshot builds a snapshot with its lookup index.
func NewMarketSnapshot(date time.Time, underlyingClose float64, quotes []OptionQuote) *MarketSnapshot {
	s := &MarketSnapshot{
		Date:            Day(date),
		UnderlyingClose: underlyingClose,
		Quotes:          quotes,
		index:           make(map[quoteKey]int, len(quotes)),
	}

	seen := make(map[int64]bool)
	for i, q := range quotes {
		s.index[makeQuoteKey(q.Expiry, q.Strike, q.Type)] = i
		e := Day(q.Expiry)
		if !seen[e.Unix()] {
			seen[e.Unix()] = true
			s.expiries = append(s.expiries, e)
		}
	}
	sort.Slice(s.expiries, func(i, j int) bool { return s.expiries[i].Before(s.expiries[j]) })
	return s
}

// Quote looks up a contract by expiry, strike and type.
func (s *MarketSnapshot) Quote(expiry time.Time, strike float64, typ OptionType) (OptionQuote, bool) {
	if s.index == nil {
		for _, q := range s.Quotes {
			if makeQuoteKey(q.Expiry, q.Strike, q.Type) == makeQuoteKey(expiry, strike, typ) {
				return q, true
			}
		}
		return OptionQuote{}, false
	}
	i, ok := s.index[makeQuoteKey(expiry, strike, typ)]
	if !ok {
		return OptionQuote{}, false
	}
	return s.Quotes[i], true
}

// Expiries returns the distinct expiries in ascending order.
func (s *MarketSnapshot) Expiries() []time.Time {
	if s.index == nil {
		return NewMarketSnapshot(s.Date, s.UnderlyingClose, s.Quotes).expiries
	}
	out := make([]time.Time, len(s.expiries))
	copy(out, s.expiries)
	return out
}

// Chain returns the quotes of one expiry and type, ordered by strike.
func (s *MarketSnapshot) Chain(expiry time.Time, typ OptionType) []OptionQuote {
	e := Day(expiry)
	var out []OptionQuote
	for _, q := range s.Quotes {
		if q.Type == typ && Day(q.Expiry).Equal(e) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// UnderlyingBar is one daily close of the underlying.
type UnderlyingBar struct {
	Date  time.Time
	Close float64
}
