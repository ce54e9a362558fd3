package selector

import (
	"context"
	"math"
	"time"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
)

// baseSelector can be asked to select on a forced expiry, used when a
// staggered tranche ladders into an open tranche.
type baseSelector interface {
	Selector
	selectAt(date time.Time, snap *domain.MarketSnapshot, forced *time.Time) *Candidate
}

func fromVariant(cfg domain.StrategyConfig) (baseSelector, error) {
	expiry := expiryRule{target: cfg.DTE, min: cfg.DTEMin, max: cfg.DTEMax}
	contracts := cfg.TradeContracts()

	switch cfg.Variant {
	case domain.VariantShortPut:
		return &shortPut{expiry: expiry, delta: cfg.ShortPutDelta, tolerance: cfg.DeltaTolerance, contracts: contracts}, nil
	case domain.VariantShortPutCall:
		return &shortPutCall{
			expiry:    expiry,
			putDelta:  cfg.ShortPutDelta,
			callDelta: cfg.ShortCallDelta,
			tolerance: cfg.DeltaTolerance,
			contracts: contracts,
		}, nil
	case domain.VariantShortStraddle:
		return &shortStraddle{expiry: expiry, contracts: contracts}, nil
	case domain.VariantPutCalendar:
		return &putCalendar{
			front:     expiryRule{target: cfg.FrontDTE},
			back:      expiryRule{target: cfg.BackDTE},
			contracts: contracts,
		}, nil
	default:
		return nil, apperr.NewConfigError("variant", string(cfg.Variant), "unknown strategy variant")
	}
}

// shortPut sells one put near the target delta.
type shortPut struct {
	expiry    expiryRule
	delta     float64
	tolerance float64
	contracts int
}

func (s *shortPut) SpacingTag() string { return "" }

func (s *shortPut) Select(ctx context.Context, date time.Time, snap *domain.MarketSnapshot, view View) (*Candidate, error) {
	return s.selectAt(date, snap, nil), nil
}

func (s *shortPut) selectAt(date time.Time, snap *domain.MarketSnapshot, forced *time.Time) *Candidate {
	expiry, ok := resolveExpiry(s.expiry, date, snap, forced)
	if !ok {
		return nil
	}
	put, ok := pickByDelta(snap.Chain(expiry, domain.OptionPut), s.delta, s.tolerance)
	if !ok {
		return nil
	}
	return &Candidate{
		Variant:    domain.VariantShortPut,
		Expiry:     expiry,
		Contracts:  s.contracts,
		Underlying: snap.UnderlyingClose,
		Legs:       []CandidateLeg{{Quote: put, Position: domain.PositionShort}},
	}
}

// shortPutCall sells a put and a call on the same expiry. Both legs must resolve.
type shortPutCall struct {
	expiry    expiryRule
	putDelta  float64
	callDelta float64
	tolerance float64
	contracts int
}

func (s *shortPutCall) SpacingTag() string { return "" }

func (s *shortPutCall) Select(ctx context.Context, date time.Time, snap *domain.MarketSnapshot, view View) (*Candidate, error) {
	return s.selectAt(date, snap, nil), nil
}

func (s *shortPutCall) selectAt(date time.Time, snap *domain.MarketSnapshot, forced *time.Time) *Candidate {
	expiry, ok := resolveExpiry(s.expiry, date, snap, forced)
	if !ok {
		return nil
	}
	put, ok := pickByDelta(snap.Chain(expiry, domain.OptionPut), s.putDelta, s.tolerance)
	if !ok {
		return nil
	}
	call, ok := pickByDelta(snap.Chain(expiry, domain.OptionCall), s.callDelta, s.tolerance)
	if !ok {
		return nil
	}
	return &Candidate{
		Variant:    domain.VariantShortPutCall,
		Expiry:     expiry,
		Contracts:  s.contracts,
		Underlying: snap.UnderlyingClose,
		Legs: []CandidateLeg{
			{Quote: put, Position: domain.PositionShort},
			{Quote: call, Position: domain.PositionShort},
		},
	}
}

// shortStraddle sells the ATM put and call.
type shortStraddle struct {
	expiry    expiryRule
	contracts int
}

func (s *shortStraddle) SpacingTag() string { return "" }

func (s *shortStraddle) Select(ctx context.Context, date time.Time, snap *domain.MarketSnapshot, view View) (*Candidate, error) {
	return s.selectAt(date, snap, nil), nil
}

func (s *shortStraddle) selectAt(date time.Time, snap *domain.MarketSnapshot, forced *time.Time) *Candidate {
	expiry, ok := resolveExpiry(s.expiry, date, snap, forced)
	if !ok {
		return nil
	}
	put, call, ok := pickATMPair(snap, expiry)
	if !ok {
		return nil
	}
	return &Candidate{
		Variant:    domain.VariantShortStraddle,
		Expiry:     expiry,
		Contracts:  s.contracts,
		Underlying: snap.UnderlyingClose,
		Legs: []CandidateLeg{
			{Quote: put, Position: domain.PositionShort},
			{Quote: call, Position: domain.PositionShort},
		},
	}
}

// putCalendar sells the front ATM put and buys the back put at the same strike.
type putCalendar struct {
	front     expiryRule
	back      expiryRule
	contracts int
}

func (s *putCalendar) SpacingTag() string { return "" }

func (s *putCalendar) Select(ctx context.Context, date time.Time, snap *domain.MarketSnapshot, view View) (*Candidate, error) {
	return s.selectAt(date, snap, nil), nil
}

func (s *putCalendar) selectAt(date time.Time, snap *domain.MarketSnapshot, forced *time.Time) *Candidate {
	frontExpiry, ok := resolveExpiry(s.front, date, snap, forced)
	if !ok {
		return nil
	}
	backExpiry, ok := s.back.pick(date, afterExpiries(snap.Expiries(), frontExpiry))
	if !ok {
		return nil
	}

	frontPut, ok := pickATM(snap.Chain(frontExpiry, domain.OptionPut), snap.UnderlyingClose)
	if !ok {
		return nil
	}
	backChain := snap.Chain(backExpiry, domain.OptionPut)
	backPut, ok := quoteAtStrike(backChain, frontPut.Strike)
	if !ok {
		backPut, ok = pickClosestDelta(backChain, frontPut.Delta)
		if !ok {
			return nil
		}
	}

	return &Candidate{
		Variant:    domain.VariantPutCalendar,
		Expiry:     frontExpiry,
		Contracts:  s.contracts,
		Underlying: snap.UnderlyingClose,
		Legs: []CandidateLeg{
			{Quote: frontPut, Position: domain.PositionShort, Role: domain.RoleFront},
			{Quote: backPut, Position: domain.PositionLong, Role: domain.RoleBack},
		},
	}
}

// resolveExpiry uses the forced expiry when it is still listed and in the
// future, otherwise applies the rule.
func resolveExpiry(rule expiryRule, date time.Time, snap *domain.MarketSnapshot, forced *time.Time) (time.Time, bool) {
	expiries := snap.Expiries()
	if forced != nil {
		f := domain.Day(*forced)
		if f.After(domain.Day(date)) {
			for _, e := range expiries {
				if e.Equal(f) {
					return f, true
				}
			}
		}
	}
	return rule.pick(date, expiries)
}

func afterExpiries(expiries []time.Time, after time.Time) []time.Time {
	var out []time.Time
	for _, e := range expiries {
		if e.After(after) {
			out = append(out, e)
		}
	}
	return out
}

// pickByDelta returns the priced quote whose |delta| is closest to target,
// or false when even the closest lies outside tolerance.
func pickByDelta(chain []domain.OptionQuote, target, tolerance float64) (domain.OptionQuote, bool) {
	best, ok := pickClosestDelta(chain, target)
	if !ok {
		return domain.OptionQuote{}, false
	}
	if math.Abs(math.Abs(best.Delta)-math.Abs(target)) > tolerance+1e-12 {
		return domain.OptionQuote{}, false
	}
	return best, true
}

func pickClosestDelta(chain []domain.OptionQuote, target float64) (domain.OptionQuote, bool) {
	var best domain.OptionQuote
	bestDist := math.Inf(1)
	for _, q := range chain {
		if q.Price <= 0 {
			continue
		}
		dist := math.Abs(math.Abs(q.Delta) - math.Abs(target))
		if dist < bestDist {
			best, bestDist = q, dist
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// pickATM returns the priced quote with the strike nearest to spot. Ties go to the lower strike.
func pickATM(chain []domain.OptionQuote, spot float64) (domain.OptionQuote, bool) {
	var best domain.OptionQuote
	bestDist := math.Inf(1)
	for _, q := range chain {
		if q.Price <= 0 {
			continue
		}
		dist := math.Abs(q.Strike - spot)
		if dist < bestDist {
			best, bestDist = q, dist
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// pickATMPair returns the put and call at the strike nearest to spot among
// strikes where both are priced.
func pickATMPair(snap *domain.MarketSnapshot, expiry time.Time) (domain.OptionQuote, domain.OptionQuote, bool) {
	var bestPut, bestCall domain.OptionQuote
	bestDist := math.Inf(1)
	for _, put := range snap.Chain(expiry, domain.OptionPut) {
		if put.Price <= 0 {
			continue
		}
		call, ok := snap.Quote(expiry, put.Strike, domain.OptionCall)
		if !ok || call.Price <= 0 {
			continue
		}
		dist := math.Abs(put.Strike - snap.UnderlyingClose)
		if dist < bestDist {
			bestPut, bestCall, bestDist = put, call, dist
		}
	}
	return bestPut, bestCall, !math.IsInf(bestDist, 1)
}

func quoteAtStrike(chain []domain.OptionQuote, strike float64) (domain.OptionQuote, bool) {
	for _, q := range chain {
		if math.Abs(q.Strike-strike) < 1e-6 && q.Price > 0 {
			return q, true
		}
	}
	return domain.OptionQuote{}, false
}
