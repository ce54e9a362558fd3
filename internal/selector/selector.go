// Package selector decides on each trading date whether a strategy variant
// opens a position and which contracts it uses.
package selector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"options-backtest-lab/internal/domain"
)

// Selector proposes at most one entry per date.
type Selector interface {
	// Select returns the entry candidate for date, or (nil, nil) when the
	// variant's rules find nothing to trade. Only infrastructure failures are errors.
	Select(ctx context.Context, date time.Time, snap *domain.MarketSnapshot, view View) (*Candidate, error)

	// SpacingTag scopes trade-delay-days: entries are spaced against the latest
	// entry carrying the same tag. Empty means every entry.
	SpacingTag() string
}

// View is the read-only portfolio state a selector may consult.
type View interface {
	OpenTrades() []*domain.Trade
}

// IndicatorSource supplies indicator values as of a date's close.
type IndicatorSource interface {
	Indicator(ctx context.Context, date time.Time, name string, window int) (float64, bool, error)
}

// CandidateLeg is one contract of a proposed entry.
type CandidateLeg struct {
	Quote    domain.OptionQuote
	Position domain.PositionSide
	Role     domain.LegRole
}

// Candidate is a fully resolved entry proposal.
type Candidate struct {
	Variant    domain.Variant
	Tag        string
	Expiry     time.Time // nearest leg expiry
	Contracts  int
	Underlying float64
	Legs       []CandidateLeg
}

// Premium returns the signed per-share premium: credit positive, debit negative.
func (c *Candidate) Premium() float64 {
	total := 0.0
	for _, l := range c.Legs {
		if l.Position == domain.PositionLong {
			total -= l.Quote.Price
		} else {
			total += l.Quote.Price
		}
	}
	return total
}

// Option configures FromConfig.
type Option func(*options)

type options struct {
	logger zerolog.Logger
}

// WithLogger sets the logger used for gate rejections.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// FromConfig builds the selector for cfg. Gates are wired when configured;
// the staggered wrapper is applied last. Returns an *apperr.ConfigError for
// invalid parameters, or when a gate needs indicators that were not supplied.
func FromConfig(cfg domain.StrategyConfig, ind IndicatorSource, opts ...Option) (Selector, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := fromVariant(cfg)
	if err != nil {
		return nil, err
	}

	var sel baseSelector = base
	if cfg.Staggered {
		sel = newStaggered(base, cfg)
	}

	if cfg.RSIGateEnabled() || cfg.HighVolCheck {
		g, err := newGated(sel, cfg, ind, o.logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return sel, nil
}
