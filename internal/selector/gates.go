package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
)

// Indicator names requested from the IndicatorSource.
const (
	indicatorRSI         = "rsi"
	indicatorRealizedVol = "realized_vol"
)

// gated rejects dates that fail the configured entry gates before asking the
// inner selector. Gates are AND-combined; a missing indicator value rejects.
type gated struct {
	inner  Selector
	ind    IndicatorSource
	logger zerolog.Logger

	rsi       bool
	rsiWindow int
	rsiLow    *float64
	rsiHigh   *float64

	highVol          bool
	highVolWindow    int
	highVolThreshold float64
}

func newGated(inner Selector, cfg domain.StrategyConfig, ind IndicatorSource, logger zerolog.Logger) (*gated, error) {
	if ind == nil {
		field := "high-vol-check"
		if cfg.RSIGateEnabled() {
			field = "rsi-window"
		}
		return nil, apperr.NewConfigError(field, nil, "entry gate configured without an indicator source")
	}
	return &gated{
		inner:            inner,
		ind:              ind,
		logger:           logger,
		rsi:              cfg.RSIGateEnabled(),
		rsiWindow:        cfg.RSIWindow,
		rsiLow:           cfg.RSILow,
		rsiHigh:          cfg.RSIHigh,
		highVol:          cfg.HighVolCheck,
		highVolWindow:    cfg.HighVolWindow,
		highVolThreshold: cfg.HighVolThreshold,
	}, nil
}

func (g *gated) SpacingTag() string { return g.inner.SpacingTag() }

func (g *gated) Select(ctx context.Context, date time.Time, snap *domain.MarketSnapshot, view View) (*Candidate, error) {
	pass, err := g.allow(ctx, date)
	if err != nil || !pass {
		return nil, err
	}
	return g.inner.Select(ctx, date, snap, view)
}

func (g *gated) allow(ctx context.Context, date time.Time) (bool, error) {
	if g.rsi {
		v, ok, err := g.ind.Indicator(ctx, date, indicatorRSI, g.rsiWindow)
		if err != nil {
			return false, fmt.Errorf("rsi gate: %w", err)
		}
		if !ok {
			g.reject(date, "rsi unavailable", 0)
			return false, nil
		}
		if g.rsiLow != nil && v < *g.rsiLow {
			g.reject(date, "rsi below low threshold", v)
			return false, nil
		}
		if g.rsiHigh != nil && v > *g.rsiHigh {
			g.reject(date, "rsi above high threshold", v)
			return false, nil
		}
	}

	if g.highVol {
		v, ok, err := g.ind.Indicator(ctx, date, indicatorRealizedVol, g.highVolWindow)
		if err != nil {
			return false, fmt.Errorf("high volatility gate: %w", err)
		}
		if !ok {
			g.reject(date, "realized volatility unavailable", 0)
			return false, nil
		}
		if v > g.highVolThreshold {
			g.reject(date, "realized volatility above threshold", v)
			return false, nil
		}
	}
	return true, nil
}

func (g *gated) reject(date time.Time, reason string, value float64) {
	g.logger.Debug().
		Str("date", domain.FormatDate(date)).
		Float64("value", value).
		Msg(reason)
}
