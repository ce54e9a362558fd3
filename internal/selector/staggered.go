package selector

import (
	"context"
	"time"

	"options-backtest-lab/internal/domain"
)

// StaggeredTag marks trades opened by a staggered selector.
const StaggeredTag = "staggered"

// staggered spaces entries against earlier staggered entries only and, while
// a staggered tranche is open, ladders new tranches into its expiry. Each
// tranche is one unit; an expiry holds at most maxTranches of them, so the
// configured contract count is the total per expiry.
type staggered struct {
	inner       baseSelector
	maxTranches int
	unit        int
}

func newStaggered(inner baseSelector, cfg domain.StrategyConfig) *staggered {
	unit := 1
	if cfg.Ladder {
		unit = cfg.LadderSteps
	}
	return &staggered{inner: inner, maxTranches: cfg.Contracts, unit: unit}
}

func (s *staggered) SpacingTag() string { return StaggeredTag }

func (s *staggered) Select(ctx context.Context, date time.Time, snap *domain.MarketSnapshot, view View) (*Candidate, error) {
	var forced *time.Time
	if view != nil {
		open := view.OpenTrades()
		if latest := latestTranche(open); latest != nil {
			if latest.Expiry.After(domain.Day(date)) && tranchesOn(open, latest.Expiry) >= s.maxTranches {
				return nil, nil
			}
			e := latest.Expiry
			forced = &e
		}
	}
	return s.selectAt(date, snap, forced), nil
}

func (s *staggered) selectAt(date time.Time, snap *domain.MarketSnapshot, forced *time.Time) *Candidate {
	c := s.inner.selectAt(date, snap, forced)
	if c != nil {
		c.Tag = StaggeredTag
		c.Contracts = s.unit
	}
	return c
}

func tranchesOn(open []*domain.Trade, expiry time.Time) int {
	n := 0
	for _, t := range open {
		if t.Tag == StaggeredTag && t.IsOpen() && t.Expiry.Equal(expiry) {
			n++
		}
	}
	return n
}

func latestTranche(open []*domain.Trade) *domain.Trade {
	var latest *domain.Trade
	for _, t := range open {
		if t.Tag != StaggeredTag || !t.IsOpen() {
			continue
		}
		if latest == nil || t.EntryDate.After(latest.EntryDate) ||
			(t.EntryDate.Equal(latest.EntryDate) && t.Seq > latest.Seq) {
			latest = t
		}
	}
	return latest
}
