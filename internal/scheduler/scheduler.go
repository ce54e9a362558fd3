// Package scheduler drives the daily event loop of a backtest run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/marketdata"
	"options-backtest-lab/internal/selector"
	"options-backtest-lab/internal/tracker"
)

// SnapshotSource provides the chain of a date. marketdata.ErrNotFound marks a data gap.
type SnapshotSource interface {
	Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error)
}

// BatchSink persists one date's ledger records atomically.
type BatchSink interface {
	Append(ctx context.Context, batch domain.LedgerBatch) error
}

// Observer is notified of every tracker event.
type Observer func(tracker.Event)

// Result summarizes the loop.
type Result struct {
	Dates        int
	Entries      int
	Closes       int
	DataGapDates int
	LastDate     *time.Time
}

// Scheduler runs one strategy over a calendar.
type Scheduler struct {
	source     SnapshotSource
	selector   selector.Selector
	tracker    *tracker.Tracker
	sink       BatchSink
	maxOpen    int
	tradeDelay int
	logger     zerolog.Logger
	observers  []Observer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

// New creates a scheduler. Portfolio limits come from cfg.
func New(cfg domain.StrategyConfig, source SnapshotSource, sel selector.Selector, tr *tracker.Tracker, sink BatchSink, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:     source,
		selector:   sel,
		tracker:    tr,
		sink:       sink,
		maxOpen:    cfg.MaxOpenTrades,
		tradeDelay: cfg.TradeDelay(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes dates in ascending order. For each date it marks and closes
// open trades, then considers one entry, then commits the date's records.
// On the final date no entry is considered and every open trade closes with
// CLOSED_END_OF_DATA. Cancellation is honored between dates; dates already
// committed stay committed.
func (s *Scheduler) Run(ctx context.Context, dates []time.Time) (*Result, error) {
	res := &Result{}
	lastEntry := make(map[string]time.Time)

	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		day := domain.Day(date)
		final := i == len(dates)-1

		snap, err := s.source.Snapshot(ctx, day)
		switch {
		case errors.Is(err, marketdata.ErrNotFound):
			res.DataGapDates++
			s.notify(s.tracker.HoldAll(day, "no market snapshot"))
			s.logger.Warn().Str("date", domain.FormatDate(day)).Msg("data gap: open trades held")
		case err != nil:
			return res, fmt.Errorf("snapshot %s: %w", domain.FormatDate(day), err)
		default:
			s.notify(s.tracker.MarkAndClose(day, snap))
			if !final {
				opened, err := s.admit(ctx, day, snap, lastEntry)
				if err != nil {
					return res, err
				}
				if opened {
					res.Entries++
				}
			}
		}

		if final {
			s.notify(s.tracker.CloseRemaining(day, domain.StatusClosedEndOfData))
		}

		if err := s.commit(ctx, day); err != nil {
			return res, err
		}

		res.Dates++
		d := day
		res.LastDate = &d

		if open := len(s.tracker.OpenTrades()); open > s.maxOpen {
			return res, fmt.Errorf("open trades %d exceed max-open-trades %d on %s", open, s.maxOpen, domain.FormatDate(day))
		}
	}

	for _, t := range s.tracker.Trades() {
		if !t.IsOpen() {
			res.Closes++
		}
	}
	return res, nil
}

func (s *Scheduler) admit(ctx context.Context, day time.Time, snap *domain.MarketSnapshot, lastEntry map[string]time.Time) (bool, error) {
	if len(s.tracker.OpenTrades()) >= s.maxOpen {
		return false, nil
	}

	tag := s.selector.SpacingTag()
	if last, ok := lastEntry[tag]; ok && s.tradeDelay > 0 && domain.DaysBetween(last, day) < s.tradeDelay {
		return false, nil
	}

	cand, err := s.selector.Select(ctx, day, snap, s.tracker)
	if err != nil {
		return false, fmt.Errorf("select %s: %w", domain.FormatDate(day), err)
	}
	if cand == nil {
		return false, nil
	}

	trade, err := s.tracker.Open(day, snap, cand)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", domain.FormatDate(day), err)
	}
	lastEntry[tag] = day
	s.notify([]tracker.Event{{Kind: tracker.EventOpened, TradeID: trade.TradeID, Date: day, Status: trade.Status}})
	return true, nil
}

func (s *Scheduler) commit(ctx context.Context, day time.Time) error {
	batch := s.tracker.Drain(day)
	if batch.IsEmpty() || s.sink == nil {
		return nil
	}
	if err := s.sink.Append(ctx, batch); err != nil {
		return fmt.Errorf("commit %s: %w", domain.FormatDate(day), err)
	}
	return nil
}

func (s *Scheduler) notify(events []tracker.Event) {
	for _, e := range events {
		for _, o := range s.observers {
			o(e)
		}
	}
}
