// Package backtest wires one strategy configuration into a complete, recorded run.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/logging"
	"options-backtest-lab/internal/marketdata"
	"options-backtest-lab/internal/metrics"
	"options-backtest-lab/internal/observability"
	"options-backtest-lab/internal/recorder"
	"options-backtest-lab/internal/scheduler"
	"options-backtest-lab/internal/selector"
	"options-backtest-lab/internal/tracker"
)

// Request describes one run.
type Request struct {
	Config domain.StrategyConfig
	// Raw is stored verbatim with the run. Empty stores the config's parameter string.
	Raw string
}

// Result holds the outcome of a run.
type Result struct {
	Run      *domain.BacktestRun
	Reused   bool
	Trades   []*domain.Trade
	Summary  *domain.RunSummary
	DataGaps []domain.DataGap
	Schedule *scheduler.Result // nil when Reused
}

// Engine executes runs against one market source and one recorder.
// An Engine is safe for concurrent use; every run owns its tracker and scheduler.
type Engine struct {
	source   marketdata.Source
	recorder *recorder.Recorder
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Components of a run log through it.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records run and trade metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used for durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new backtest engine.
func NewEngine(source marketdata.Source, rec *recorder.Recorder, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		recorder: rec,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run identifies and registers the configuration, simulates it over the
// (optionally range-restricted) calendar, and stores its summary.
// Configuration and market data errors are returned before a run is registered.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	started := e.now()

	id, err := e.recorder.Identify(req.Config)
	if err != nil {
		return nil, err
	}
	cfg := id.Config
	variant := string(cfg.Variant)
	logger := logging.WithVariant(e.logger, cfg.Variant)

	feed, err := newFeed(e.source, cfg)
	if err != nil {
		return nil, err
	}

	sel, err := selector.FromConfig(cfg, feed, selector.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	dates, err := feed.Dates(ctx)
	if err != nil {
		return nil, err
	}

	run, reused, err := e.recorder.Register(ctx, id, req.Raw)
	if err != nil {
		e.metrics.RecordRun(variant, observability.RunFailed, e.now().Sub(started).Seconds(), 0)
		return nil, err
	}
	logger = logging.WithRun(logger, run.StorageKey)

	if reused {
		res, err := e.loadReused(ctx, run)
		if err != nil {
			return nil, err
		}
		e.metrics.RecordRun(variant, observability.RunReused, e.now().Sub(started).Seconds(), 0)
		logger.Info().Int("trades", len(res.Trades)).Msg("reused completed run")
		return res, nil
	}

	tr := tracker.New(run.StorageKey, cfg, tracker.WithLogger(logger))
	sched := scheduler.New(cfg, feed, sel, tr, e.recorder,
		scheduler.WithLogger(logger),
		scheduler.WithObserver(e.observe(variant, logger)),
	)

	logger.Info().
		Int("dates", len(dates)).
		Str("fingerprint", run.Fingerprint).
		Int("revision", run.Revision).
		Msg("backtest started")

	schedRes, err := sched.Run(ctx, dates)
	if schedRes != nil {
		e.metrics.RecordDates(variant, schedRes.Dates)
	}
	if err != nil {
		e.metrics.RecordRun(variant, observability.RunFailed, e.now().Sub(started).Seconds(), 0)
		return nil, fmt.Errorf("run %s: %w", run.StorageKey, err)
	}

	trades := tr.Trades()
	summary := metrics.Summarize(trades, runInfo(dates, schedRes))
	if err := e.recorder.Complete(ctx, run, summary); err != nil {
		e.metrics.RecordRun(variant, observability.RunFailed, e.now().Sub(started).Seconds(), 0)
		return nil, err
	}

	finished := e.now()
	e.metrics.RecordRun(variant, observability.RunCompleted, finished.Sub(started).Seconds(), finished.Unix())
	logger.Info().
		Int("trades", summary.TotalTrades).
		Float64("total_pnl", summary.TotalPnL).
		Int("data_gap_dates", summary.DataGapDates).
		Dur("elapsed", finished.Sub(started)).
		Msg("backtest completed")

	return &Result{
		Run:      run,
		Trades:   trades,
		Summary:  summary,
		DataGaps: tr.DataGaps(),
		Schedule: schedRes,
	}, nil
}

func (e *Engine) loadReused(ctx context.Context, run *domain.BacktestRun) (*Result, error) {
	trades, err := e.recorder.LoadLedger(ctx, run.StorageKey)
	if err != nil {
		return nil, err
	}
	summary, err := e.recorder.Summary(ctx, run.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", run.StorageKey, err)
	}
	return &Result{Run: run, Reused: true, Trades: trades, Summary: summary}, nil
}

func (e *Engine) observe(variant string, logger zerolog.Logger) scheduler.Observer {
	return func(ev tracker.Event) {
		switch ev.Kind {
		case tracker.EventOpened:
			e.metrics.RecordTradeOpened(variant)
		case tracker.EventClosed:
			e.metrics.RecordTradeClosed(variant, string(ev.Status), ev.PnL)
		case tracker.EventDataGap:
			scope := observability.GapDate
			if ev.TradeID != "" {
				scope = observability.GapTrade
			}
			e.metrics.RecordDataGap(scope)
			logger.Debug().Err(ev.Err()).Str("scope", scope).Msg("data gap")
			return
		}
		logger.Debug().Str("event", ev.String()).Msg("trade event")
	}
}

func newFeed(src marketdata.Source, cfg domain.StrategyConfig) (*marketdata.Feed, error) {
	var opts []marketdata.FeedOption
	start, ok, err := cfg.Start()
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, marketdata.WithStart(start))
	}
	end, ok, err := cfg.End()
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, marketdata.WithEnd(end))
	}
	return marketdata.NewFeed(src, opts...), nil
}

func runInfo(dates []time.Time, res *scheduler.Result) metrics.RunInfo {
	info := metrics.RunInfo{
		TradingDates: res.Dates,
		DataGapDates: res.DataGapDates,
	}
	if len(dates) > 0 {
		first := dates[0]
		info.FirstDate = &first
		info.LastDate = res.LastDate
	}
	return info
}
