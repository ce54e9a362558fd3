package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/indicators"
	"options-backtest-lab/internal/lookup"
)

// Indicator names understood by Feed.Indicator.
const (
	IndicatorRSI         = "rsi"
	IndicatorRealizedVol = "realized_vol"
)

// ErrUnknownIndicator is returned for indicator names Feed does not compute.
var ErrUnknownIndicator = errors.New("unknown indicator")

// Feed restricts a Source to an optional date range and derives indicators
// from its underlying series. Indicator values are cached per name and window.
type Feed struct {
	src   Source
	start *time.Time
	end   *time.Time

	mu     sync.Mutex
	bars   []domain.UnderlyingBar
	loaded bool
	series map[seriesKey][]indicatorPoint
}

type seriesKey struct {
	name   string
	window int
}

type indicatorPoint struct {
	value float64
	ok    bool
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithStart drops dates before start.
func WithStart(start time.Time) FeedOption {
	return func(f *Feed) {
		d := domain.Day(start)
		f.start = &d
	}
}

// WithEnd drops dates after end.
func WithEnd(end time.Time) FeedOption {
	return func(f *Feed) {
		d := domain.Day(end)
		f.end = &d
	}
}

// NewFeed wraps src.
func NewFeed(src Source, opts ...FeedOption) *Feed {
	f := &Feed{
		src:    src,
		series: make(map[seriesKey][]indicatorPoint),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dates returns the range-restricted calendar. A source without any dates is
// an error (apperr.ErrNoMarketData); a range that excludes every date is not.
func (f *Feed) Dates(ctx context.Context) ([]time.Time, error) {
	all, err := f.src.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list dates: %v", apperr.ErrDataAccess, err)
	}
	if len(all) == 0 {
		return nil, apperr.ErrNoMarketData
	}

	dates := make([]time.Time, 0, len(all))
	for _, d := range all {
		d = domain.Day(d)
		if f.start != nil && d.Before(*f.start) {
			continue
		}
		if f.end != nil && d.After(*f.end) {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// Snapshot delegates to the source. ErrNotFound is passed through unwrapped
// so that callers can treat it as a data gap.
func (f *Feed) Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error) {
	snap, err := f.src.Snapshot(ctx, date)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: snapshot %s: %v", apperr.ErrDataAccess, domain.FormatDate(date), err)
	}
	return snap, nil
}

// Underlying returns the full underlying series, including history before the range.
func (f *Feed) Underlying(ctx context.Context) ([]domain.UnderlyingBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadBarsLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.UnderlyingBar, len(f.bars))
	copy(out, f.bars)
	return out, nil
}

// Indicator returns the value of an indicator as of the close of date.
// ok is false when the series is too short to produce a value.
func (f *Feed) Indicator(ctx context.Context, date time.Time, name string, window int) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadBarsLocked(ctx); err != nil {
		return 0, false, err
	}

	key := seriesKey{name: name, window: window}
	points, ok := f.series[key]
	if !ok {
		var err error
		points, err = f.computeSeries(name, window)
		if err != nil {
			return 0, false, err
		}
		f.series[key] = points
	}

	i, err := lookup.IndexAtOrBefore(date, f.bars)
	if err != nil {
		return 0, false, nil
	}
	p := points[i]
	return p.value, p.ok, nil
}

func (f *Feed) loadBarsLocked(ctx context.Context) error {
	if f.loaded {
		return nil
	}
	bars, err := f.src.Underlying(ctx)
	if err != nil {
		return fmt.Errorf("%w: underlying series: %v", apperr.ErrDataAccess, err)
	}
	f.bars = lookup.SortBars(bars)
	f.loaded = true
	return nil
}

func (f *Feed) computeSeries(name string, window int) ([]indicatorPoint, error) {
	closes := make([]float64, len(f.bars))
	for i, b := range f.bars {
		closes[i] = b.Close
	}
	points := make([]indicatorPoint, len(closes))

	switch name {
	case IndicatorRSI:
		values, err := indicators.RSI(closes, window)
		if errors.Is(err, indicators.ErrInsufficientData) {
			return points, nil
		}
		if err != nil {
			return nil, fmt.Errorf("rsi(%d): %w", window, err)
		}
		for i := window; i < len(values); i++ {
			points[i] = indicatorPoint{value: values[i], ok: true}
		}
	case IndicatorRealizedVol:
		if window < 2 {
			return nil, fmt.Errorf("realized_vol(%d): %w", window, indicators.ErrInvalidPeriod)
		}
		for i := window; i < len(closes); i++ {
			v, err := indicators.RealizedVolatility(closes[:i+1], window)
			if err != nil {
				continue
			}
			points[i] = indicatorPoint{value: v, ok: true}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndicator, name)
	}
	return points, nil
}
