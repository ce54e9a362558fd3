package lookup

import (
	"errors"
	"sort"
	"time"

	"options-backtest-lab/internal/domain"
)

// Errors returned by lookup functions.
var (
	ErrNoBars       = errors.New("no underlying bars available")
	ErrBeforeSeries = errors.New("target precedes first underlying bar")
)

// IndexAtOrBefore returns the index of the last bar dated on or before target.
// Bars must be sorted by Date ASC.
// Returns ErrNoBars if the slice is empty and ErrBeforeSeries if every bar is later.
func IndexAtOrBefore(target time.Time, bars []domain.UnderlyingBar) (int, error) {
	if len(bars) == 0 {
		return -1, ErrNoBars
	}

	day := domain.Day(target)
	i := sort.Search(len(bars), func(i int) bool {
		return domain.Day(bars[i].Date).After(day)
	})
	if i == 0 {
		return -1, ErrBeforeSeries
	}
	return i - 1, nil
}

// CloseAt returns the close at or before target.
// Unlike an intraday lookup there is no fallback to the first bar: a date
// before the series has no known close.
func CloseAt(target time.Time, bars []domain.UnderlyingBar) (float64, error) {
	i, err := IndexAtOrBefore(target, bars)
	if err != nil {
		return 0, err
	}
	return bars[i].Close, nil
}

// ClosesThrough returns every close dated on or before target, oldest first.
func ClosesThrough(target time.Time, bars []domain.UnderlyingBar) ([]float64, error) {
	i, err := IndexAtOrBefore(target, bars)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, i+1)
	for j := 0; j <= i; j++ {
		closes[j] = bars[j].Close
	}
	return closes, nil
}

// SortBars orders bars by date and drops later duplicates of the same day.
func SortBars(bars []domain.UnderlyingBar) []domain.UnderlyingBar {
	out := make([]domain.UnderlyingBar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	deduped := out[:0]
	for _, b := range out {
		if len(deduped) > 0 && domain.Day(deduped[len(deduped)-1].Date).Equal(domain.Day(b.Date)) {
			continue
		}
		deduped = append(deduped, b)
	}
	return deduped
}
