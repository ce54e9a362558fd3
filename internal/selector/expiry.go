package selector

import (
	"time"

	"options-backtest-lab/internal/domain"
)

// expiryRule chooses an expiry by days to expiration.
// Without a window it takes the nearest expiry at or beyond target. With a
// window it takes the expiry inside [min, max] closest to target; ties go to
// the earlier expiry.
type expiryRule struct {
	target int
	min    *int
	max    *int
}

func (r expiryRule) windowed() bool {
	return r.min != nil || r.max != nil
}

func (r expiryRule) pick(date time.Time, expiries []time.Time) (time.Time, bool) {
	if !r.windowed() {
		for _, e := range expiries {
			if domain.DaysBetween(date, e) >= r.target {
				return e, true
			}
		}
		return time.Time{}, false
	}

	var best time.Time
	bestDist := -1
	for _, e := range expiries {
		dte := domain.DaysBetween(date, e)
		if dte <= 0 {
			continue
		}
		if r.min != nil && dte < *r.min {
			continue
		}
		if r.max != nil && dte > *r.max {
			continue
		}
		dist := dte - r.target
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = e, dist
		}
	}
	return best, bestDist >= 0
}
