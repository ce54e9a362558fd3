// Package marketdata provides read-only access to end-of-day option chains and
// the underlying close series.
package marketdata

import (
	"context"
	"errors"
	"time"

	"options-backtest-lab/internal/domain"
)

// ErrNotFound is returned by Snapshot when the source has no quotes for a date.
var ErrNotFound = errors.New("market snapshot not found")

// Source is implemented by every market data backend.
type Source interface {
	// Dates returns the distinct trading dates in ascending order.
	Dates(ctx context.Context) ([]time.Time, error)

	// Snapshot returns the chain of one date. Returns ErrNotFound if the date has no quotes.
	Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error)

	// Underlying returns the daily closes of the underlying ordered by date.
	Underlying(ctx context.Context) ([]domain.UnderlyingBar, error)
}

// QuotePrice resolves the mark of a quote row: the last trade, else the
// bid/ask mid when both sides are quoted. Zero means unpriced.
func QuotePrice(last, bid, ask float64) float64 {
	if last > 0 {
		return last
	}
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	return 0
}
