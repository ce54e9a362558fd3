package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"options-backtest-lab/internal/domain"
)

// BreakerSettings configures the circuit breaker of a Guarded source.
type BreakerSettings struct {
	MaxRequests         uint32        // Max requests when half-open
	Interval            time.Duration // Reset counts interval
	Timeout             time.Duration // Open circuit duration
	ConsecutiveFailures uint32        // Trip after this many failures in a row
}

// DefaultBreakerSettings suits a database on the local network.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Guarded wraps a remote Source with a circuit breaker so that a failing
// database fails a run fast instead of timing out on every date.
// ErrNotFound and context cancellation do not count as failures.
type Guarded struct {
	src     Source
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded creates a Guarded source.
func NewGuarded(name string, src Source, settings BreakerSettings, logger zerolog.Logger) *Guarded {
	gbSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("market data circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	}

	return &Guarded{
		src:     src,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State exposes the breaker state for diagnostics.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

func execGuarded[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

func (g *Guarded) Dates(ctx context.Context) ([]time.Time, error) {
	return execGuarded(g.breaker, func() ([]time.Time, error) { return g.src.Dates(ctx) })
}

func (g *Guarded) Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error) {
	return execGuarded(g.breaker, func() (*domain.MarketSnapshot, error) { return g.src.Snapshot(ctx, date) })
}

func (g *Guarded) Underlying(ctx context.Context) ([]domain.UnderlyingBar, error) {
	return execGuarded(g.breaker, func() ([]domain.UnderlyingBar, error) { return g.src.Underlying(ctx) })
}

var _ Source = (*Guarded)(nil)
