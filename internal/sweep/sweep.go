// Package sweep executes independent backtest runs in parallel.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"options-backtest-lab/internal/backtest"
	"options-backtest-lab/internal/observability"
)

// Runner executes one run. *backtest.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req backtest.Request) (*backtest.Result, error)
}

// Outcome is the result of one spec, in input order.
type Outcome struct {
	Spec   Spec
	Result *backtest.Result
	Err    error
}

// Sweep runs specs with bounded parallelism. Each run writes only under its own storage key.
type Sweep struct {
	runner      Runner
	parallelism int
	failFast    bool
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// Option configures a Sweep.
type Option func(*Sweep)

// WithParallelism bounds concurrent runs. Values < 1 mean GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(s *Sweep) { s.parallelism = n }
}

// WithFailFast cancels the remaining runs after the first failure.
func WithFailFast(v bool) Option {
	return func(s *Sweep) { s.failFast = v }
}

// WithLogger sets the sweep logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sweep) { s.logger = l }
}

// WithMetrics reports pending runs.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sweep) { s.metrics = m }
}

// New creates a sweep over runner.
func New(runner Runner, opts ...Option) *Sweep {
	s := &Sweep{runner: runner, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.parallelism < 1 {
		s.parallelism = runtime.GOMAXPROCS(0)
	}
	return s
}

// Run executes every spec and returns one outcome per spec in input order.
// The error joins the failures of individual runs; runs skipped after a
// fail-fast cancellation report the context error.
func (s *Sweep) Run(ctx context.Context, specs []Spec) ([]Outcome, error) {
	outcomes := make([]Outcome, len(specs))
	for i, spec := range specs {
		outcomes[i].Spec = spec
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	var mu sync.Mutex
	pending := len(specs)
	s.metrics.SetSweepPending(pending)

	for i := range specs {
		g.Go(func() error {
			defer func() {
				mu.Lock()
				pending--
				s.metrics.SetSweepPending(pending)
				mu.Unlock()
			}()

			if err := gctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}

			spec := specs[i]
			res, err := s.runner.Run(gctx, backtest.Request{Config: spec.Config, Raw: spec.Raw})
			outcomes[i].Result = res
			outcomes[i].Err = err

			if err != nil {
				s.logger.Error().Err(err).Str("run", spec.Name).Msg("sweep run failed")
				if s.failFast {
					return fmt.Errorf("%s: %w", spec.Name, err)
				}
				return nil
			}
			s.logger.Info().
				Str("run", spec.Name).
				Str("storage_key", res.Run.StorageKey).
				Bool("reused", res.Reused).
				Msg("sweep run finished")
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Spec.Name, o.Err))
		}
	}
	return outcomes, errors.Join(errs...)
}
