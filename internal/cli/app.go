package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/backtest"
	"options-backtest-lab/internal/config"
	"options-backtest-lab/internal/marketdata"
	"options-backtest-lab/internal/observability"
	"options-backtest-lab/internal/recorder"
	"options-backtest-lab/internal/storage"
	chstore "options-backtest-lab/internal/storage/clickhouse"
	"options-backtest-lab/internal/storage/memory"
	"options-backtest-lab/internal/storage/migrations"
	pgstore "options-backtest-lab/internal/storage/postgres"
	"options-backtest-lab/internal/storage/sqlite"
)

// App holds the application dependencies. Stores and the market source are
// opened on first use and released by Close.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	stores  *storage.Stores
	source  marketdata.Source
	closers []func() error
	server  *http.Server
}

// Stores opens the configured run, ledger and summary stores.
func (a *App) Stores(ctx context.Context) (storage.Stores, error) {
	if a.stores != nil {
		return *a.stores, nil
	}

	var stores storage.Stores
	cfg := a.Config.Storage
	switch cfg.Backend {
	case config.BackendMemory:
		stores = memory.NewStores()
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return storage.Stores{}, fmt.Errorf("%w: open sqlite store: %w", apperr.ErrDataAccess, err)
		}
		a.closers = append(a.closers, db.Close)
		stores = db.Stores()
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return storage.Stores{}, fmt.Errorf("%w: connect postgres: %w", apperr.ErrDataAccess, err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return storage.Stores{}, fmt.Errorf("%w: %w", apperr.ErrDataAccess, err)
		}
		stores = pgstore.NewStores(pool)
	default:
		return storage.Stores{}, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return storage.Stores{}, fmt.Errorf("%w: clickhouse summaries: %w", apperr.ErrDataAccess, err)
		}
		a.closers = append(a.closers, conn.Close)
		stores.Summaries = chstore.NewSummaryStore(conn)
		a.Logger.Debug().Msg("run summaries stored in clickhouse")
	}

	a.Logger.Debug().Str("backend", cfg.Backend).Msg("stores opened")
	a.stores = &stores
	return stores, nil
}

// Source opens the configured market data source. Remote sources are
// wrapped in a circuit breaker.
func (a *App) Source(ctx context.Context) (marketdata.Source, error) {
	if a.source != nil {
		return a.source, nil
	}

	cfg := a.Config.Market
	switch cfg.Source {
	case config.SourceSynthetic:
		a.source = marketdata.NewSynthetic(marketdata.DefaultSyntheticConfig())
	case config.SourceSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("%w: open options db: %w", apperr.ErrDataAccess, err)
		}
		a.closers = append(a.closers, db.Close)
		a.source = sqlite.NewOptionsSource(db)
	case config.SourceClickHouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: clickhouse quotes: %w", apperr.ErrDataAccess, err)
		}
		a.closers = append(a.closers, conn.Close)
		a.source = marketdata.NewGuarded("clickhouse-quotes", chstore.NewQuoteSource(conn), a.Config.BreakerSettings(), a.Logger)
	default:
		return nil, fmt.Errorf("unsupported market source %q", cfg.Source)
	}

	a.Logger.Debug().Str("source", cfg.Source).Msg("market source opened")
	return a.source, nil
}

// Engine builds a backtest engine over the configured stores and source.
func (a *App) Engine(ctx context.Context) (*backtest.Engine, error) {
	stores, err := a.Stores(ctx)
	if err != nil {
		return nil, err
	}
	src, err := a.Source(ctx)
	if err != nil {
		return nil, err
	}
	rec := recorder.New(stores,
		recorder.WithPolicy(a.Config.RecorderPolicy()),
		recorder.WithLogger(a.Logger),
	)
	engine := backtest.NewEngine(src, rec,
		backtest.WithLogger(a.Logger),
		backtest.WithMetrics(a.Metrics),
	)
	return engine, nil
}

// ServeMetrics starts the /metrics endpoint on addr in the background.
func (a *App) ServeMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(a.Registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.server = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	a.Logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}

// Close stops the metrics server and releases every opened store.
func (a *App) Close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.server = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.stores = nil
	a.source = nil
	return errors.Join(errs...)
}
