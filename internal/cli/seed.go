package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/config"
	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/marketdata"
	chstore "options-backtest-lab/internal/storage/clickhouse"
	"options-backtest-lab/internal/storage/migrations"
	"options-backtest-lab/internal/storage/sqlite"
)

// seedBatchDates is the number of quote dates written per insert.
const seedBatchDates = 20

type snapshotWriter interface {
	InsertSnapshots(ctx context.Context, snaps ...*domain.MarketSnapshot) error
}

func newSeedCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a generated option chain into the configured market store",
		Long: `Generates a Black-Scholes option chain on a deterministic underlying path
and writes it to the market store selected by market.source (sqlite or
clickhouse). Useful for trying the tool without vendor data.`,
		Example: `  backtest seed --start 2020-01-01 --end 2020-06-30 --schedule biweekly`,
		Args:    cobra.NoArgs,
		RunE: withApp(app, func(cmd *cobra.Command, args []string) error {
			syn, err := syntheticFromFlags(cmd)
			if err != nil {
				return err
			}
			writer, err := app.marketWriter(cmd.Context())
			if err != nil {
				return err
			}
			n, err := seed(cmd.Context(), syn, writer)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]any{"source": app.Config.Market.Source, "dates": n})
			}
			output.Success("✓ seeded %d quote dates into %s", n, app.Config.Market.Source)
			return nil
		}),
	}
	def := marketdata.DefaultSyntheticConfig()
	cmd.Flags().String("start", domain.FormatDate(def.Start), "first quote date (YYYY-MM-DD)")
	cmd.Flags().String("end", domain.FormatDate(def.End), "last quote date (YYYY-MM-DD)")
	cmd.Flags().String("schedule", string(def.Schedule), "expiry schedule: monthly or biweekly")
	cmd.Flags().StringSlice("gap", nil, "weekday dates to leave without quotes")
	return cmd
}

func syntheticFromFlags(cmd *cobra.Command) (*marketdata.Synthetic, error) {
	cfg := marketdata.DefaultSyntheticConfig()

	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	var err error
	if cfg.Start, err = domain.ParseDate(start); err != nil {
		return nil, apperr.NewConfigError("start", start, "expected YYYY-MM-DD")
	}
	if cfg.End, err = domain.ParseDate(end); err != nil {
		return nil, apperr.NewConfigError("end", end, "expected YYYY-MM-DD")
	}
	if cfg.Start.After(cfg.End) {
		return nil, apperr.NewConfigError("start", start, "must not be after end "+end)
	}

	schedule, _ := cmd.Flags().GetString("schedule")
	switch marketdata.ExpirySchedule(schedule) {
	case marketdata.ExpiryMonthly, marketdata.ExpiryBiweekly:
		cfg.Schedule = marketdata.ExpirySchedule(schedule)
	default:
		return nil, apperr.NewConfigError("schedule", schedule, "must be monthly or biweekly")
	}

	gaps, _ := cmd.Flags().GetStringSlice("gap")
	for _, g := range gaps {
		d, err := domain.ParseDate(g)
		if err != nil {
			return nil, apperr.NewConfigError("gap", g, "expected YYYY-MM-DD")
		}
		cfg.GapDates = append(cfg.GapDates, d)
	}
	return marketdata.NewSynthetic(cfg), nil
}

// marketWriter opens the configured market store for writing. The write path
// is not guarded by the circuit breaker.
func (a *App) marketWriter(ctx context.Context) (snapshotWriter, error) {
	cfg := a.Config.Market
	switch cfg.Source {
	case config.SourceSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("%w: open options db: %w", apperr.ErrDataAccess, err)
		}
		a.closers = append(a.closers, db.Close)
		return sqlite.NewOptionsSource(db), nil
	case config.SourceClickHouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: clickhouse quotes: %w", apperr.ErrDataAccess, err)
		}
		a.closers = append(a.closers, conn.Close)
		return chstore.NewQuoteSource(conn), nil
	default:
		return nil, apperr.NewConfigError("market.source", cfg.Source, "seed needs a sqlite or clickhouse market store")
	}
}

// seed copies every snapshot of src into w and returns the number of dates written.
func seed(ctx context.Context, src marketdata.Source, w snapshotWriter) (int, error) {
	dates, err := src.Dates(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	batch := make([]*domain.MarketSnapshot, 0, seedBatchDates)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.InsertSnapshots(ctx, batch...); err != nil {
			return fmt.Errorf("%w: insert snapshots: %w", apperr.ErrDataAccess, err)
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		snap, err := src.Snapshot(ctx, d)
		if errors.Is(err, marketdata.ErrNotFound) {
			continue
		}
		if err != nil {
			return written, err
		}
		batch = append(batch, snap)
		if len(batch) == seedBatchDates {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}
