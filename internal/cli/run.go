package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"options-backtest-lab/internal/backtest"
	"options-backtest-lab/internal/domain"
)

// strategyFlagNames lists the strategy flags in declaration order. Flags the
// caller set are recorded, in this order, as the run's raw parameters.
var strategyFlagNames = []string{
	"variant", "staggered",
	"dte", "dte-min", "dte-max", "front-dte", "back-dte",
	"short-put-delta", "short-call-delta", "delta-tolerance",
	"contracts", "ladder", "ladder-steps", "contract-multiplier",
	"profit-take", "stop-loss", "force-close-after-days",
	"max-open-trades", "trade-delay-days",
	"start-date", "end-date",
	"rsi-window", "rsi-low-threshold", "rsi-high-threshold",
	"high-vol-check", "high-vol-check-window", "high-vol-threshold",
}

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one strategy configuration",
		Example: `  backtest run --variant short_put --dte 30 --profit-take 50 --stop-loss 200
  backtest run --variant short_straddle --staggered --ladder --ladder-steps 3 --max-open-trades 4
  backtest run --variant put_calendar --front-dte 30 --back-dte 60 --start-date 2020-01-01`,
		Args: cobra.NoArgs,
		RunE: withApp(app, func(cmd *cobra.Command, args []string) error {
			cfg, raw, err := strategyFromFlags(cmd)
			if err != nil {
				return err
			}
			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := engine.Run(cmd.Context(), backtest.Request{Config: cfg, Raw: raw})
			if err != nil {
				return err
			}
			return printResult(NewOutput(cmd), res)
		}),
	}
	addStrategyFlags(cmd)
	return cmd
}

func addStrategyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("variant", "", "strategy: short_put, short_put_call, short_straddle, put_calendar")
	f.Bool("staggered", false, "enter tranches on a staggered schedule")

	f.Int("dte", domain.DefaultDTE, "target days to expiry")
	f.Int("dte-min", 0, "minimum days to expiry (with --dte-max selects a window)")
	f.Int("dte-max", 0, "maximum days to expiry")
	f.Int("front-dte", domain.DefaultFrontDTE, "front leg days to expiry (put_calendar)")
	f.Int("back-dte", domain.DefaultBackDTE, "back leg days to expiry (put_calendar)")
	f.Float64("short-put-delta", domain.DefaultDelta, "target |delta| of the short put")
	f.Float64("short-call-delta", domain.DefaultDelta, "target |delta| of the short call")
	f.Float64("delta-tolerance", domain.DefaultDeltaTolerance, "accepted distance from the target delta")

	f.Int("contracts", domain.DefaultContracts, "contracts per leg")
	f.Bool("ladder", false, "multiply contracts by --ladder-steps (short_straddle)")
	f.Int("ladder-steps", domain.DefaultLadderSteps, "ladder multiplier")
	f.Float64("contract-multiplier", domain.DefaultContractMultiplier, "underlying units per contract")

	f.Float64("profit-take", 0, "close at this percent of entry premium captured")
	f.Float64("stop-loss", 0, "close at this percent of entry premium lost")
	f.Int("force-close-after-days", 0, "close after this many calendar days")

	f.Int("max-open-trades", domain.DefaultMaxOpenTrades, "maximum concurrently open trades")
	f.Int("trade-delay-days", -1, "minimum calendar days between entries, negative disables")

	f.String("start-date", "", "first simulated date (YYYY-MM-DD)")
	f.String("end-date", "", "last simulated date (YYYY-MM-DD)")

	f.Int("rsi-window", domain.DefaultRSIWindow, "RSI lookback")
	f.Float64("rsi-low-threshold", 0, "enter only when RSI is at or above this value")
	f.Float64("rsi-high-threshold", 0, "enter only when RSI is at or below this value")
	f.Bool("high-vol-check", false, "skip entries while realized volatility exceeds the threshold")
	f.Int("high-vol-check-window", domain.DefaultHighVolWindow, "realized volatility lookback")
	f.Float64("high-vol-threshold", domain.DefaultHighVolThreshold, "annualized realized volatility threshold")

	_ = cmd.MarkFlagRequired("variant")
}

// strategyFromFlags builds the strategy configuration and its raw parameter
// string. Optional thresholds are only set when the flag was given.
func strategyFromFlags(cmd *cobra.Command) (domain.StrategyConfig, string, error) {
	f := cmd.Flags()

	name, _ := f.GetString("variant")
	variant, legacyStaggered, err := domain.ParseVariant(name)
	if err != nil {
		return domain.StrategyConfig{}, "", err
	}

	cfg := domain.StrategyConfig{Variant: variant}
	cfg.Staggered, _ = f.GetBool("staggered")
	cfg.Staggered = cfg.Staggered || legacyStaggered

	cfg.DTE, _ = f.GetInt("dte")
	cfg.DTEMin = optionalInt(cmd, "dte-min")
	cfg.DTEMax = optionalInt(cmd, "dte-max")
	cfg.FrontDTE, _ = f.GetInt("front-dte")
	cfg.BackDTE, _ = f.GetInt("back-dte")
	cfg.ShortPutDelta, _ = f.GetFloat64("short-put-delta")
	cfg.ShortCallDelta, _ = f.GetFloat64("short-call-delta")
	cfg.DeltaTolerance, _ = f.GetFloat64("delta-tolerance")

	cfg.Contracts, _ = f.GetInt("contracts")
	cfg.Ladder, _ = f.GetBool("ladder")
	cfg.LadderSteps, _ = f.GetInt("ladder-steps")
	cfg.ContractMultiplier, _ = f.GetFloat64("contract-multiplier")

	cfg.ProfitTake = optionalFloat(cmd, "profit-take")
	cfg.StopLoss = optionalFloat(cmd, "stop-loss")
	cfg.ForceCloseAfterDays = optionalInt(cmd, "force-close-after-days")

	cfg.MaxOpenTrades, _ = f.GetInt("max-open-trades")
	cfg.TradeDelayDays = optionalInt(cmd, "trade-delay-days")

	cfg.StartDate, _ = f.GetString("start-date")
	cfg.EndDate, _ = f.GetString("end-date")

	cfg.RSIWindow, _ = f.GetInt("rsi-window")
	cfg.RSILow = optionalFloat(cmd, "rsi-low-threshold")
	cfg.RSIHigh = optionalFloat(cmd, "rsi-high-threshold")
	cfg.HighVolCheck, _ = f.GetBool("high-vol-check")
	cfg.HighVolWindow, _ = f.GetInt("high-vol-check-window")
	cfg.HighVolThreshold, _ = f.GetFloat64("high-vol-threshold")

	// Every field carries its flag default here, so a zero was given explicitly.
	if err := cfg.Validate(); err != nil {
		return domain.StrategyConfig{}, "", err
	}
	return cfg, rawFlags(cmd), nil
}

func optionalInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func optionalFloat(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

func rawFlags(cmd *cobra.Command) string {
	var parts []string
	for _, name := range strategyFlagNames {
		if !cmd.Flags().Changed(name) {
			continue
		}
		parts = append(parts, name+"="+cmd.Flags().Lookup(name).Value.String())
	}
	return strings.Join(parts, ",")
}
