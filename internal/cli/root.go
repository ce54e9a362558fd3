// Package cli provides the command-line interface of the backtest binaries.
package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/config"
	"options-backtest-lab/internal/logging"
	"options-backtest-lab/internal/observability"
)

// Version information
const Version = "0.3.0"

// NewRootCmd creates the root command of the backtest binary.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Options strategy backtester",
		Long: `Simulates rule-based short-premium option strategies over a historical
option chain and records every run, trade and leg in a queryable ledger.

Identical parameters produce the same fingerprint. With recorder.policy=reuse
a completed run is returned instead of simulated again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}

	addGlobalFlags(rootCmd)
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address while running (overrides metrics.addr)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newSweepCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newShowCmd(app))
	rootCmd.AddCommand(newSeedCmd(app))

	return rootCmd
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "config file (default: ./obl.yaml if present)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
}

// setup loads configuration and builds the logger and metrics. It runs
// before every subcommand.
func (a *App) setup(cmd *cobra.Command) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
	}

	a.Config = cfg
	a.Logger = logging.NewLogger(cfg.LogSettings()).With().Str("cmd", cmd.Name()).Logger()
	a.Registry = prometheus.NewRegistry()
	a.Metrics = observability.NewMetrics(cfg.Metrics.Namespace, a.Registry)
	return nil
}

// withApp runs fn and releases the app's resources afterwards. The metrics
// server, when configured, lives for the duration of fn.
func withApp(app *App, fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := app.Close(); cerr != nil {
				app.Logger.Warn().Err(cerr).Msg("closing resources")
			}
		}()
		if addr := app.Config.Metrics.Addr; addr != "" {
			if err := app.ServeMetrics(addr); err != nil {
				return err
			}
		}
		return fn(cmd, args)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"version": Version})
			}
			output.Printf("backtest v%s\n", Version)
			return nil
		},
	}
}

// Execute runs cmd with args and returns the process exit code.
func Execute(ctx context.Context, cmd *cobra.Command, args []string) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("error: %v", err))
	}
	return apperr.ExitCode(err)
}
