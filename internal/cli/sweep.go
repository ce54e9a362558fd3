package cli

import (
	"github.com/spf13/cobra"

	"options-backtest-lab/internal/sweep"
)

func newSweepCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep FILE",
		Short: "Run every configuration of a YAML sweep file",
		Long: `Runs the configurations listed in a sweep file in parallel. Each entry of
"runs" is merged over "base". A failed run does not stop the others unless
--fail-fast is set; the command fails if any run failed.`,
		Example: `  backtest sweep sweeps/straddles.yaml --parallelism 4`,
		Args:    cobra.ExactArgs(1),
		RunE: withApp(app, func(cmd *cobra.Command, args []string) error {
			file, err := sweep.LoadFile(args[0])
			if err != nil {
				return err
			}

			parallelism := app.Config.Sweep.Parallelism
			if file.Parallelism > 0 {
				parallelism = file.Parallelism
			}
			if cmd.Flags().Changed("parallelism") {
				parallelism, _ = cmd.Flags().GetInt("parallelism")
			}
			failFast := app.Config.Sweep.FailFast
			if cmd.Flags().Changed("fail-fast") {
				failFast, _ = cmd.Flags().GetBool("fail-fast")
			}

			engine, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			s := sweep.New(engine,
				sweep.WithParallelism(parallelism),
				sweep.WithFailFast(failFast),
				sweep.WithLogger(app.Logger),
				sweep.WithMetrics(app.Metrics),
			)
			outcomes, runErr := s.Run(cmd.Context(), file.Specs)
			if err := printOutcomes(NewOutput(cmd), outcomes); err != nil {
				return err
			}
			return runErr
		}),
	}
	cmd.Flags().Int("parallelism", 0, "concurrent runs (default: file, then sweep.parallelism, then GOMAXPROCS)")
	cmd.Flags().Bool("fail-fast", false, "cancel remaining runs after the first failure")
	return cmd
}

func printOutcomes(output *Output, outcomes []sweep.Outcome) error {
	if output.IsJSON() {
		views := make([]runView, 0, len(outcomes))
		for _, o := range outcomes {
			v := runView{Name: o.Spec.Name}
			if o.Result != nil {
				v = newRunView(o.Result)
				v.Name = o.Spec.Name
			}
			if o.Err != nil {
				v.Error = o.Err.Error()
			}
			views = append(views, v)
		}
		return output.JSON(views)
	}

	failed := 0
	output.Bold("%-24s %-28s %7s %12s", "NAME", "STORAGE KEY", "TRADES", "P&L")
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			output.Error("%-24s %v", o.Spec.Name, o.Err)
		case o.Result == nil:
			output.Dim("%-24s skipped", o.Spec.Name)
		default:
			s := o.Result.Summary
			line := output.PnL(s.TotalPnL)
			if o.Result.Reused {
				line += " (reused)"
			}
			output.Printf("%-24s %-28s %7d %12s\n", o.Spec.Name, o.Result.Run.StorageKey, s.TotalTrades, line)
		}
	}
	if failed > 0 {
		output.Warning("%d of %d runs failed", failed, len(outcomes))
	} else {
		output.Success("✓ %d runs completed", len(outcomes))
	}
	return nil
}
