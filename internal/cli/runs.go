package cli

import (
	"github.com/spf13/cobra"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/recorder"
	"options-backtest-lab/internal/reporting"
)

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Example: `  backtest runs
  backtest runs --variant short_straddle
  backtest runs --fingerprint 3f2a...`,
		Args: cobra.NoArgs,
		RunE: withApp(app, func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := app.Stores(ctx)
			if err != nil {
				return err
			}
			rec := recorder.New(stores, recorder.WithLogger(app.Logger))
			gen := reporting.NewGenerator(stores)

			fingerprint, _ := cmd.Flags().GetString("fingerprint")
			variantName, _ := cmd.Flags().GetString("variant")

			var rows []reporting.IndexRow
			switch {
			case fingerprint != "":
				runs, err := rec.ByFingerprint(ctx, fingerprint)
				if err != nil {
					return err
				}
				rows, err = gen.IndexOf(ctx, runs)
				if err != nil {
					return err
				}
			case variantName != "":
				variant, _, err := domain.ParseVariant(variantName)
				if err != nil {
					return err
				}
				runs, err := rec.ByVariant(ctx, variant)
				if err != nil {
					return err
				}
				rows, err = gen.IndexOf(ctx, runs)
				if err != nil {
					return err
				}
			default:
				rows, err = gen.Index(ctx)
				if err != nil {
					return err
				}
			}
			return printIndex(NewOutput(cmd), rows)
		}),
	}
	cmd.Flags().String("variant", "", "only runs of this variant")
	cmd.Flags().String("fingerprint", "", "only runs with this configuration fingerprint")
	return cmd
}

func printIndex(output *Output, rows []reporting.IndexRow) error {
	if output.IsJSON() {
		if rows == nil {
			rows = []reporting.IndexRow{}
		}
		return output.JSON(rows)
	}
	if len(rows) == 0 {
		output.Dim("no runs recorded")
		return nil
	}

	output.Bold("%-28s %-16s %4s %-20s %7s %12s", "STORAGE KEY", "VARIANT", "REV", "CREATED", "TRADES", "P&L")
	for _, r := range rows {
		created := r.CreatedAt.UTC().Format("2006-01-02 15:04:05")
		if !r.Complete {
			output.Warning("%-28s %-16s %4d %-20s %7s %12s", r.StorageKey, r.Variant, r.Revision, created, "-", "incomplete")
			continue
		}
		output.Printf("%-28s %-16s %4d %-20s %7d %12s\n", r.StorageKey, r.Variant, r.Revision, created, r.TotalTrades, output.PnL(r.TotalPnL))
	}
	return nil
}
