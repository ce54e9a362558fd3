package cli

import (
	"github.com/spf13/cobra"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/reporting"
)

func newShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show STORAGE_KEY",
		Short: "Show the summary and trades of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(app, func(cmd *cobra.Command, args []string) error {
			stores, err := app.Stores(cmd.Context())
			if err != nil {
				return err
			}
			report, err := reporting.NewGenerator(stores).Generate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report)
			}

			output.Bold("%s (%s)", report.Run.StorageKey, report.DisplayName)
			if report.Partial {
				output.Warning("  run did not complete; summary recomputed from the ledger")
			}
			printSummary(output, report.Run, report.Summary)

			if trades, _ := cmd.Flags().GetBool("trades"); trades {
				output.Println()
				printTrades(output, report.Trades)
			}
			return nil
		}),
	}
	cmd.Flags().Bool("trades", false, "list every trade")
	return cmd
}

func printTrades(output *Output, rows []reporting.TradeRow) {
	output.Bold("%4s %-10s %-10s %-10s %-20s %10s %10s", "SEQ", "ENTRY", "CLOSE", "EXPIRY", "STATUS", "CREDIT", "P&L")
	for _, r := range rows {
		line := output.PnL(r.RealizedPnL)
		if r.Status == domain.StatusOpen {
			line = "-"
		}
		output.Printf("%4d %-10s %-10s %-10s %-20s %10.2f %10s\n",
			r.Seq, domain.FormatDate(r.EntryDate), fmtDay(r.CloseDate), domain.FormatDate(r.Expiry),
			r.Status, r.EntryValue, line)
		if r.DataGap {
			output.Dim("     data gap while open")
		}
	}
}
