package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/reporting"
)

// Report formats.
const (
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
)

// NewReportCmd creates the root command of the report binary.
func NewReportCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a recorded run as Markdown or CSV",
		Long: `Renders the summary, status breakdown and trade table of one recorded run.
A run that never completed is summarized from its ledger and marked partial.
Without --storage-key the index of all runs is rendered.`,
		Example: `  report --storage-key ss_5Hq3... --format markdown --out reports/ss.md
  report --storage-key ss_5Hq3... --format csv > trades.csv
  report --out reports/INDEX.md`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		RunE: withApp(app, func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("storage-key")
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			if format != FormatMarkdown && format != FormatCSV {
				return apperr.NewConfigError("format", format, "must be markdown or csv")
			}
			if key == "" && format == FormatCSV {
				return apperr.NewConfigError("format", format, "the run index is only rendered as markdown")
			}

			stores, err := app.Stores(cmd.Context())
			if err != nil {
				return err
			}
			gen := reporting.NewGenerator(stores)

			var body string
			if key == "" {
				rows, err := gen.Index(cmd.Context())
				if err != nil {
					return err
				}
				body = reporting.RenderIndexMarkdown(rows)
			} else {
				report, err := gen.Generate(cmd.Context(), key)
				if err != nil {
					return err
				}
				if format == FormatCSV {
					if body, err = reporting.RenderCSV(report.Trades); err != nil {
						return err
					}
				} else {
					body = reporting.RenderMarkdown(report)
				}
			}

			if out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			if err := os.WriteFile(out, []byte(body), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			app.Logger.Info().Str("path", out).Str("format", format).Msg("report written")
			return nil
		}),
	}

	addGlobalFlags(cmd)
	cmd.Flags().String("storage-key", "", "run to render (default: index of all runs)")
	cmd.Flags().String("format", FormatMarkdown, "output format: markdown or csv")
	cmd.Flags().String("out", "", "output file (default: stdout)")
	return cmd
}
