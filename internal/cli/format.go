package cli

import (
	"time"

	"options-backtest-lab/internal/backtest"
	"options-backtest-lab/internal/domain"
)

// runView is the JSON form of a run outcome.
type runView struct {
	Name        string             `json:"name,omitempty"`
	StorageKey  string             `json:"storage_key,omitempty"`
	RunID       string             `json:"run_id,omitempty"`
	Variant     domain.Variant     `json:"variant,omitempty"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	Revision    int                `json:"revision,omitempty"`
	RawConfig   string             `json:"raw_config,omitempty"`
	Reused      bool               `json:"reused"`
	Summary     *domain.RunSummary `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func newRunView(res *backtest.Result) runView {
	v := runView{
		StorageKey:  res.Run.StorageKey,
		RunID:       res.Run.RunID,
		Variant:     res.Run.Variant,
		Fingerprint: res.Run.Fingerprint,
		Revision:    res.Run.Revision,
		RawConfig:   res.Run.RawConfig,
		Reused:      res.Reused,
		Summary:     res.Summary,
	}
	return v
}

func printResult(output *Output, res *backtest.Result) error {
	if output.IsJSON() {
		return output.JSON(newRunView(res))
	}

	state := "completed"
	if res.Reused {
		state = "reused"
	}
	output.Success("✓ %s %s", res.Run.StorageKey, state)
	printSummary(output, res.Run, res.Summary)
	return nil
}

func printSummary(output *Output, run *domain.BacktestRun, s *domain.RunSummary) {
	output.Printf("  Variant:       %s\n", run.Variant)
	output.Printf("  Fingerprint:   %s\n", run.Fingerprint)
	if run.RawConfig != "" {
		output.Dim("  Parameters:    %s", run.RawConfig)
	}
	if s == nil {
		output.Warning("  no summary stored (run did not complete)")
		return
	}
	output.Printf("  Dates:         %d (%s .. %s)\n", s.TradingDates, fmtDay(s.FirstDate), fmtDay(s.LastDate))
	output.Printf("  Trades:        %d (wins %d, losses %d, win rate %.1f%%)\n", s.TotalTrades, s.Wins, s.Losses, s.WinRate*100)
	output.Printf("  Total P&L:     %s\n", output.PnL(s.TotalPnL))
	output.Printf("  Mean / Median: %s / %s\n", output.PnL(s.MeanPnL), output.PnL(s.MedianPnL))
	output.Printf("  Max drawdown:  %.2f\n", s.MaxDrawdown)
	output.Printf("  Premium:       %.2f\n", s.PremiumCollected)
	for _, status := range domain.ClosedStatuses {
		if n := s.CountByStatus(status); n > 0 {
			output.Printf("  %-20s %d\n", status, n)
		}
	}
	if s.DataGapDates > 0 || s.DataGapTrades > 0 {
		output.Warning("  Data gaps:     %d dates, %d trades", s.DataGapDates, s.DataGapTrades)
	}
}

func fmtDay(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return domain.FormatDate(*t)
}
