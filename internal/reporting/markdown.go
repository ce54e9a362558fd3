package reporting

import (
	"fmt"
	"strings"
	"time"

	"options-backtest-lab/internal/domain"
)

func fmtDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return domain.FormatDate(*t)
}

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder
	s := r.Summary

	// Header
	sb.WriteString(fmt.Sprintf("# Backtest Report: %s\n\n", r.DisplayName))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Storage Key | %s |\n", r.Run.StorageKey))
	sb.WriteString(fmt.Sprintf("| Run ID | %s |\n", r.Run.RunID))
	sb.WriteString(fmt.Sprintf("| Fingerprint | %s |\n", r.Run.Fingerprint))
	sb.WriteString(fmt.Sprintf("| Revision | %d |\n", r.Run.Revision))
	sb.WriteString(fmt.Sprintf("| Created | %s |\n", r.Run.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("| Parameters | %s |\n", r.Run.RawConfig))
	sb.WriteString("\n")

	if r.Partial {
		sb.WriteString("**Run did not complete.** Figures below cover the committed dates only.\n\n")
	}

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Date Range | %s .. %s |\n", fmtDate(s.FirstDate), fmtDate(s.LastDate)))
	sb.WriteString(fmt.Sprintf("| Trading Dates | %d |\n", s.TradingDates))
	sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", s.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Wins / Losses | %d / %d |\n", s.Wins, s.Losses))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.2f%% |\n", s.WinRate*100))
	sb.WriteString(fmt.Sprintf("| Total P&L | %.2f |\n", s.TotalPnL))
	sb.WriteString(fmt.Sprintf("| Premium Collected | %.2f |\n", s.PremiumCollected))
	sb.WriteString(fmt.Sprintf("| Mean / Median P&L | %.2f / %.2f |\n", s.MeanPnL, s.MedianPnL))
	sb.WriteString(fmt.Sprintf("| P10 / P90 P&L | %.2f / %.2f |\n", s.P10PnL, s.P90PnL))
	sb.WriteString(fmt.Sprintf("| Min / Max P&L | %.2f / %.2f |\n", s.MinPnL, s.MaxPnL))
	sb.WriteString(fmt.Sprintf("| Stddev P&L | %.2f |\n", s.StddevPnL))
	sb.WriteString(fmt.Sprintf("| Max Drawdown | %.2f |\n", s.MaxDrawdown))
	sb.WriteString(fmt.Sprintf("| Max Consecutive Losses | %d |\n", s.MaxConsecutiveLosses))
	sb.WriteString(fmt.Sprintf("| Data Gap Dates / Trades | %d / %d |\n", s.DataGapDates, s.DataGapTrades))
	sb.WriteString("\n")

	// Status breakdown
	sb.WriteString("## Exits\n\n")
	if len(r.Statuses) > 0 {
		sb.WriteString("| Status | Trades | P&L |\n")
		sb.WriteString("|--------|--------|-----|\n")
		for _, row := range r.Statuses {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.2f |\n", row.Status, row.Count, row.TotalPnL))
		}
	} else {
		sb.WriteString("No closed trades.\n")
	}
	sb.WriteString("\n")

	// Trades
	sb.WriteString("## Trades\n\n")
	if len(r.Trades) > 0 {
		sb.WriteString("| # | Entry | Close | Expiry | DTE | Qty | Status | Entry Value | P&L | Days | Breakevens | Legs |\n")
		sb.WriteString("|---|-------|-------|--------|-----|-----|--------|-------------|-----|------|------------|------|\n")
		for _, t := range r.Trades {
			status := string(t.Status)
			if t.DataGap {
				status += " (gap)"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %d | %d | %s | %.2f | %.2f | %d | %.2f / %.2f | %s |\n",
				t.Seq, domain.FormatDate(t.EntryDate), fmtDate(t.CloseDate), domain.FormatDate(t.Expiry),
				t.DTE, t.Contracts, status, t.EntryValue, t.RealizedPnL, t.HoldingDays,
				t.BreakevenLow, t.BreakevenHigh, t.Legs))
		}
	} else {
		sb.WriteString("No trades.\n")
	}
	sb.WriteString("\n")

	// Data gaps
	if len(r.DataGapTrades) > 0 {
		sb.WriteString("## Data Gaps\n\n")
		for _, id := range r.DataGapTrades {
			sb.WriteString(fmt.Sprintf("- %s\n", id))
		}
		sb.WriteString("\n")
	}

	// Configuration
	if r.ConfigYAML != "" {
		sb.WriteString("## Configuration\n\n")
		sb.WriteString("```yaml\n")
		sb.WriteString(r.ConfigYAML)
		if !strings.HasSuffix(r.ConfigYAML, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("```\n")
	}

	return sb.String()
}

// RenderIndexMarkdown renders the run index as a Markdown table.
func RenderIndexMarkdown(rows []IndexRow) string {
	var sb strings.Builder
	sb.WriteString("| Storage Key | Variant | Rev | Created | Complete | Trades | P&L | WinRate |\n")
	sb.WriteString("|-------------|---------|-----|---------|----------|--------|-----|---------|\n")
	for _, r := range rows {
		complete := "no"
		if r.Complete {
			complete = "yes"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s | %d | %.2f | %.4f |\n",
			r.StorageKey, r.Variant, r.Revision, r.CreatedAt.Format(time.RFC3339),
			complete, r.TotalTrades, r.TotalPnL, r.WinRate))
	}
	return sb.String()
}
