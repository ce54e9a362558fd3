package reporting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"options-backtest-lab/internal/domain"
)

var tradeHeader = []string{
	"seq", "trade_id", "entry_date", "close_date", "expiry", "dte", "contracts", "status",
	"entry_value", "close_value", "realized_pnl", "holding_days",
	"breakeven_low", "breakeven_high", "data_gap", "legs",
}

// RenderCSV renders trade rows as CSV string.
func RenderCSV(trades []TradeRow) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(tradeHeader); err != nil {
		return "", err
	}
	for _, t := range trades {
		closeDate := ""
		if t.CloseDate != nil {
			closeDate = domain.FormatDate(*t.CloseDate)
		}
		record := []string{
			strconv.Itoa(t.Seq),
			t.TradeID,
			domain.FormatDate(t.EntryDate),
			closeDate,
			domain.FormatDate(t.Expiry),
			strconv.Itoa(t.DTE),
			strconv.Itoa(t.Contracts),
			string(t.Status),
			fmt.Sprintf("%.2f", t.EntryValue),
			fmt.Sprintf("%.2f", t.CloseValue),
			fmt.Sprintf("%.2f", t.RealizedPnL),
			strconv.Itoa(t.HoldingDays),
			fmt.Sprintf("%.2f", t.BreakevenLow),
			fmt.Sprintf("%.2f", t.BreakevenHigh),
			strconv.FormatBool(t.DataGap),
			t.Legs,
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
