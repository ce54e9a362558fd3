package domain

import "time"

// BacktestRun registers one execution of a configuration. Immutable once stored.
type BacktestRun struct {
	RunID           string
	Fingerprint     string
	Variant         Variant
	StorageKey      string
	Revision        int
	RawConfig       string // caller-supplied parameters, verbatim
	CanonicalConfig string // canonical JSON the fingerprint is computed from
	CreatedAt       time.Time
}

// RunSummary aggregates the trades of a completed run.
// Its presence in storage marks the run as complete.
type RunSummary struct {
	StorageKey  string
	RunID       string
	Fingerprint string
	Variant     Variant

	TradingDates int
	FirstDate    *time.Time
	LastDate     *time.Time

	// Counts
	TotalTrades     int
	ClosedProfit    int
	ClosedStopLoss  int
	ClosedForceTime int
	ClosedExpiry    int
	ClosedEndOfData int
	Wins            int
	Losses          int
	WinRate         float64

	// P&L distribution
	TotalPnL  float64
	MeanPnL   float64
	MedianPnL float64
	P10PnL    float64
	P90PnL    float64
	MinPnL    float64
	MaxPnL    float64
	StddevPnL float64

	MaxDrawdown          float64
	MaxConsecutiveLosses int
	PremiumCollected     float64

	DataGapTrades int
	DataGapDates  int

	CompletedAt time.Time
}

// CountByStatus returns the number of trades that closed with s.
func (s *RunSummary) CountByStatus(status TradeStatus) int {
	switch status {
	case StatusClosedProfit:
		return s.ClosedProfit
	case StatusClosedStopLoss:
		return s.ClosedStopLoss
	case StatusClosedForceTime:
		return s.ClosedForceTime
	case StatusClosedExpiry:
		return s.ClosedExpiry
	case StatusClosedEndOfData:
		return s.ClosedEndOfData
	default:
		return 0
	}
}

// DataGap records a date, or a trade on a date, that could not be valued.
type DataGap struct {
	Date    time.Time
	TradeID string
	Reason  string
}
