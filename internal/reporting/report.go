package reporting

import (
	"time"

	"options-backtest-lab/internal/domain"
)

// Report represents the report of one stored run.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Run         *domain.BacktestRun
	DisplayName string

	// Summary is the stored summary, or one recomputed from the ledger when
	// the run never completed (Partial).
	Summary *domain.RunSummary
	Partial bool

	// Configuration rendered as YAML from the canonical JSON
	ConfigYAML string

	// Breakdown by closing status, in report order
	Statuses []StatusRow

	// Trades sorted by seq
	Trades []TradeRow

	// Trades flagged with a data gap
	DataGapTrades []string
}

// StatusRow counts trades closed with one status.
type StatusRow struct {
	Status   domain.TradeStatus
	Count    int
	TotalPnL float64
}

// TradeRow represents one row in the trades table.
type TradeRow struct {
	Seq           int
	TradeID       string
	EntryDate     time.Time
	CloseDate     *time.Time
	Expiry        time.Time
	DTE           int
	Contracts     int
	Status        domain.TradeStatus
	EntryValue    float64
	CloseValue    float64
	RealizedPnL   float64
	HoldingDays   int
	BreakevenLow  float64
	BreakevenHigh float64
	DataGap       bool
	Legs          string
}

// IndexRow represents one run in the run index.
type IndexRow struct {
	StorageKey  string
	Variant     domain.Variant
	Revision    int
	Fingerprint string
	CreatedAt   time.Time
	Complete    bool
	TotalTrades int
	TotalPnL    float64
	WinRate     float64
}
