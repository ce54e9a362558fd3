package storage

import (
	"fmt"

	"options-backtest-lab/internal/domain"
)

// ValidateRun checks the fields every backend requires.
func ValidateRun(r *domain.BacktestRun) error {
	if r == nil || r.StorageKey == "" || r.Fingerprint == "" || r.RunID == "" {
		return ErrInvalidInput
	}
	return nil
}

// ValidateBatch checks that every record of a batch belongs to the batch's run.
func ValidateBatch(b domain.LedgerBatch) error {
	if b.StorageKey == "" {
		return ErrInvalidInput
	}
	for _, t := range b.Trades {
		if t.StorageKey != b.StorageKey || t.TradeID == "" {
			return fmt.Errorf("%w: trade record %q outside run %s", ErrInvalidInput, t.TradeID, b.StorageKey)
		}
	}
	for _, l := range b.Legs {
		if l.StorageKey != b.StorageKey || l.TradeID == "" {
			return fmt.Errorf("%w: leg record %q outside run %s", ErrInvalidInput, l.TradeID, b.StorageKey)
		}
	}
	return nil
}

// TradeKey is the primary key of a trade record.
type TradeKey struct {
	TradeID  string
	Revision int
}

// LegKey is the primary key of a leg record within a run.
type LegKey struct {
	TradeID  string
	LegIndex int
	Date     int64
	LegType  domain.LegType
}

// KeyOfLeg returns the primary key of r.
func KeyOfLeg(r domain.LegRecord) LegKey {
	return LegKey{TradeID: r.TradeID, LegIndex: r.LegIndex, Date: r.Date.Unix(), LegType: r.LegType}
}
