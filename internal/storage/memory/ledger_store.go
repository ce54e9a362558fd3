package memory

import (
	"context"
	"sort"
	"sync"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

type runLedger struct {
	trades  map[storage.TradeKey]domain.TradeRecord
	legs    map[storage.LegKey]domain.LegRecord
	ordered []domain.LegRecord // insertion order
}

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	mu   sync.RWMutex
	runs map[string]*runLedger // keyed by storage_key
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		runs: make(map[string]*runLedger),
	}
}

// Append commits a batch atomically. Fails entire batch on any duplicate.
func (s *LedgerStore) Append(_ context.Context, b domain.LedgerBatch) error {
	if b.IsEmpty() {
		return nil
	}
	if err := storage.ValidateBatch(b); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[b.StorageKey]
	if !ok {
		run = &runLedger{
			trades: make(map[storage.TradeKey]domain.TradeRecord),
			legs:   make(map[storage.LegKey]domain.LegRecord),
		}
	}

	// First pass: check for duplicates (existing + intra-batch)
	tradeKeys := make(map[storage.TradeKey]struct{}, len(b.Trades))
	for _, t := range b.Trades {
		k := storage.TradeKey{TradeID: t.TradeID, Revision: t.Revision}
		if _, exists := run.trades[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := tradeKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		tradeKeys[k] = struct{}{}
	}
	legKeys := make(map[storage.LegKey]struct{}, len(b.Legs))
	for _, l := range b.Legs {
		k := storage.KeyOfLeg(l)
		if _, exists := run.legs[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := legKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		legKeys[k] = struct{}{}
	}

	// Second pass: insert all
	for _, t := range b.Trades {
		run.trades[storage.TradeKey{TradeID: t.TradeID, Revision: t.Revision}] = copyTradeRecord(t)
	}
	for _, l := range b.Legs {
		run.legs[storage.KeyOfLeg(l)] = l
		run.ordered = append(run.ordered, l)
	}
	s.runs[b.StorageKey] = run
	return nil
}

// GetTradeRecords retrieves all trade records of a run, ordered by seq ASC, revision ASC.
func (s *LedgerStore) GetTradeRecords(_ context.Context, storageKey string) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[storageKey]
	if !ok {
		return nil, nil
	}

	result := make([]domain.TradeRecord, 0, len(run.trades))
	for _, t := range run.trades {
		result = append(result, copyTradeRecord(t))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Seq != result[j].Seq {
			return result[i].Seq < result[j].Seq
		}
		if result[i].TradeID != result[j].TradeID {
			return result[i].TradeID < result[j].TradeID
		}
		return result[i].Revision < result[j].Revision
	})
	return result, nil
}

// GetLegRecords retrieves all leg records of a run, ordered by date ASC, trade_id ASC, leg_index ASC.
func (s *LedgerStore) GetLegRecords(_ context.Context, storageKey string) ([]domain.LegRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[storageKey]
	if !ok {
		return nil, nil
	}

	result := make([]domain.LegRecord, len(run.ordered))
	copy(result, run.ordered)
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.TradeID != b.TradeID {
			return a.TradeID < b.TradeID
		}
		return a.LegIndex < b.LegIndex
	})
	return result, nil
}

func copyTradeRecord(t domain.TradeRecord) domain.TradeRecord {
	if t.CloseDate != nil {
		d := *t.CloseDate
		t.CloseDate = &d
	}
	return t
}

var _ storage.LedgerStore = (*LedgerStore)(nil)
