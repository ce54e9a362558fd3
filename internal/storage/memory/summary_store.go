package memory

import (
	"context"
	"sync"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// SummaryStore is an in-memory implementation of storage.SummaryStore.
type SummaryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunSummary // keyed by storage_key
}

// NewSummaryStore creates a new in-memory summary store.
func NewSummaryStore() *SummaryStore {
	return &SummaryStore{
		data: make(map[string]*domain.RunSummary),
	}
}

// Insert stores a summary. Returns ErrDuplicateKey if storage_key exists.
func (s *SummaryStore) Insert(_ context.Context, sum *domain.RunSummary) error {
	if sum == nil || sum.StorageKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sum.StorageKey]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *sum
	s.data[sum.StorageKey] = &copy
	return nil
}

// GetByStorageKey retrieves a summary. Returns ErrNotFound if not exists.
func (s *SummaryStore) GetByStorageKey(_ context.Context, storageKey string) (*domain.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, exists := s.data[storageKey]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *sum
	return &copy, nil
}

var _ storage.SummaryStore = (*SummaryStore)(nil)

// NewStores returns a fresh in-memory backend.
func NewStores() storage.Stores {
	return storage.Stores{
		Runs:      NewRunStore(),
		Ledger:    NewLedgerStore(),
		Summaries: NewSummaryStore(),
	}
}
