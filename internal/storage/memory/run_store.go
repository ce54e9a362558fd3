package memory

import (
	"context"
	"sort"
	"sync"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BacktestRun // keyed by storage_key
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]*domain.BacktestRun),
	}
}

// Insert registers a run. Returns ErrDuplicateKey if storage_key exists.
func (s *RunStore) Insert(_ context.Context, r *domain.BacktestRun) error {
	if err := storage.ValidateRun(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.StorageKey]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.StorageKey] = &copy
	return nil
}

// GetByStorageKey retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByStorageKey(_ context.Context, storageKey string) (*domain.BacktestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[storageKey]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *r
	return &copy, nil
}

// GetByFingerprint retrieves every run of a fingerprint, ordered by revision ASC.
func (s *RunStore) GetByFingerprint(_ context.Context, fingerprint string) ([]*domain.BacktestRun, error) {
	result := s.filter(func(r *domain.BacktestRun) bool { return r.Fingerprint == fingerprint })
	sort.Slice(result, func(i, j int) bool {
		return result[i].Revision < result[j].Revision
	})
	return result, nil
}

// GetByVariant retrieves every run of a variant, ordered by created_at ASC, storage_key ASC.
func (s *RunStore) GetByVariant(_ context.Context, variant domain.Variant) ([]*domain.BacktestRun, error) {
	result := s.filter(func(r *domain.BacktestRun) bool { return r.Variant == variant })
	sortRuns(result)
	return result, nil
}

// List retrieves every run, ordered by created_at ASC, storage_key ASC.
func (s *RunStore) List(_ context.Context) ([]*domain.BacktestRun, error) {
	result := s.filter(func(*domain.BacktestRun) bool { return true })
	sortRuns(result)
	return result, nil
}

func (s *RunStore) filter(keep func(*domain.BacktestRun) bool) []*domain.BacktestRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BacktestRun
	for _, r := range s.data {
		if keep(r) {
			copy := *r
			result = append(result, &copy)
		}
	}
	return result
}

func sortRuns(runs []*domain.BacktestRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].StorageKey < runs[j].StorageKey
	})
}

var _ storage.RunStore = (*RunStore)(nil)
