package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/lookup"
)

// MemorySource serves snapshots held in memory. Safe for concurrent use.
type MemorySource struct {
	mu    sync.RWMutex
	snaps map[int64]*domain.MarketSnapshot
	bars  []domain.UnderlyingBar
}

// NewMemorySource creates a source from snapshots. The underlying series is
// taken from the snapshots' closes unless bars are added later.
func NewMemorySource(snaps ...*domain.MarketSnapshot) *MemorySource {
	m := &MemorySource{snaps: make(map[int64]*domain.MarketSnapshot)}
	for _, s := range snaps {
		m.Add(s)
	}
	return m
}

// Add stores or replaces the snapshot of its date.
func (m *MemorySource) Add(s *domain.MarketSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[domain.Day(s.Date).Unix()] = s
}

// SetUnderlying overrides the underlying series, e.g. to provide history before the first snapshot.
func (m *MemorySource) SetUnderlying(bars []domain.UnderlyingBar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars = lookup.SortBars(bars)
}

// Remove drops the snapshot of a date.
func (m *MemorySource) Remove(date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, domain.Day(date).Unix())
}

func (m *MemorySource) Dates(ctx context.Context) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dates := make([]time.Time, 0, len(m.snaps))
	for _, s := range m.snaps {
		dates = append(dates, domain.Day(s.Date))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (m *MemorySource) Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snaps[domain.Day(date).Unix()]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *MemorySource) Underlying(ctx context.Context) ([]domain.UnderlyingBar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.bars != nil {
		out := make([]domain.UnderlyingBar, len(m.bars))
		copy(out, m.bars)
		return out, nil
	}

	bars := make([]domain.UnderlyingBar, 0, len(m.snaps))
	for _, s := range m.snaps {
		bars = append(bars, domain.UnderlyingBar{Date: domain.Day(s.Date), Close: s.UnderlyingClose})
	}
	return lookup.SortBars(bars), nil
}

var _ Source = (*MemorySource)(nil)
