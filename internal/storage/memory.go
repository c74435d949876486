package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brokerage-tools/chronos/internal/models"
)

// MemoryStore is an in-memory Store used for tests and ephemeral sessions.
// It mirrors the DuckDB store's semantics, including idempotent upserts and
// inclusive-start/exclusive-end queries.
type MemoryStore struct {
	mu      sync.RWMutex
	candles map[string]models.Candle    // keyed by barKey
	symbols map[int64]models.SymbolInfo // keyed by symbol id
	closed  bool
}

// barKey is the bar identity: series key plus start time.
func barKey(c models.Candle) string {
	return fmt.Sprintf("%s|%s|%d", c.Symbol, c.Interval, c.Start.UnixNano())
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make(map[string]models.Candle),
		symbols: make(map[int64]models.SymbolInfo),
	}
}

// Initialize implements Manager.Initialize.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// Upsert implements CandleStore.Upsert.
func (m *MemoryStore) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return 0, NewInsertError("candles", fmt.Errorf("invalid candle at index %d: %w", i, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, NewInsertError("candles", fmt.Errorf("store is closed"))
	}

	inserted := 0
	for _, c := range candles {
		key := barKey(c)
		if _, exists := m.candles[key]; !exists {
			inserted++
		}
		m.candles[key] = c
	}
	return inserted, nil
}

// Query implements CandleStore.Query.
func (m *MemoryStore) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	m.mu.RLock()
	matches := make([]models.Candle, 0)
	for _, c := range m.candles {
		if c.Symbol != req.Symbol || c.Interval != req.Interval {
			continue
		}
		if !req.Start.IsZero() && c.Start.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && !c.Start.Before(req.End) {
			continue
		}
		matches = append(matches, c)
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if req.Descending {
			return matches[i].Start.After(matches[j].Start)
		}
		return matches[i].Start.Before(matches[j].Start)
	})

	total := len(matches)
	if req.Offset > 0 {
		if req.Offset >= total {
			matches = nil
		} else {
			matches = matches[req.Offset:]
		}
	}
	if req.Limit > 0 && len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}

	return &QueryResponse{
		Candles:    matches,
		Total:      total,
		HasMore:    req.Limit > 0 && req.Offset+len(matches) < total,
		NextOffset: req.Offset + len(matches),
		QueryTime:  time.Since(start),
	}, nil
}

// Coverage implements CandleStore.Coverage.
func (m *MemoryStore) Coverage(ctx context.Context, key models.SeriesKey) (*CoverageBounds, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bounds := &CoverageBounds{}
	for _, c := range m.candles {
		if c.Symbol != key.Symbol || c.Interval != key.Interval {
			continue
		}
		if bounds.Count == 0 || c.Start.Before(bounds.First) {
			bounds.First = c.Start
		}
		if bounds.Count == 0 || c.Start.After(bounds.Last) {
			bounds.Last = c.Start
		}
		bounds.Count++
	}
	return bounds, nil
}

// UpsertSymbols implements SymbolStore.UpsertSymbols.
func (m *MemoryStore) UpsertSymbols(ctx context.Context, symbols []models.SymbolInfo) error {
	for i := range symbols {
		if err := symbols[i].Validate(); err != nil {
			return NewInsertError("symbols", fmt.Errorf("invalid symbol at index %d: %w", i, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range symbols {
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
		m.symbols[s.SymbolID] = s
	}
	return nil
}

// GetSymbol implements SymbolStore.GetSymbol.
func (m *MemoryStore) GetSymbol(ctx context.Context, ticker string) (*models.SymbolInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.symbols {
		if s.Symbol == ticker {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

// SearchSymbols implements SymbolStore.SearchSymbols.
func (m *MemoryStore) SearchSymbols(ctx context.Context, prefix string) ([]models.SymbolInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SymbolInfo
	for _, s := range m.symbols {
		if strings.HasPrefix(s.Symbol, prefix) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// StaleSymbols implements SymbolStore.StaleSymbols.
func (m *MemoryStore) StaleSymbols(ctx context.Context, cutoff time.Time) ([]models.SymbolInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SymbolInfo
	for _, s := range m.symbols {
		if s.UpdatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Stats implements Manager.Stats.
func (m *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &StoreStats{
		TotalCandles: int64(len(m.candles)),
		TotalSymbols: len(m.symbols),
	}
	series := make(map[models.SeriesKey]struct{})
	for _, c := range m.candles {
		series[models.SeriesKey{Symbol: c.Symbol, Interval: c.Interval}] = struct{}{}
		if stats.EarliestBar.IsZero() || c.Start.Before(stats.EarliestBar) {
			stats.EarliestBar = c.Start
		}
		if c.Start.After(stats.LatestBar) {
			stats.LatestBar = c.Start
		}
	}
	stats.TotalSeries = len(series)
	return stats, nil
}

// HealthCheck implements Manager.HealthCheck.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return NewStorageError("health_check", "", fmt.Errorf("store is closed"))
	}
	return nil
}

// Close implements Manager.Close.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
