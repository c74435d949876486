// Package chronos is the façade over the governed client and the local candle
// cache. Callers ask for a series over a time range; the service serves what
// it can from the cache and fetches only the missing edges from the provider.
package chronos

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brokerage-tools/chronos/internal/gaps"
	"github.com/brokerage-tools/chronos/internal/models"
	"github.com/brokerage-tools/chronos/internal/storage"
)

// Provider is the remote data surface the service consumes. *api.Client
// satisfies it; tests substitute fakes.
type Provider interface {
	Candles(ctx context.Context, symbol string, symbolID int64, start, end time.Time, interval models.Interval) ([]models.Candle, error)
	SearchSymbols(ctx context.Context, prefix string) ([]models.SymbolInfo, error)
	ServerTime(ctx context.Context) (time.Time, error)
}

// Service coordinates symbol resolution, gap planning, governed fetching, and
// cache reads. Safe for concurrent use.
type Service struct {
	store    storage.Store
	provider Provider
	planner  *gaps.Planner
	logger   *slog.Logger

	// resolved memoizes ticker → symbol id lookups for the session.
	resolvedMu sync.RWMutex
	resolved   map[string]models.SymbolInfo
}

// New creates a service over the given store and provider.
func New(store storage.Store, provider Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		provider: provider,
		planner:  gaps.NewPlanner(store, logger),
		logger:   logger.With("component", "chronos"),
		resolved: make(map[string]models.SymbolInfo),
	}
}

// GetSeries returns the candles for symbol over [start, end) at the given
// interval, fetching any uncached portions from the provider first. With
// forceRefresh the whole range is refetched and re-upserted regardless of
// coverage. A fetch failure aborts the call; bars already upserted stay
// cached for the next attempt.
func (s *Service) GetSeries(ctx context.Context, symbol string, interval models.Interval, start, end time.Time, forceRefresh bool) ([]models.Candle, error) {
	if err := models.ValidateRange(start, end); err != nil {
		return nil, err
	}
	if !interval.Valid() {
		return nil, &models.ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", interval)}
	}

	key := models.SeriesKey{Symbol: symbol, Interval: interval}

	var plan []gaps.Range
	if forceRefresh {
		if !start.Equal(end) {
			plan = []gaps.Range{{Start: start, End: end}}
		}
	} else {
		var err error
		plan, err = s.planner.Plan(ctx, key, start, end)
		if err != nil {
			return nil, err
		}
	}

	if len(plan) > 0 {
		info, err := s.ResolveSymbol(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if err := s.fetchRanges(ctx, key, info.SymbolID, plan); err != nil {
			return nil, err
		}
	}

	resp, err := s.store.Query(ctx, storage.QueryRequest{
		Symbol:   symbol,
		Interval: interval,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return nil, err
	}
	return resp.Candles, nil
}

// fetchRanges pulls each planned range from the provider in single-request
// chunks and upserts the results.
func (s *Service) fetchRanges(ctx context.Context, key models.SeriesKey, symbolID int64, plan []gaps.Range) error {
	chunks := gaps.SplitByWindow(plan, key.Interval)
	for _, chunk := range chunks {
		candles, err := s.provider.Candles(ctx, key.Symbol, symbolID, chunk.Start, chunk.End, key.Interval)
		if err != nil {
			return fmt.Errorf("fetching %s %s: %w", key, chunk, err)
		}
		inserted, err := s.store.Upsert(ctx, candles)
		if err != nil {
			return fmt.Errorf("caching %s %s: %w", key, chunk, err)
		}
		s.logger.Debug("filled gap",
			"series", key.String(),
			"range", chunk.String(),
			"fetched", len(candles),
			"inserted", inserted)
	}
	return nil
}

// ResolveSymbol maps a ticker to its cached metadata, consulting in order the
// session memo, the symbols table, and finally the provider's symbol search.
// Remote results are written back to the cache.
func (s *Service) ResolveSymbol(ctx context.Context, ticker string) (*models.SymbolInfo, error) {
	if ticker == "" {
		return nil, &models.ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}

	s.resolvedMu.RLock()
	if info, ok := s.resolved[ticker]; ok {
		s.resolvedMu.RUnlock()
		return &info, nil
	}
	s.resolvedMu.RUnlock()

	if info, err := s.store.GetSymbol(ctx, ticker); err != nil {
		return nil, err
	} else if info != nil {
		s.memoize(*info)
		return info, nil
	}

	results, err := s.provider.SearchSymbols(ctx, ticker)
	if err != nil {
		return nil, err
	}
	var match *models.SymbolInfo
	for i := range results {
		if results[i].Symbol == ticker {
			match = &results[i]
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("symbol %q not found", ticker)
	}

	if err := s.store.UpsertSymbols(ctx, results); err != nil {
		return nil, err
	}
	s.memoize(*match)
	s.logger.Debug("resolved symbol remotely", "symbol", ticker, "symbol_id", match.SymbolID)
	return match, nil
}

func (s *Service) memoize(info models.SymbolInfo) {
	s.resolvedMu.Lock()
	s.resolved[info.Symbol] = info
	s.resolvedMu.Unlock()
}

// RefreshStaleSymbols re-fetches metadata for cached symbols last refreshed
// more than maxAge ago. Returns the number of symbols refreshed.
func (s *Service) RefreshStaleSymbols(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := s.store.StaleSymbols(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, old := range stale {
		results, err := s.provider.SearchSymbols(ctx, old.Symbol)
		if err != nil {
			return refreshed, fmt.Errorf("refreshing %s: %w", old.Symbol, err)
		}
		for i := range results {
			if results[i].SymbolID == old.SymbolID {
				if err := s.store.UpsertSymbols(ctx, results[i:i+1]); err != nil {
					return refreshed, err
				}
				s.memoize(results[i])
				refreshed++
				break
			}
		}
	}

	if refreshed > 0 {
		s.logger.Info("refreshed stale symbols", "count", refreshed)
	}
	return refreshed, nil
}

// RefreshTail extends a cached series up to the provider's current clock.
// Convenience for incremental update jobs: the front bound is the series'
// earliest cached bar, or now-lookback when the series is uncached.
func (s *Service) RefreshTail(ctx context.Context, symbol string, interval models.Interval, lookback time.Duration) ([]models.Candle, error) {
	now, err := s.provider.ServerTime(ctx)
	if err != nil {
		return nil, err
	}

	key := models.SeriesKey{Symbol: symbol, Interval: interval}
	bounds, err := s.store.Coverage(ctx, key)
	if err != nil {
		return nil, err
	}

	start := now.Add(-lookback)
	if !bounds.Empty() && bounds.First.Before(start) {
		start = bounds.First
	}
	return s.GetSeries(ctx, symbol, interval, start, now, false)
}

// Stats exposes cache statistics for diagnostics.
func (s *Service) Stats(ctx context.Context) (*storage.StoreStats, error) {
	return s.store.Stats(ctx)
}
