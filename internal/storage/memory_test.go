package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerage-tools/chronos/internal/models"
)

func dayCandle(symbol string, day int) models.Candle {
	return models.Candle{
		Symbol:   symbol,
		Start:    time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		Interval: models.OneDay,
		Open:     "100.00",
		High:     "105.00",
		Low:      "99.00",
		Close:    "104.00",
		Volume:   fmt.Sprintf("%d", 1000*day),
	}
}

// exerciseCandleStore verifies the storage semantics shared by all backends.
func exerciseCandleStore(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	candles := []models.Candle{dayCandle("AAPL", 2), dayCandle("AAPL", 3), dayCandle("AAPL", 4)}

	inserted, err := store.Upsert(ctx, candles)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	// Re-upserting the same bars is idempotent.
	inserted, err = store.Upsert(ctx, candles)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	// An overlapping batch only counts the new bar.
	inserted, err = store.Upsert(ctx, []models.Candle{dayCandle("AAPL", 4), dayCandle("AAPL", 5)})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	// Same symbol at a different interval is a separate series.
	hourly := dayCandle("AAPL", 2)
	hourly.Interval = models.OneHour
	inserted, err = store.Upsert(ctx, []models.Candle{hourly})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	// Query is inclusive of start, exclusive of end, ordered ascending.
	resp, err := store.Query(ctx, QueryRequest{
		Symbol:   "AAPL",
		Interval: models.OneDay,
		Start:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, resp.Candles, 3)
	assert.Equal(t, 3, resp.Total)
	for i := 1; i < len(resp.Candles); i++ {
		assert.True(t, resp.Candles[i-1].Start.Before(resp.Candles[i].Start))
	}
	assert.True(t, resp.Candles[0].Start.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))

	// The hourly bar never leaks into the daily series.
	for _, c := range resp.Candles {
		assert.Equal(t, models.OneDay, c.Interval)
	}

	// Coverage reports the series bounds.
	bounds, err := store.Coverage(ctx, models.SeriesKey{Symbol: "AAPL", Interval: models.OneDay})
	require.NoError(t, err)
	assert.Equal(t, int64(4), bounds.Count)
	assert.True(t, bounds.First.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, bounds.Last.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)))

	// Unknown series is empty, not an error.
	bounds, err = store.Coverage(ctx, models.SeriesKey{Symbol: "MSFT", Interval: models.OneDay})
	require.NoError(t, err)
	assert.True(t, bounds.Empty())
}

func exerciseSymbolStore(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	symbols := []models.SymbolInfo{
		{SymbolID: 8049, Symbol: "AAPL", Description: "APPLE INC", ListingExchange: "NASDAQ", Currency: "USD", IsTradable: true, UpdatedAt: old},
		{SymbolID: 9292, Symbol: "AC.TO", Description: "AIR CANADA", ListingExchange: "TSX", Currency: "CAD"},
	}
	require.NoError(t, store.UpsertSymbols(ctx, symbols))

	got, err := store.GetSymbol(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(8049), got.SymbolID)

	missing, err := store.GetSymbol(ctx, "MSFT")
	require.NoError(t, err)
	assert.Nil(t, missing)

	matches, err := store.SearchSymbols(ctx, "A")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "AAPL", matches[0].Symbol)

	stale, err := store.StaleSymbols(ctx, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "AAPL", stale[0].Symbol)

	// Upserting an existing id replaces the row.
	symbols[0].Description = "APPLE INC NEW"
	symbols[0].UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpsertSymbols(ctx, symbols[:1]))

	got, err = store.GetSymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "APPLE INC NEW", got.Description)
}

func TestMemoryStoreCandles(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseCandleStore(t, store)
}

func TestMemoryStoreSymbols(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseSymbolStore(t, store)
}

func TestMemoryStoreRejectsInvalidCandle(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	bad := dayCandle("AAPL", 2)
	bad.Open = "0"
	_, err := store.Upsert(context.Background(), []models.Candle{bad})

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "insert", se.Operation)
}

func TestMemoryStoreQueryPagination(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	var candles []models.Candle
	for day := 1; day <= 10; day++ {
		candles = append(candles, dayCandle("AAPL", day))
	}
	_, err := store.Upsert(ctx, candles)
	require.NoError(t, err)

	resp, err := store.Query(ctx, QueryRequest{
		Symbol:   "AAPL",
		Interval: models.OneDay,
		Limit:    4,
		Offset:   8,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Candles, 2)
	assert.Equal(t, 10, resp.Total)
	assert.False(t, resp.HasMore)
	assert.Equal(t, 10, resp.NextOffset)

	resp, err = store.Query(ctx, QueryRequest{
		Symbol:     "AAPL",
		Interval:   models.OneDay,
		Limit:      3,
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Candles, 3)
	assert.True(t, resp.HasMore)
	assert.True(t, resp.Candles[0].Start.After(resp.Candles[1].Start))
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Upsert(ctx, []models.Candle{dayCandle("AAPL", 2), dayCandle("MSFT", 3)})
	require.NoError(t, err)
	require.NoError(t, store.UpsertSymbols(ctx, []models.SymbolInfo{{SymbolID: 8049, Symbol: "AAPL"}}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalCandles)
	assert.Equal(t, 2, stats.TotalSeries)
	assert.Equal(t, 1, stats.TotalSymbols)
	assert.True(t, stats.EarliestBar.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, stats.LatestBar.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Upsert(context.Background(), []models.Candle{dayCandle("AAPL", 2)})
	assert.Error(t, err)
	assert.Error(t, store.HealthCheck(context.Background()))
}
