// Package storage defines the persistence layer for the local candle cache.
// It abstracts the backing store behind small interfaces so the cache engine
// can run against DuckDB in production and an in-memory store in tests.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/brokerage-tools/chronos/internal/models"
)

// CandleStore handles candle persistence. Writes are idempotent on the
// series identity (symbol, start, interval); re-upserting a bar the store
// already holds is a no-op for the count.
type CandleStore interface {
	// Upsert writes candles, replacing any existing bar with the same
	// identity. Returns the number of bars that were newly inserted.
	Upsert(ctx context.Context, candles []models.Candle) (int, error)

	// Query retrieves candles for one series ordered by start time.
	// The time range is inclusive of Start and exclusive of End.
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)

	// Coverage reports the cached bounds for one series: the first and last
	// bar start times and the bar count. A zero-count result means the
	// series is entirely uncached.
	Coverage(ctx context.Context, key models.SeriesKey) (*CoverageBounds, error)
}

// SymbolStore handles the cached symbol metadata used to resolve tickers to
// provider symbol ids without a network round trip.
type SymbolStore interface {
	// UpsertSymbols writes symbol records, replacing existing rows by id.
	UpsertSymbols(ctx context.Context, symbols []models.SymbolInfo) error

	// GetSymbol looks up one ticker exactly. Returns nil when uncached.
	GetSymbol(ctx context.Context, ticker string) (*models.SymbolInfo, error)

	// SearchSymbols returns cached symbols whose ticker begins with prefix.
	SearchSymbols(ctx context.Context, prefix string) ([]models.SymbolInfo, error)

	// StaleSymbols returns cached symbols last refreshed before cutoff.
	StaleSymbols(ctx context.Context, cutoff time.Time) ([]models.SymbolInfo, error)
}

// Manager handles store lifecycle and monitoring.
type Manager interface {
	// Initialize prepares the schema. Idempotent.
	Initialize(ctx context.Context) error

	// Close releases the backing resources. The store is unusable after.
	Close() error

	// Stats returns operational statistics about the cached data.
	Stats(ctx context.Context) (*StoreStats, error)

	// HealthCheck verifies the backend is reachable with a lightweight probe.
	HealthCheck(ctx context.Context) error
}

// Store is the full persistence surface the cache engine depends on.
type Store interface {
	CandleStore
	SymbolStore
	Manager
}

// QueryRequest selects candles from one series.
type QueryRequest struct {
	Symbol   string
	Interval models.Interval

	// Start is inclusive, End exclusive. Zero values leave the bound open.
	Start time.Time
	End   time.Time

	// Limit caps the result size (0 = no limit); Offset skips rows for
	// pagination.
	Limit  int
	Offset int

	// Descending reverses the default ascending start-time order.
	Descending bool
}

// QueryResponse carries query results plus pagination metadata.
type QueryResponse struct {
	Candles    []models.Candle
	Total      int
	HasMore    bool
	NextOffset int
	QueryTime  time.Duration
}

// CoverageBounds summarizes what the cache holds for one series. First and
// Last are bar start times; bars between them are assumed present because
// series are only ever extended contiguously at the edges.
type CoverageBounds struct {
	First time.Time
	Last  time.Time
	Count int64
}

// Empty reports whether the series has no cached bars.
func (c *CoverageBounds) Empty() bool {
	return c == nil || c.Count == 0
}

// StoreStats provides operational metrics about the cache contents.
type StoreStats struct {
	TotalCandles int64
	TotalSeries  int
	TotalSymbols int
	EarliestBar  time.Time
	LatestBar    time.Time
}

// StorageError wraps a backend failure with the operation and table involved.
type StorageError struct {
	Operation string
	Table     string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError with the provided details.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewQueryError creates a StorageError for read operations.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}

// NewInsertError creates a StorageError for write operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}
