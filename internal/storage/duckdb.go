// DuckDB-backed implementation of the candle cache. DuckDB gives fast
// analytical scans over the time-series data while keeping the cache a single
// local file.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/brokerage-tools/chronos/internal/models"
)

// DuckDBStore implements Store using DuckDB as the backend.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

var _ Store = (*DuckDBStore)(nil)

// NewDuckDBStore creates a DuckDB store. dbPath may be ":memory:" for an
// ephemeral cache or a file path for a persistent one.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("opening DuckDB database: %w", err))
	}

	// Single writer pattern as recommended for DuckDB.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("component", "duckdb_store"),
	}, nil
}

// Initialize implements Manager.Initialize.
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("initializing candle cache", "db_path", d.dbPath)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol VARCHAR NOT NULL,
			start TIMESTAMPTZ NOT NULL,
			interval VARCHAR NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume DOUBLE NOT NULL,
			vwap DOUBLE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT candles_pk PRIMARY KEY (symbol, start, interval),
			CONSTRAINT candles_ohlc_valid CHECK (high >= open AND high >= close AND low <= open AND low <= close),
			CONSTRAINT candles_prices_positive CHECK (open > 0 AND high > 0 AND low > 0 AND close > 0),
			CONSTRAINT candles_volume_non_negative CHECK (volume >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol_id BIGINT PRIMARY KEY,
			symbol VARCHAR NOT NULL,
			description VARCHAR,
			security_type VARCHAR,
			listing_exchange VARCHAR,
			is_tradable BOOLEAN NOT NULL DEFAULT false,
			is_quotable BOOLEAN NOT NULL DEFAULT false,
			currency VARCHAR,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_series ON candles (symbol, interval)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_start ON candles (start)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_symbol ON symbols (symbol)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return NewStorageError("initialize", "", fmt.Errorf("creating schema: %w", err))
		}
	}

	d.logger.Info("candle cache initialized")
	return nil
}

// Upsert implements CandleStore.Upsert. Conflicting bars are replaced in
// place; the returned count reflects only newly inserted rows.
func (d *DuckDBStore) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	start := time.Now()

	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return 0, NewInsertError("candles", fmt.Errorf("invalid candle at index %d: %w", i, err))
		}
	}

	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return 0, NewInsertError("candles", fmt.Errorf("store is closed"))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	var before int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM candles").Scan(&before); err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("counting existing rows: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, start, interval, open, high, low, close, volume, vwap, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, start, interval) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			vwap = excluded.vwap`)
	if err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("preparing upsert: %w", err))
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range candles {
		open, high, low, closePrice, volume, vwap, err := candleFloats(c)
		if err != nil {
			return 0, NewInsertError("candles", err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.Symbol, c.Start, string(c.Interval),
			open, high, low, closePrice, volume, vwap, now,
		); err != nil {
			return 0, NewInsertError("candles", fmt.Errorf("upserting candle %s: %w", c.Key(), err))
		}
	}

	var after int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM candles").Scan(&after); err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("counting rows after upsert: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, NewInsertError("candles", fmt.Errorf("committing upsert: %w", err))
	}

	inserted := int(after - before)
	d.logger.Debug("upserted candles",
		"count", len(candles),
		"inserted", inserted,
		"duration", time.Since(start))
	return inserted, nil
}

// conn returns the live database handle, or a StorageError when the store
// has been closed.
func (d *DuckDBStore) conn(table string) (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, NewStorageError("query", table, fmt.Errorf("store is closed"))
	}
	return d.db, nil
}

// Query implements CandleStore.Query.
func (d *DuckDBStore) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	db, err := d.conn("candles")
	if err != nil {
		return nil, err
	}

	query, args := buildCandleQuery(req)

	var total int
	countQuery, countArgs := buildCandleCount(req)
	if err := db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("counting matches: %w", err))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("executing query: %w", err))
	}
	defer rows.Close()

	capacity := req.Limit
	if capacity == 0 {
		capacity = total
	}
	candles := make([]models.Candle, 0, capacity)
	for rows.Next() {
		var c models.Candle
		var interval string
		var open, high, low, closePrice, volume, vwap any

		if err := rows.Scan(&c.Symbol, &c.Start, &interval, &open, &high, &low, &closePrice, &volume, &vwap); err != nil {
			return nil, NewQueryError("candles", fmt.Errorf("scanning row: %w", err))
		}

		c.Interval = models.Interval(interval)
		c.Start = c.Start.UTC()
		c.Open = decimalToString(open)
		c.High = decimalToString(high)
		c.Low = decimalToString(low)
		c.Close = decimalToString(closePrice)
		c.Volume = decimalToString(volume)
		if vwap != nil {
			c.VWAP = decimalToString(vwap)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("iterating rows: %w", err))
	}

	resp := &QueryResponse{
		Candles:    candles,
		Total:      total,
		HasMore:    req.Limit > 0 && req.Offset+len(candles) < total,
		NextOffset: req.Offset + len(candles),
		QueryTime:  time.Since(start),
	}
	return resp, nil
}

func buildCandleQuery(req QueryRequest) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT symbol, start, interval, open, high, low, close, volume, vwap FROM candles")

	where, args := candleFilters(req)
	sb.WriteString(where)

	if req.Descending {
		sb.WriteString(" ORDER BY start DESC")
	} else {
		sb.WriteString(" ORDER BY start ASC")
	}
	if req.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", req.Limit))
	}
	if req.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", req.Offset))
	}
	return sb.String(), args
}

func buildCandleCount(req QueryRequest) (string, []any) {
	where, args := candleFilters(req)
	return "SELECT COUNT(*) FROM candles" + where, args
}

func candleFilters(req QueryRequest) (string, []any) {
	clauses := []string{"symbol = ?", "interval = ?"}
	args := []any{req.Symbol, string(req.Interval)}
	if !req.Start.IsZero() {
		clauses = append(clauses, "start >= ?")
		args = append(args, req.Start)
	}
	if !req.End.IsZero() {
		clauses = append(clauses, "start < ?")
		args = append(args, req.End)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// candleFloats parses the candle's decimal strings for the DOUBLE columns.
// The string fields remain the source of truth for display; floats are only
// the storage representation.
func candleFloats(c models.Candle) (open, high, low, closePrice, volume float64, vwap any, err error) {
	parse := func(field, s string) (float64, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
		}
		f, _ := d.Float64()
		return f, nil
	}

	if open, err = parse("open", c.Open); err != nil {
		return
	}
	if high, err = parse("high", c.High); err != nil {
		return
	}
	if low, err = parse("low", c.Low); err != nil {
		return
	}
	if closePrice, err = parse("close", c.Close); err != nil {
		return
	}
	if volume, err = parse("volume", c.Volume); err != nil {
		return
	}
	if c.VWAP != "" {
		var v float64
		if v, err = parse("vwap", c.VWAP); err != nil {
			return
		}
		vwap = v
	}
	return
}

// decimalToString renders a scanned price column as price text.
func decimalToString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.8f", v)
	case float32:
		return fmt.Sprintf("%.8f", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Coverage implements CandleStore.Coverage.
func (d *DuckDBStore) Coverage(ctx context.Context, key models.SeriesKey) (*CoverageBounds, error) {
	db, err := d.conn("candles")
	if err != nil {
		return nil, err
	}

	var first, last sql.NullTime
	var count int64

	err = db.QueryRowContext(ctx,
		"SELECT MIN(start), MAX(start), COUNT(*) FROM candles WHERE symbol = ? AND interval = ?",
		key.Symbol, string(key.Interval),
	).Scan(&first, &last, &count)
	if err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("reading coverage for %s: %w", key, err))
	}

	bounds := &CoverageBounds{Count: count}
	if first.Valid {
		bounds.First = first.Time.UTC()
	}
	if last.Valid {
		bounds.Last = last.Time.UTC()
	}
	return bounds, nil
}

// UpsertSymbols implements SymbolStore.UpsertSymbols.
func (d *DuckDBStore) UpsertSymbols(ctx context.Context, symbols []models.SymbolInfo) error {
	if len(symbols) == 0 {
		return nil
	}

	for i := range symbols {
		if err := symbols[i].Validate(); err != nil {
			return NewInsertError("symbols", fmt.Errorf("invalid symbol at index %d: %w", i, err))
		}
	}

	db, err := d.conn("symbols")
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewInsertError("symbols", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (symbol_id, symbol, description, security_type, listing_exchange, is_tradable, is_quotable, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol_id) DO UPDATE SET
			symbol = excluded.symbol,
			description = excluded.description,
			security_type = excluded.security_type,
			listing_exchange = excluded.listing_exchange,
			is_tradable = excluded.is_tradable,
			is_quotable = excluded.is_quotable,
			currency = excluded.currency,
			updated_at = excluded.updated_at`)
	if err != nil {
		return NewInsertError("symbols", fmt.Errorf("preparing upsert: %w", err))
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, s := range symbols {
		updatedAt := s.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			s.SymbolID, s.Symbol, s.Description, s.SecurityType, s.ListingExchange,
			s.IsTradable, s.IsQuotable, s.Currency, updatedAt,
		); err != nil {
			return NewInsertError("symbols", fmt.Errorf("upserting symbol %s: %w", s.Symbol, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewInsertError("symbols", fmt.Errorf("committing upsert: %w", err))
	}
	return nil
}

const symbolColumns = "symbol_id, symbol, description, security_type, listing_exchange, is_tradable, is_quotable, currency, updated_at"

// GetSymbol implements SymbolStore.GetSymbol.
func (d *DuckDBStore) GetSymbol(ctx context.Context, ticker string) (*models.SymbolInfo, error) {
	db, err := d.conn("symbols")
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		"SELECT "+symbolColumns+" FROM symbols WHERE symbol = ? LIMIT 1", ticker)

	s, err := scanSymbol(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("symbols", fmt.Errorf("looking up %s: %w", ticker, err))
	}
	return s, nil
}

// SearchSymbols implements SymbolStore.SearchSymbols.
func (d *DuckDBStore) SearchSymbols(ctx context.Context, prefix string) ([]models.SymbolInfo, error) {
	db, err := d.conn("symbols")
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT "+symbolColumns+" FROM symbols WHERE symbol LIKE ? ORDER BY symbol", prefix+"%")
	if err != nil {
		return nil, NewQueryError("symbols", fmt.Errorf("searching prefix %s: %w", prefix, err))
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// StaleSymbols implements SymbolStore.StaleSymbols.
func (d *DuckDBStore) StaleSymbols(ctx context.Context, cutoff time.Time) ([]models.SymbolInfo, error) {
	db, err := d.conn("symbols")
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT "+symbolColumns+" FROM symbols WHERE updated_at < ? ORDER BY updated_at", cutoff)
	if err != nil {
		return nil, NewQueryError("symbols", fmt.Errorf("listing stale symbols: %w", err))
	}
	defer rows.Close()
	return scanSymbols(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbol(row rowScanner) (*models.SymbolInfo, error) {
	var s models.SymbolInfo
	var description, securityType, listingExchange, currency sql.NullString
	if err := row.Scan(&s.SymbolID, &s.Symbol, &description, &securityType,
		&listingExchange, &s.IsTradable, &s.IsQuotable, &currency, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Description = description.String
	s.SecurityType = securityType.String
	s.ListingExchange = listingExchange.String
	s.Currency = currency.String
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func scanSymbols(rows *sql.Rows) ([]models.SymbolInfo, error) {
	var out []models.SymbolInfo
	for rows.Next() {
		s, err := scanSymbol(rows)
		if err != nil {
			return nil, NewQueryError("symbols", fmt.Errorf("scanning row: %w", err))
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("symbols", fmt.Errorf("iterating rows: %w", err))
	}
	return out, nil
}

// Stats implements Manager.Stats.
func (d *DuckDBStore) Stats(ctx context.Context) (*StoreStats, error) {
	db, err := d.conn("candles")
	if err != nil {
		return nil, err
	}

	stats := &StoreStats{}

	var earliest, latest sql.NullTime
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT symbol || '|' || interval), MIN(start), MAX(start) FROM candles",
	).Scan(&stats.TotalCandles, &stats.TotalSeries, &earliest, &latest)
	if err != nil {
		return nil, NewQueryError("candles", fmt.Errorf("reading candle stats: %w", err))
	}
	if earliest.Valid {
		stats.EarliestBar = earliest.Time.UTC()
	}
	if latest.Valid {
		stats.LatestBar = latest.Time.UTC()
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols").Scan(&stats.TotalSymbols); err != nil {
		return nil, NewQueryError("symbols", fmt.Errorf("reading symbol stats: %w", err))
	}
	return stats, nil
}

// HealthCheck implements Manager.HealthCheck.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return NewStorageError("health_check", "", fmt.Errorf("store is closed"))
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return NewStorageError("health_check", "", fmt.Errorf("probe failed: %w", err))
	}
	return nil
}

// Close implements Manager.Close.
func (d *DuckDBStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return NewStorageError("close", "", err)
	}
	return nil
}
