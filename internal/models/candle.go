// Package models provides data structures and validation for brokerage market data.
// This package contains the core data models for cached time-series data including
// candles, series identities, intervals, and symbol metadata.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents OHLCV price and volume data for a symbol over one interval period.
// Price and volume fields are decimal strings to avoid float precision loss; VWAP is
// optional and empty when the provider omits it.
type Candle struct {
	Symbol   string    `json:"symbol" db:"symbol"`
	Start    time.Time `json:"start" db:"start"`
	Interval Interval  `json:"interval" db:"interval"`
	Open     string    `json:"open" db:"open"`
	High     string    `json:"high" db:"high"`
	Low      string    `json:"low" db:"low"`
	Close    string    `json:"close" db:"close"`
	Volume   string    `json:"volume" db:"volume"`
	VWAP     string    `json:"vwap,omitempty" db:"vwap"`
}

// SeriesKey identifies one logical time series. The interval is part of the
// identity because bars of multiple granularities coexist for the same symbol.
type SeriesKey struct {
	Symbol   string
	Interval Interval
}

// String implements fmt.Stringer for log output.
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s/%s", k.Symbol, k.Interval)
}

// Key returns the series identity of the candle.
func (c *Candle) Key() SeriesKey {
	return SeriesKey{Symbol: c.Symbol, Interval: c.Interval}
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the failure
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate performs comprehensive validation on the candle data.
// It checks that the identity fields are populated, that the start timestamp is
// non-zero, that price fields are positive decimals, that volume is non-negative,
// and that OHLC relationships hold (high >= max(open, close), low <= min(open, close)).
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !c.Interval.Valid() {
		return &ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", string(c.Interval))}
	}
	if c.Start.IsZero() {
		return &ValidationError{Field: "start", Message: "start timestamp cannot be zero"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	closePrice, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}
	if c.VWAP != "" {
		if _, err := decimal.NewFromString(c.VWAP); err != nil {
			return &ValidationError{Field: "vwap", Message: fmt.Sprintf("invalid vwap format: %v", err)}
		}
	}

	zero := decimal.Zero
	if open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if closePrice.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(open, closePrice)
	if high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(open, closePrice)
	if low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	return nil
}

// End returns the exclusive end of the candle period.
func (c *Candle) End() time.Time {
	return c.Start.Add(c.Interval.Duration())
}

// GetOpenDecimal returns the open price as a decimal.Decimal for precise calculations.
func (c *Candle) GetOpenDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Open)
}

// GetCloseDecimal returns the close price as a decimal.Decimal for precise calculations.
func (c *Candle) GetCloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Close)
}

// GetVolumeDecimal returns the volume as a decimal.Decimal for precise calculations.
func (c *Candle) GetVolumeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Volume)
}

// GetTypicalPrice calculates the typical price (High + Low + Close) / 3.
func (c *Candle) GetTypicalPrice() (decimal.Decimal, error) {
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse high price: %w", err)
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse low price: %w", err)
	}
	closePrice, err := decimal.NewFromString(c.Close)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse close price: %w", err)
	}
	return high.Add(low).Add(closePrice).Div(decimal.NewFromInt(3)), nil
}

// String returns a human-readable representation of the candle.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Symbol: %s, Interval: %s, Start: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Symbol, c.Interval, c.Start.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// NewCandle creates a new Candle and validates it. Price and volume values are
// decimal strings; start is the beginning of the candle period.
func NewCandle(symbol string, start time.Time, interval Interval, open, high, low, closePrice, volume string) (*Candle, error) {
	candle := &Candle{
		Symbol:   symbol,
		Start:    start,
		Interval: interval,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
	}

	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create candle: %w", err)
	}

	return candle, nil
}
