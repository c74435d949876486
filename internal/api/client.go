package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/brokerage-tools/chronos/internal/models"
)

// Client exposes the endpoints the cache engine consumes as typed calls on
// top of the executor. Request timestamps are sent with explicit offsets and
// responses decoded with json.Number so price text survives untouched.
type Client struct {
	exec *Executor
}

// NewClient wraps an executor.
func NewClient(exec *Executor) *Client {
	return &Client{exec: exec}
}

// timestampFormat is the provider's expected query timestamp shape: RFC 3339
// with microseconds and a numeric offset.
const timestampFormat = "2006-01-02T15:04:05.000000-07:00"

type candlePayload struct {
	Start  string      `json:"start"`
	End    string      `json:"end"`
	Open   json.Number `json:"open"`
	High   json.Number `json:"high"`
	Low    json.Number `json:"low"`
	Close  json.Number `json:"close"`
	Volume json.Number `json:"volume"`
	VWAP   json.Number `json:"VWAP"`
}

type candlesEnvelope struct {
	Candles []candlePayload `json:"candles"`
}

// Candles fetches historical bars for one symbol id over [start, end) at the
// given interval. The range must fit a single provider call; callers chunk
// wider ranges with Interval.MaxRequestWindow.
func (c *Client) Candles(ctx context.Context, symbol string, symbolID int64, start, end time.Time, interval models.Interval) ([]models.Candle, error) {
	if err := models.ValidateRange(start, end); err != nil {
		return nil, NewGeneralError(CodeMalformedArgument, err.Error(), 0)
	}
	if !interval.Valid() {
		return nil, NewGeneralError(CodeMalformedArgument, fmt.Sprintf("unknown interval %q", interval), 0)
	}

	query := url.Values{}
	query.Set("startTime", start.Format(timestampFormat))
	query.Set("endTime", end.Format(timestampFormat))
	query.Set("interval", interval.String())

	path := fmt.Sprintf("v1/markets/candles/%d", symbolID)
	resp, err := c.exec.Execute(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}

	var env candlesEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, NewGeneralError(CodeInvalidJSON, fmt.Sprintf("decoding candles response: %v", err), resp.StatusCode)
	}

	candles := make([]models.Candle, 0, len(env.Candles))
	for _, p := range env.Candles {
		barStart, err := models.ParseTimestamp(p.Start)
		if err != nil {
			return nil, NewGeneralError(CodeInvalidJSON, fmt.Sprintf("candle start %q: %v", p.Start, err), resp.StatusCode)
		}
		candle := models.Candle{
			Symbol:   symbol,
			Start:    barStart,
			Interval: interval,
			Open:     p.Open.String(),
			High:     p.High.String(),
			Low:      p.Low.String(),
			Close:    p.Close.String(),
			Volume:   p.Volume.String(),
			VWAP:     p.VWAP.String(),
		}
		if err := candle.Validate(); err != nil {
			return nil, NewGeneralError(CodeInvalidJSON, fmt.Sprintf("candle at %s: %v", barStart.Format(time.RFC3339), err), resp.StatusCode)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

type symbolsEnvelope struct {
	Symbols []models.SymbolInfo `json:"symbols"`
}

// SearchSymbols queries the provider's symbol search for a ticker prefix.
func (c *Client) SearchSymbols(ctx context.Context, prefix string) ([]models.SymbolInfo, error) {
	if prefix == "" {
		return nil, NewGeneralError(CodeMalformedArgument, "symbol search prefix cannot be empty", 0)
	}

	query := url.Values{}
	query.Set("prefix", prefix)

	resp, err := c.exec.Execute(ctx, http.MethodGet, "v1/symbols/search", query)
	if err != nil {
		return nil, err
	}

	var env symbolsEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, NewGeneralError(CodeInvalidJSON, fmt.Sprintf("decoding symbols response: %v", err), resp.StatusCode)
	}
	return env.Symbols, nil
}

type timeEnvelope struct {
	Time string `json:"time"`
}

// ServerTime returns the provider's clock. Useful for bounding "now" in
// incremental refresh without trusting the local clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	resp, err := c.exec.Execute(ctx, http.MethodGet, "v1/time", nil)
	if err != nil {
		return time.Time{}, err
	}

	var env timeEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return time.Time{}, NewGeneralError(CodeInvalidJSON, fmt.Sprintf("decoding time response: %v", err), resp.StatusCode)
	}
	t, err := models.ParseTimestamp(env.Time)
	if err != nil {
		return time.Time{}, NewGeneralError(CodeInvalidJSON, fmt.Sprintf("server time %q: %v", env.Time, err), resp.StatusCode)
	}
	return t, nil
}
