package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerage-tools/chronos/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	exec, _, _ := newTestExecutor(t, handler, 0)
	return NewClient(exec)
}

func TestCandlesDecodesProviderResponse(t *testing.T) {
	var gotPath, gotInterval string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		w.Write([]byte(`{"candles":[
			{"start":"2026-03-09T00:00:00.000000-05:00","end":"2026-03-10T00:00:00.000000-05:00",
			 "open":"182.50","high":"184.25","low":"181.10","close":"183.75","volume":"48210000","VWAP":"183.02"},
			{"start":"2026-03-10T00:00:00.000000-04:00","end":"2026-03-11T00:00:00.000000-04:00",
			 "open":183.75,"high":185.00,"low":183.00,"close":184.90,"volume":39800000,"VWAP":184.11}
		]}`))
	})

	start := time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)
	candles, err := client.Candles(context.Background(), "AAPL", 8049, start, end, models.OneDay)
	require.NoError(t, err)

	assert.Equal(t, "/v1/markets/candles/8049", gotPath)
	assert.Equal(t, "OneDay", gotInterval)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, models.OneDay, first.Interval)
	assert.Equal(t, "182.50", first.Open)
	assert.Equal(t, "183.02", first.VWAP)
	assert.True(t, first.Start.Equal(time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC)))

	// Numeric JSON survives as exact text, no float round trip.
	assert.Equal(t, "184.90", candles[1].Close)
}

func TestCandlesRejectsInvalidRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be issued for an invalid range")
	})

	end := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	start := end.Add(time.Hour)
	_, err := client.Candles(context.Background(), "AAPL", 8049, start, end, models.OneDay)

	var ge *GeneralError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeMalformedArgument, ge.Code)
}

func TestCandlesRejectsUnknownInterval(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be issued for an unknown interval")
	})

	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	_, err := client.Candles(context.Background(), "AAPL", 8049, start, start.Add(time.Hour), models.Interval("Fortnightly"))

	var ge *GeneralError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeMalformedArgument, ge.Code)
}

func TestCandlesRejectsMalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candles": not json`))
	})

	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	_, err := client.Candles(context.Background(), "AAPL", 8049, start, start.Add(time.Hour), models.OneDay)

	var ge *GeneralError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeInvalidJSON, ge.Code)
}

func TestSearchSymbols(t *testing.T) {
	var gotPrefix string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPrefix = r.URL.Query().Get("prefix")
		w.Write([]byte(`{"symbols":[
			{"symbolId":8049,"symbol":"AAPL","description":"APPLE INC","securityType":"Stock",
			 "listingExchange":"NASDAQ","isTradable":true,"isQuotable":true,"currency":"USD"}
		]}`))
	})

	symbols, err := client.SearchSymbols(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", gotPrefix)
	require.Len(t, symbols, 1)
	assert.Equal(t, int64(8049), symbols[0].SymbolID)
	assert.Equal(t, "NASDAQ", symbols[0].ListingExchange)
	assert.True(t, symbols[0].IsTradable)
}

func TestSearchSymbolsEmptyPrefix(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be issued for an empty prefix")
	})

	_, err := client.SearchSymbols(context.Background(), "")
	var ge *GeneralError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeMalformedArgument, ge.Code)
}

func TestServerTime(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/time", r.URL.Path)
		w.Write([]byte(`{"time":"2026-03-10T09:33:22.000000-04:00"}`))
	})

	got, err := client.ServerTime(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 3, 10, 13, 33, 22, 0, time.UTC)))
}

func TestServerTimeRejectsZonelessTimestamp(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time":"2026-03-10T09:33:22"}`))
	})

	_, err := client.ServerTime(context.Background())
	var ge *GeneralError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeInvalidJSON, ge.Code)
}
