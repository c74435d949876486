// Command chronos is a CLI for the governed brokerage client and its local
// candle cache: fetch series, query cached bars, resolve symbols, and inspect
// cache statistics.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brokerage-tools/chronos/internal/api"
	"github.com/brokerage-tools/chronos/internal/chronos"
	"github.com/brokerage-tools/chronos/internal/config"
	"github.com/brokerage-tools/chronos/internal/logger"
	"github.com/brokerage-tools/chronos/internal/models"
	"github.com/brokerage-tools/chronos/internal/ratelimit"
	"github.com/brokerage-tools/chronos/internal/storage"
)

var (
	flagConfig   string
	flagInterval string
	flagStart    string
	flagEnd      string
	flagRefresh  bool
	flagLimit    int
)

func main() {
	root := &cobra.Command{
		Use:           "chronos",
		Short:         "Governed brokerage data client with a local candle cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to JSON config file")

	fetchCmd := &cobra.Command{
		Use:   "fetch SYMBOL",
		Short: "Fetch a candle series, filling cache gaps from the provider",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}
	fetchCmd.Flags().StringVarP(&flagInterval, "interval", "i", "OneDay", "candle interval")
	fetchCmd.Flags().StringVar(&flagStart, "start", "", "range start (RFC 3339, required)")
	fetchCmd.Flags().StringVar(&flagEnd, "end", "", "range end (RFC 3339, required)")
	fetchCmd.Flags().BoolVar(&flagRefresh, "refresh", false, "refetch the whole range even if cached")
	fetchCmd.MarkFlagRequired("start")
	fetchCmd.MarkFlagRequired("end")

	queryCmd := &cobra.Command{
		Use:   "query SYMBOL",
		Short: "Query cached candles without touching the provider",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().StringVarP(&flagInterval, "interval", "i", "OneDay", "candle interval")
	queryCmd.Flags().StringVar(&flagStart, "start", "", "range start (RFC 3339)")
	queryCmd.Flags().StringVar(&flagEnd, "end", "", "range end (RFC 3339)")
	queryCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum rows to print (0 = all)")

	symbolsCmd := &cobra.Command{
		Use:   "symbols PREFIX",
		Short: "Search the provider's symbol directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runSymbols,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	root.AddCommand(fetchCmd, queryCmd, symbolsCmd, statsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles the wired components for one command invocation.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	logOut  io.Closer
	store   storage.Store
	service *chronos.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	log, logOut, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	switch cfg.Storage.Type {
	case "memory":
		store = storage.NewMemoryStore()
	default:
		store, err = storage.NewDuckDBStore(cfg.Storage.Path, log)
		if err != nil {
			logOut.Close()
			return nil, err
		}
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		logOut.Close()
		return nil, err
	}

	timeout, err := cfg.HTTPTimeout()
	if err != nil {
		store.Close()
		logOut.Close()
		return nil, err
	}

	tokens := api.NewRefreshingTokenProvider(cfg.API.LoginURL, cfg.API.RefreshToken, log)
	issuer := api.NewHTTPIssuer(tokens, timeout)
	governor := ratelimit.NewGovernor(limitsFromConfig(cfg.Limits), cfg.Limits.Enforce, log)
	executor := api.NewExecutor(issuer, governor, cfg.API.MaxRetries, log)
	client := api.NewClient(executor)

	return &app{
		cfg:     cfg,
		log:     log,
		logOut:  logOut,
		store:   store,
		service: chronos.New(store, client, log),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store", "error", err)
	}
	a.logOut.Close()
}

func limitsFromConfig(lc config.LimitsConfig) map[ratelimit.EndpointClass]ratelimit.Limits {
	limits := ratelimit.DefaultLimits()
	market := limits[ratelimit.ClassMarket]
	account := limits[ratelimit.ClassAccount]
	if lc.MarketPerSecond > 0 {
		market.PerSecond = lc.MarketPerSecond
	}
	if lc.MarketPerHour > 0 {
		market.PerHour = lc.MarketPerHour
	}
	if lc.AccountPerSecond > 0 {
		account.PerSecond = lc.AccountPerSecond
	}
	if lc.AccountPerHour > 0 {
		account.PerHour = lc.AccountPerHour
	}
	limits[ratelimit.ClassMarket] = market
	limits[ratelimit.ClassAccount] = account
	return limits
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseBounds(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := models.ParseTimestamp(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := models.ParseTimestamp(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	interval, err := models.ParseInterval(flagInterval)
	if err != nil {
		return err
	}
	start, end, err := parseBounds(flagStart, flagEnd)
	if err != nil {
		return err
	}

	candles, err := a.service.GetSeries(ctx, args[0], interval, start, end, flagRefresh)
	if err != nil {
		return err
	}
	printCandles(cmd.OutOrStdout(), candles)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	interval, err := models.ParseInterval(flagInterval)
	if err != nil {
		return err
	}

	req := storage.QueryRequest{
		Symbol:   args[0],
		Interval: interval,
		Limit:    flagLimit,
	}
	if flagStart != "" {
		if req.Start, err = models.ParseTimestamp(flagStart); err != nil {
			return err
		}
	}
	if flagEnd != "" {
		if req.End, err = models.ParseTimestamp(flagEnd); err != nil {
			return err
		}
	}

	resp, err := a.store.Query(ctx, req)
	if err != nil {
		return err
	}
	printCandles(cmd.OutOrStdout(), resp.Candles)
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d rows\n", len(resp.Candles), resp.Total)
	return nil
}

func runSymbols(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	info, err := a.service.ResolveSymbol(ctx, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tEXCHANGE\tCURRENCY\tDESCRIPTION")
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
		info.SymbolID, info.Symbol, info.ListingExchange, info.Currency, info.Description)
	return w.Flush()
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.service.Stats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "candles\t%d\n", stats.TotalCandles)
	fmt.Fprintf(w, "series\t%d\n", stats.TotalSeries)
	fmt.Fprintf(w, "symbols\t%d\n", stats.TotalSymbols)
	if !stats.EarliestBar.IsZero() {
		fmt.Fprintf(w, "earliest\t%s\n", stats.EarliestBar.Format(time.RFC3339))
		fmt.Fprintf(w, "latest\t%s\n", stats.LatestBar.Format(time.RFC3339))
	}
	return w.Flush()
}

func printCandles(out io.Writer, candles []models.Candle) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "START\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, c := range candles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Start.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	w.Flush()
}
