package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/johnayoung/go-trade-collector/internal/collector"
	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/metrics"
	"github.com/johnayoung/go-trade-collector/internal/models"
	"github.com/johnayoung/go-trade-collector/internal/storage"
)

// handleSync handles the 'sync' command that pages trade history into storage
func (cli *CLI) handleSync(ctx context.Context, args []string) error {
	flags, err := parseSyncFlags(args)
	if err != nil {
		return &usageError{err: err}
	}
	if flags.Help {
		printCommandHelp("sync")
		return nil
	}

	syncConfig, err := cli.syncConfig(flags)
	if err != nil {
		return err
	}

	store, err := cli.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	client := cli.newClient()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	syncMetrics := metrics.NewSyncMetrics(reg)

	server := metrics.NewServer(cli.config.Metrics, reg, cli.loggerMgr)
	server.RegisterHealthChecker("storage", store)
	server.RegisterHealthChecker("exchange", client)
	if err := server.Start(ctx); err != nil {
		return apperrors.Config("metrics", err)
	}
	defer server.Stop(context.WithoutCancel(ctx))

	syncer := collector.New(client, store, syncConfig, collector.WithMetrics(syncMetrics))
	results, err := syncer.Run(ctx)

	printSyncResults(cli.out, results, syncer.Progress())
	if err != nil && ctx.Err() != nil {
		fmt.Fprintf(os.Stderr, "Interrupted: %d trades stored before shutdown\n", syncer.Progress().TradesStored)
	}
	return err
}

// syncConfig merges command line flags over the configured sync section.
func (cli *CLI) syncConfig(flags *SyncFlags) (*collector.Config, error) {
	sc := cli.config.Sync

	pairs := sc.Pairs
	if len(flags.Pairs) > 0 {
		pairs = flags.Pairs
	}
	symbols := make([]models.TradeSymbol, 0, len(pairs))
	for _, p := range pairs {
		symbol, err := models.ParseSymbol(p)
		if err != nil {
			return nil, newUsageError("invalid pair %q: %w", p, err)
		}
		symbols = append(symbols, symbol)
	}

	cfg := collector.DefaultConfig()
	cfg.Pairs = symbols
	cfg.Since = sc.Since
	cfg.Until = sc.Until
	cfg.BatchSize = sc.BatchSize
	cfg.Resume = sc.Resume || flags.Resume
	cfg.Logger = cli.loggerMgr.GetComponentLogger("collector").Logger

	if flags.Since != nil {
		cfg.Since = *flags.Since
	}
	switch {
	case flags.UntilNow:
		cfg.Until = time.Now().UnixNano()
	case flags.Until != nil:
		cfg.Until = *flags.Until
	}
	if flags.Batch > 0 {
		cfg.BatchSize = flags.Batch
	}
	return cfg, nil
}

// handleAssets handles the 'assets' command listing exchange assets
func (cli *CLI) handleAssets(ctx context.Context, args []string) error {
	flags, err := parseAssetsFlags(args)
	if err != nil {
		return &usageError{err: err}
	}
	if flags.Help {
		printCommandHelp("assets")
		return nil
	}

	assets, err := cli.newClient().Assets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}

	if flags.Format == "json" {
		return outputJSON(cli.out, assets)
	}
	return outputAssetsTable(cli.out, assets)
}

// handleQuery handles the 'query' command for stored trades
func (cli *CLI) handleQuery(ctx context.Context, args []string) error {
	flags, err := parseQueryFlags(args)
	if err != nil {
		return &usageError{err: err}
	}
	if flags.Help {
		printCommandHelp("query")
		return nil
	}
	if flags.Pair == "" {
		return newUsageError("--pair is required")
	}
	symbol, err := models.ParseSymbol(flags.Pair)
	if err != nil {
		return newUsageError("invalid pair %q: %w", flags.Pair, err)
	}

	store, err := cli.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if d := cli.config.Storage.QueryTimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	order := storage.OrderTimestampAsc
	if flags.Desc {
		order = storage.OrderTimestampDesc
	}
	result, err := store.QueryTrades(ctx, storage.TradeQuery{
		Pair:    symbol.String(),
		Limit:   flags.Limit,
		OrderBy: order,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	switch flags.Format {
	case "json":
		return outputJSON(cli.out, result.Trades)
	case "csv":
		return outputTradesCSV(cli.out, result.Trades)
	default:
		fmt.Fprintf(cli.out, "Trades for %s: showing %d of %d (query time %v)\n\n",
			symbol, len(result.Trades), result.Total, result.QueryTime)
		return outputTradesTable(cli.out, result.Trades, result.HasMore)
	}
}

// handleStatus handles the 'status' command summarizing stored trades
func (cli *CLI) handleStatus(ctx context.Context, args []string) error {
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			printCommandHelp("status")
			return nil
		default:
			return newUsageError("unknown flag: %s", arg)
		}
	}

	store, err := cli.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.HealthCheck(ctx); err != nil {
		return apperrors.Storage("health check", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read storage stats: %w", err)
	}

	fmt.Fprintf(cli.out, "Storage: %s (%s)\n", cli.config.Storage.Type, redactedURL(cli.config.Storage.DatabaseURL))
	return outputStatsTable(cli.out, stats)
}

func sortedAssetCodes[V any](assets map[string]V) []string {
	codes := make([]string, 0, len(assets))
	for code := range assets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
