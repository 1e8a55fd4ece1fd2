package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/johnayoung/go-trade-collector/internal/collector"
	"github.com/johnayoung/go-trade-collector/internal/config"
	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/exchange"
	"github.com/johnayoung/go-trade-collector/internal/models"
	"github.com/johnayoung/go-trade-collector/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05.0000"

// Output formatting functions

// printSyncResults prints one line per pair and the run totals
func printSyncResults(w io.Writer, results []collector.Result, progress collector.Progress) {
	fmt.Fprintf(w, "%-10s %-10s %-6s %-26s %-8s %-12s %s\n",
		"Pair", "Trades", "Pages", "Cursor", "Resumed", "Duration", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = fmt.Sprintf("%s: %v", apperrors.KindOf(r.Err), r.Err)
		}
		fmt.Fprintf(w, "%-10s %-10d %-6d %-26s %-8t %-12s %s\n",
			r.Pair,
			r.Trades,
			r.Pages,
			time.Unix(0, r.Cursor).UTC().Format(timeLayout),
			r.Resumed,
			r.Duration.Round(time.Millisecond),
			status)
	}

	fmt.Fprintf(w, "\nStored %d trades from %d pages in %v (%.1f trades/s)\n",
		progress.TradesStored,
		progress.PagesFetched,
		progress.Elapsed.Round(time.Millisecond),
		progress.TradesPerSecond())
}

// outputJSON writes v as indented JSON
func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputAssetsTable formats exchange assets as a table
func outputAssetsTable(w io.Writer, assets map[string]exchange.Asset) error {
	fmt.Fprintf(w, "%-10s %-10s %-10s %-9s %s\n", "Asset", "Altname", "Class", "Decimals", "Display")
	fmt.Fprintln(w, strings.Repeat("-", 52))

	for _, code := range sortedAssetCodes(assets) {
		a := assets[code]
		fmt.Fprintf(w, "%-10s %-10s %-10s %-9d %d\n", code, a.Altname, a.Aclass, a.Decimals, a.DisplayDecimals)
	}

	fmt.Fprintf(w, "\n%d assets\n", len(assets))
	return nil
}

// outputTradesCSV formats trades as CSV
func outputTradesCSV(w io.Writer, trades []models.Trade) error {
	fmt.Fprintln(w, "timestamp,pair,price,volume")
	for _, t := range trades {
		fmt.Fprintf(w, "%d,%s,%s,%s\n", t.Timestamp, t.Pair(), t.Price, t.Volume)
	}
	return nil
}

// outputTradesTable formats trades as a table
func outputTradesTable(w io.Writer, trades []models.Trade, hasMore bool) error {
	if len(trades) == 0 {
		fmt.Fprintln(w, "No trades stored for the specified pair.")
		return nil
	}

	fmt.Fprintf(w, "%-26s %-10s %-16s %s\n", "Time", "Pair", "Price", "Volume")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, t := range trades {
		fmt.Fprintf(w, "%-26s %-10s %-16s %s\n",
			tickTime(t.Timestamp).Format(timeLayout),
			t.Pair(),
			t.Price,
			t.Volume)
	}

	if hasMore {
		fmt.Fprintf(w, "\n... showing first %d results (use --limit to see more)\n", len(trades))
	}
	return nil
}

// outputStatsTable formats per-pair storage statistics as a table
func outputStatsTable(w io.Writer, stats *storage.StorageStats) error {
	if len(stats.Pairs) == 0 {
		fmt.Fprintln(w, "No trades stored yet.")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-12s %-26s %s\n", "Pair", "Trades", "Earliest", "Latest")
	fmt.Fprintln(w, strings.Repeat("-", 78))

	for _, p := range stats.Pairs {
		fmt.Fprintf(w, "%-10s %-12d %-26s %s\n",
			p.Pair,
			p.Trades,
			tickTime(p.Earliest).Format(timeLayout),
			tickTime(p.Latest).Format(timeLayout))
	}

	fmt.Fprintf(w, "\nTotal: %d trades across %d pairs\n", stats.TotalTrades, stats.TotalPairs)
	return nil
}

// tickTime converts a trade timestamp to UTC wall time.
func tickTime(ticks int64) time.Time {
	t := models.Trade{Timestamp: ticks}
	return time.Unix(0, t.UnixNano()).UTC()
}

// redactedURL hides credentials in a PostgreSQL connection string.
func redactedURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.User != nil {
		return u.Redacted()
	}
	return raw
}

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - Kraken Trade History Sync v%s

USAGE:
    %s [--config <file>] <command> [options]

COMMANDS:
    sync        Page through trade history and store every trade
    assets      List the assets the exchange offers
    query       Show stored trades for a pair
    status      Summarize stored trades per pair

GLOBAL OPTIONS:
    --config, -c   Config file (default: %s, or CONFIG_PATH)
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Sync ETH/EUR trades from the default cursor until the history is exhausted
    %s sync --pair ETHEUR

    # Continue two pairs from what is already stored, stopping at the current time
    %s sync --pair ETHEUR,XBTEUR --resume --until-now

    # Show the newest 20 stored ETH/EUR trades as CSV
    %s query --pair ETHEUR --limit 20 --desc --format csv

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (JSON format)
    - A .env file in the working directory
    - Environment variables: TRADESYNC_* (e.g., TRADESYNC_STORAGE_TYPE), DATABASE_URL

    Example config file:
    {
        "sync": {"pairs": ["ETHEUR"], "since": 1575100000000000000, "batch_size": 1000},
        "storage": {"type": "duckdb", "database_url": "./data/trades.db"},
        "logging": {"level": "info", "format": "json"}
    }

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, config.DefaultConfigPath, AppName, AppName, AppName, config.DefaultConfigPath, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "sync":
		fmt.Printf(`%s sync - Store the trade history of one or more pairs

USAGE:
    %s sync [options]

OPTIONS:
    --pair, -p <pairs>        Comma-separated pairs (default: sync.pairs from config)
                              Examples: ETHEUR, XBTEUR, ETH/EUR
    --since, -s <ns>          Starting cursor in Unix nanoseconds
    --until, -u <ns>          Stop before this time in Unix nanoseconds
    --until-now               Stop at the current time
    --resume, -r              Start after the newest stored trade when it is later than --since
    --batch, -b <n>           Trades per storage write
    --help, -h                Show this help message

EXAMPLES:
    %s sync --pair ETHEUR --since 1575100000000000000
    %s sync --pair ETHEUR,XBTEUR --resume --until-now

NOTES:
    - Without an upper bound a pair syncs until the exchange returns an empty page
    - Pairs sync concurrently and fail independently
    - On interrupt the pending batch is written before exiting with code 130
`, AppName, AppName, AppName, AppName)

	case "assets":
		fmt.Printf(`%s assets - List exchange assets

USAGE:
    %s assets [options]

OPTIONS:
    --format, -f <format>     Output format: table, json (default: table)
    --help, -h                Show this help message
`, AppName, AppName)

	case "query":
		fmt.Printf(`%s query - Show stored trades

USAGE:
    %s query --pair <pair> [options]

OPTIONS:
    --pair, -p <pair>         Pair to query (required)
    --limit, -l <n>           Maximum trades to show, 0 for all (default: 100)
    --format, -f <format>     Output format: table, json, csv (default: table)
    --desc                    Newest trades first
    --help, -h                Show this help message
`, AppName, AppName)

	case "status":
		fmt.Printf(`%s status - Summarize stored trades

USAGE:
    %s status

Prints the trade count and the earliest and latest trade time of every stored pair.
`, AppName, AppName)

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
	}
}
