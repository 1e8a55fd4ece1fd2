// Trade Sync CLI
// This application pages through the public trade history of Kraken markets and
// stores every trade in a local DuckDB file, a PostgreSQL database or memory.
//
// Usage:
//
//	tradesync sync --pair ETHEUR,XBTEUR --since 1575100000000000000 --resume
//	tradesync assets --format json
//	tradesync query --pair ETHEUR --limit 20
//	tradesync status
//
// For detailed help on any command, use: tradesync <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnayoung/go-trade-collector/internal/config"
	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/exchange"
	"github.com/johnayoung/go-trade-collector/internal/logger"
	"github.com/johnayoung/go-trade-collector/internal/storage"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "tradesync"
)

// Exit codes, one per error kind
const (
	ExitSuccess      = 0
	ExitUsageError   = 1
	ExitConfigError  = 2
	ExitTransportErr = 3
	ExitDecodeError  = 4
	ExitExchangeErr  = 5
	ExitParseError   = 6
	ExitStorageError = 7
	ExitInterrupt    = 130
)

// CLI represents the main CLI application
type CLI struct {
	config    *config.AppConfig
	loggerMgr *logger.LoggerManager
	logger    *slog.Logger
	out       io.Writer
}

// main is the entry point for the CLI application
func main() {
	configPath, args, err := splitGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage()
		os.Exit(ExitUsageError)
	}
	if len(args) < 1 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := args[0]
	args = args[1:]

	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	case "sync", "assets", "query", "status":
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{out: os.Stdout}
	if err := cli.initialize(ctx, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		os.Exit(ExitConfigError)
	}

	handlers := map[string]func(context.Context, []string) error{
		"sync":   cli.handleSync,
		"assets": cli.handleAssets,
		"query":  cli.handleQuery,
		"status": cli.handleStatus,
	}
	err = cli.loggerMgr.GetComponentLogger("cli").LogOperation(ctx, command, func() error {
		return handlers[command](ctx, args)
	})

	code := exitCode(ctx, err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	cli.loggerMgr.Close()
	cancel()
	os.Exit(code)
}

// initialize loads configuration and sets up logging.
func (cli *CLI) initialize(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}

	cfg, err := config.NewConfigManager(configPath, nil).LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	loggerMgr, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.loggerMgr = loggerMgr
	cli.logger = loggerMgr.GetLogger()
	slog.SetDefault(cli.logger)

	return nil
}

// openStorage opens and initializes the configured backend.
func (cli *CLI) openStorage(ctx context.Context) (storage.TradeStorage, error) {
	store, err := storage.Open(ctx, cli.config.Storage, cli.loggerMgr.GetComponentLogger("storage").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cli.config.Storage.Type, err)
	}
	return store, nil
}

// newClient builds the Kraken client on a rate limited, retrying transport.
func (cli *CLI) newClient() *exchange.KrakenClient {
	exchangeLog := cli.loggerMgr.GetComponentLogger("exchange").Logger
	cfg := cli.config.Exchange

	var transport exchange.Transport = exchange.NewHTTPTransport(cfg.BaseURL,
		exchange.WithTimeout(cfg.TimeoutDuration()),
		exchange.WithUserAgent(cfg.UserAgent),
		exchange.WithTransportLogger(exchangeLog))
	transport = exchange.NewResilientTransport(transport, cfg.RateLimit, retryPolicy(cfg.RetryPolicy), exchangeLog)

	return exchange.NewKrakenClient(transport, exchangeLog)
}

// retryPolicy maps the configured retry settings onto the transport policy.
func retryPolicy(cfg config.RetryPolicyConfig) exchange.RetryPolicy {
	policy := exchange.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	if d := cfg.InitialDelayDuration(); d > 0 {
		policy.InitialDelay = d
	}
	if d := cfg.MaxDelayDuration(); d > 0 {
		policy.MaxDelay = d
	}
	if !cfg.Jitter {
		policy.Jitter = 0
	}
	return policy
}

// usageError marks bad command line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newUsageError(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exitCode maps err to the process exit code. A run that failed after an
// interrupt exits with ExitInterrupt whatever error the cancellation surfaced as.
func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return ExitSuccess
	}
	if ctx.Err() != nil {
		return ExitInterrupt
	}

	var ue *usageError
	if errors.As(err, &ue) {
		return ExitUsageError
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindConfig:
		return ExitConfigError
	case apperrors.KindTransport:
		return ExitTransportErr
	case apperrors.KindDecode:
		return ExitDecodeError
	case apperrors.KindExchange:
		return ExitExchangeErr
	case apperrors.KindParse:
		return ExitParseError
	case apperrors.KindStorage:
		return ExitStorageError
	default:
		return ExitUsageError
	}
}
