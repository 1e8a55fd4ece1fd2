// Package collector orchestrates trade synchronization: it drains one
// exchange.TradeStream per pair into a storage.TradeSink in batches, honoring
// an optional upper time bound and resuming from what the sink already holds.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/exchange"
	"github.com/johnayoung/go-trade-collector/internal/logger"
	"github.com/johnayoung/go-trade-collector/internal/metrics"
	"github.com/johnayoung/go-trade-collector/internal/models"
	"github.com/johnayoung/go-trade-collector/internal/storage"
)

const (
	// DefaultBatchSize is the number of trades written per sink call.
	DefaultBatchSize = 1000

	// flushTimeout bounds the final write of a pending batch after the run
	// context has been cancelled.
	flushTimeout = 10 * time.Second
)

// Config configures a sync run.
type Config struct {
	Pairs []models.TradeSymbol

	// Since is the starting cursor in Unix nanoseconds (0 = beginning of history).
	Since int64

	// Until is an exclusive upper bound in Unix nanoseconds (0 = until the history is exhausted).
	Until int64

	BatchSize int

	// Resume starts each pair after the newest trade already in the sink
	// when that is later than Since.
	Resume bool

	// MaxConcurrency limits how many pairs sync at once (0 = all).
	MaxConcurrency int

	// FailFast cancels the remaining pairs once one pair fails.
	FailFast bool

	Logger *slog.Logger
}

// DefaultConfig returns a configuration syncing nothing with default batching.
func DefaultConfig() *Config {
	return &Config{
		BatchSize: DefaultBatchSize,
		Logger:    slog.Default(),
	}
}

// ValidateConfig checks cfg before a run.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if len(cfg.Pairs) == 0 {
		return errors.New("at least one pair is required")
	}
	for _, p := range cfg.Pairs {
		if p.IsZero() {
			return errors.New("pair cannot be empty")
		}
	}
	if cfg.Since < 0 {
		return fmt.Errorf("since must be non-negative, got %d", cfg.Since)
	}
	if cfg.Until < 0 {
		return fmt.Errorf("until must be non-negative, got %d", cfg.Until)
	}
	if cfg.Until > 0 && cfg.Until <= cfg.Since {
		return fmt.Errorf("until (%d) must be after since (%d)", cfg.Until, cfg.Since)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must be non-negative, got %d", cfg.MaxConcurrency)
	}
	return nil
}

// Result is the outcome of syncing one pair.
type Result struct {
	Pair     string
	Trades   int64
	Pages    int
	Since    int64 // cursor the stream started from, Unix nanoseconds
	Cursor   int64 // cursor the next fetch would have used
	Resumed  bool
	Duration time.Duration
	Err      error
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithReader enables resume lookups against reader.
func WithReader(reader storage.TradeReader) Option {
	return func(s *Syncer) { s.reader = reader }
}

// WithMetrics records sync progress into m.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// Syncer drains trade streams into a sink.
type Syncer struct {
	fetcher  exchange.HistoryFetcher
	sink     storage.TradeSink
	reader   storage.TradeReader
	metrics  *metrics.SyncMetrics
	config   *Config
	logger   *slog.Logger
	progress *progressTracker
}

// New creates a Syncer. A nil config uses DefaultConfig.
func New(fetcher exchange.HistoryFetcher, sink storage.TradeSink, config *Config, opts ...Option) *Syncer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Syncer{
		fetcher:  fetcher,
		sink:     sink,
		config:   config,
		logger:   config.Logger,
		progress: newProgressTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reader == nil {
		if r, ok := sink.(storage.TradeReader); ok {
			s.reader = r
		}
	}
	return s
}

// Progress returns run-wide totals. It is safe to call while Run is in progress.
func (s *Syncer) Progress() Progress {
	return s.progress.snapshot()
}

// Run syncs every configured pair concurrently and returns one Result per
// pair, in configuration order. The returned error is the first pair failure,
// or nil when every pair completed.
func (s *Syncer) Run(ctx context.Context) ([]Result, error) {
	if err := ValidateConfig(s.config); err != nil {
		return nil, apperrors.Config("sync", err)
	}

	s.progress.reset()
	runID := uuid.NewString()
	ctx = logger.WithOperation(logger.WithRunID(ctx, runID), "sync")
	log := logger.FromContext(ctx, s.logger)

	log.Info("sync run started",
		"pairs", len(s.config.Pairs),
		"since", s.config.Since,
		"until", s.config.Until,
		"batch_size", s.config.BatchSize,
		"resume", s.config.Resume)

	results := make([]Result, len(s.config.Pairs))
	g, gctx := errgroup.WithContext(ctx)
	if s.config.MaxConcurrency > 0 {
		g.SetLimit(s.config.MaxConcurrency)
	}

	for i, symbol := range s.config.Pairs {
		g.Go(func() error {
			pairCtx := ctx
			if s.config.FailFast {
				pairCtx = gctx
			}
			results[i] = s.SyncPair(pairCtx, symbol)
			if s.config.FailFast {
				return results[i].Err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		for _, r := range results {
			if r.Err != nil {
				err = r.Err
				break
			}
		}
	}

	p := s.progress.snapshot()
	log.Info("sync run finished",
		"trades", p.TradesStored,
		"pages", p.PagesFetched,
		"pairs_done", p.PairsDone,
		"pairs_failed", p.PairsFailed,
		"duration", p.Elapsed)

	return results, err
}

// SyncPair drains the history of one pair into the sink.
func (s *Syncer) SyncPair(ctx context.Context, symbol models.TradeSymbol) (result Result) {
	start := time.Now()
	pair := symbol.String()
	streamLog := logger.FromContext(ctx, s.logger)
	ctx = logger.WithPair(ctx, pair)
	log := logger.FromContext(ctx, s.logger)

	result = Result{Pair: pair, Since: s.config.Since}
	defer func() {
		result.Duration = time.Since(start)
		s.progress.recordPair(result.Err)
		s.metrics.ObserveSync(pair, result.Duration, result.Err)
		if result.Err != nil {
			logger.LogErrorWithContext(ctx, s.logger, result.Err, "pair sync failed",
				"trades", result.Trades,
				"pages", result.Pages)
			return
		}
		log.Info("pair sync completed",
			"trades", result.Trades,
			"pages", result.Pages,
			"cursor", result.Cursor,
			"duration", result.Duration)
	}()

	since, resumed, err := s.startCursor(ctx, pair)
	if err != nil {
		result.Err = err
		return result
	}
	result.Since, result.Resumed = since, resumed

	stream := exchange.NewTradeStream(s.fetcher, symbol, since, streamLog)
	w := &batchWriter{syncer: s, pair: pair, batch: make([]models.Trade, 0, s.config.BatchSize)}

	err = s.drain(ctx, stream, w)
	result.Pages = stream.PagesFetched()
	result.Cursor = stream.Cursor()

	// Trades of fully drained pages are written even when the stream failed
	// or the context was cancelled. A page cut short by a sink failure is
	// dropped so a resumed run fetches it again.
	if !w.failed {
		flushCtx, cancel := flushContext(ctx)
		defer cancel()
		if flushErr := w.flush(flushCtx); flushErr != nil && err == nil {
			err = flushErr
		}
	}
	result.Trades = w.written
	result.Err = err
	return result
}

// drain pulls trades until the stream ends, fails, or passes the upper bound.
func (s *Syncer) drain(ctx context.Context, stream *exchange.TradeStream, w *batchWriter) error {
	var untilTicks int64
	if s.config.Until > 0 {
		untilTicks = models.TicksFromUnixNano(s.config.Until)
	}

	pagesSeen := 0
	pastBound := false
	for {
		trade, err := stream.Next(ctx)

		if pages := stream.PagesFetched(); pages > pagesSeen {
			s.progress.recordPages(pages - pagesSeen)
			s.metrics.ObservePages(w.pair, pages-pagesSeen, stream.Cursor())
			pagesSeen = pages
		}

		if errors.Is(err, exchange.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}

		if untilTicks > 0 && trade.Timestamp >= untilTicks {
			pastBound = true
		} else {
			w.add(trade)
		}

		if stream.Buffered() > 0 {
			continue
		}
		if err := w.endPage(ctx); err != nil {
			return err
		}

		// A page is yielded newest-first, so the bound is only final once the
		// page that crossed it has been fully drained.
		if untilTicks > 0 && (pastBound || stream.Cursor() >= s.config.Until) {
			return nil
		}
	}
}

// startCursor returns the cursor a pair starts from and whether it was
// moved forward by resume.
func (s *Syncer) startCursor(ctx context.Context, pair string) (int64, bool, error) {
	since := s.config.Since
	if !s.config.Resume || s.reader == nil {
		return since, false, nil
	}

	latest, found, err := s.reader.LatestTimestamp(ctx, pair)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return since, false, nil
	}

	last := models.Trade{Timestamp: latest}
	if resumeAt := last.UnixNano(); resumeAt > since {
		logger.FromContext(ctx, s.logger).Info("resuming after stored trades",
			"latest_timestamp", latest,
			"since", resumeAt)
		return resumeAt, true, nil
	}
	return since, false, nil
}

// batchWriter collects the trades of the page being drained and writes whole
// pages to the sink oldest first, in batches of at most BatchSize trades.
// Every write extends an unbroken run of stored history, so the newest
// stored trade is always a safe resume point.
type batchWriter struct {
	syncer  *Syncer
	pair    string
	page    []models.Trade // newest first, as popped
	batch   []models.Trade
	written int64
	failed  bool
}

func (w *batchWriter) add(trade models.Trade) {
	w.page = append(w.page, trade)
}

// endPage moves the drained page into the pending batch and writes every full
// batch. Once ctx is cancelled full batches are left for the final flush.
func (w *batchWriter) endPage(ctx context.Context) error {
	defer func() { w.page = w.page[:0] }()

	for i := len(w.page) - 1; i >= 0; i-- {
		w.batch = append(w.batch, w.page[i])
		if len(w.batch) < w.syncer.config.BatchSize || ctx.Err() != nil {
			continue
		}
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *batchWriter) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := w.syncer.sink.StoreTrades(ctx, w.batch); err != nil {
		w.failed = true
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.Storage("store trades", err)
		}
		return err
	}

	n := len(w.batch)
	w.written += int64(n)
	w.syncer.progress.recordBatch(n)
	w.syncer.metrics.ObserveBatch(w.pair, n, time.Since(start))
	w.batch = w.batch[:0]
	return nil
}

// flushContext keeps ctx values but drops its cancellation so a pending batch
// can still be written on shutdown.
func flushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
}
