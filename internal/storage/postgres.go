package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johnayoung/go-trade-collector/internal/models"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		pair TEXT NOT NULL,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		timestamp BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	"CREATE INDEX IF NOT EXISTS idx_trades_pair_timestamp ON trades (pair, timestamp)",
}

var tradeColumns = []string{"pair", "base", "quote", "price", "volume", "timestamp", "created_at"}

// PostgresStorage implements TradeStorage on PostgreSQL through a pgx connection pool.
type PostgresStorage struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	mu      sync.RWMutex
	timings *queryTimings
}

// NewPostgresStorage connects a pool to dsn. maxConns <= 0 keeps the pgx default.
func NewPostgresStorage(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*PostgresStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("parse pgx config: %w", err))
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("create pgx pool: %w", err))
	}

	return &PostgresStorage{
		pool:    pool,
		logger:  logger,
		timings: newQueryTimings(),
	}, nil
}

func (p *PostgresStorage) conn() (*pgxpool.Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		return nil, errors.New("connection pool is closed")
	}
	return p.pool, nil
}

// Initialize implements StorageManager by creating the trades table and index.
func (p *PostgresStorage) Initialize(ctx context.Context) error {
	pool, err := p.conn()
	if err != nil {
		return NewStorageError("initialize", "", "", err)
	}

	p.logger.Info("initializing PostgreSQL storage")
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return NewStorageError("initialize", tradesTable, stmt, err)
		}
	}
	return nil
}

// StoreTrades implements TradeSink with a COPY into the trades table.
func (p *PostgresStorage) StoreTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	start := time.Now()
	defer p.timings.track("store_trades")()

	if err := validateBatch(trades); err != nil {
		return err
	}

	pool, err := p.conn()
	if err != nil {
		return NewInsertError(tradesTable, err)
	}

	createdAt := time.Now().UTC()
	rows := make([][]any, 0, len(trades))
	for i := range trades {
		t := &trades[i]
		rows = append(rows, []any{
			t.Pair(),
			t.Symbol.Base,
			t.Symbol.Quote,
			t.PriceFloat(),
			t.VolumeFloat(),
			t.Timestamp,
			createdAt,
		})
	}

	copied, err := pool.CopyFrom(ctx, pgx.Identifier{tradesTable}, tradeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return NewInsertError(tradesTable, fmt.Errorf("copy trades: %w", err))
	}

	p.logger.Debug("stored trades batch",
		"count", copied,
		"duration", time.Since(start))
	return nil
}

// QueryTrades implements TradeReader.
func (p *PostgresStorage) QueryTrades(ctx context.Context, q TradeQuery) (*TradeQueryResponse, error) {
	start := time.Now()
	defer p.timings.track("query")()

	pool, err := p.conn()
	if err != nil {
		return nil, NewQueryError(tradesTable, "", err)
	}

	query, args, countQuery, countArgs := buildSelect(q)

	var total int
	if err := pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, NewQueryError(tradesTable, countQuery, fmt.Errorf("failed to get count: %w", err))
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(tradesTable, query, fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	trades := make([]models.Trade, 0, q.Limit)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, NewQueryError(tradesTable, query, fmt.Errorf("failed to scan row: %w", err))
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(tradesTable, query, fmt.Errorf("row iteration error: %w", err))
	}

	return paginate(q, trades, total, start), nil
}

// LatestTimestamp implements TradeReader.
func (p *PostgresStorage) LatestTimestamp(ctx context.Context, pair string) (int64, bool, error) {
	defer p.timings.track("latest_timestamp")()

	pool, err := p.conn()
	if err != nil {
		return 0, false, NewQueryError(tradesTable, "", err)
	}

	query := "SELECT MAX(timestamp) FROM trades WHERE pair = $1"
	var latest *int64
	if err := pool.QueryRow(ctx, query, pair).Scan(&latest); err != nil {
		return 0, false, NewQueryError(tradesTable, query, err)
	}
	if latest == nil {
		return 0, false, nil
	}
	return *latest, true, nil
}

// CountTrades implements TradeReader.
func (p *PostgresStorage) CountTrades(ctx context.Context, pair string) (int64, error) {
	pool, err := p.conn()
	if err != nil {
		return 0, NewQueryError(tradesTable, "", err)
	}

	query, args := "SELECT COUNT(*) FROM trades", []any(nil)
	if pair != "" {
		query, args = query+" WHERE pair = $1", []any{pair}
	}

	var count int64
	if err := pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, NewQueryError(tradesTable, query, err)
	}
	return count, nil
}

// GetStats implements StorageManager.
func (p *PostgresStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	defer p.timings.track("get_stats")()

	pool, err := p.conn()
	if err != nil {
		return nil, NewStorageError("stats", tradesTable, "", err)
	}

	rows, err := pool.Query(ctx, statsQuery)
	if err != nil {
		return nil, NewStorageError("stats", tradesTable, statsQuery, err)
	}
	defer rows.Close()

	stats := &StorageStats{}
	for rows.Next() {
		var ps PairStats
		if err := rows.Scan(&ps.Pair, &ps.Trades, &ps.Earliest, &ps.Latest); err != nil {
			return nil, NewStorageError("stats", tradesTable, statsQuery, err)
		}
		stats.Pairs = append(stats.Pairs, ps)
		stats.TotalTrades += ps.Trades
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("stats", tradesTable, statsQuery, err)
	}

	stats.TotalPairs = len(stats.Pairs)
	stats.QueryPerformance = p.timings.averages()
	return stats, nil
}

// HealthCheck implements HealthChecker.
func (p *PostgresStorage) HealthCheck(ctx context.Context) error {
	pool, err := p.conn()
	if err != nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("database health check failed: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("database health check failed: %w", err))
	}
	return nil
}

// Close implements StorageManager.
func (p *PostgresStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		p.logger.Info("closing PostgreSQL storage")
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

var _ TradeStorage = (*PostgresStorage)(nil)
