package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-trade-collector/internal/models"
)

// appenderFlushRows is the default number of rows the appender buffers before a flush.
const appenderFlushRows = 5000

// DuckDBStorage implements TradeStorage on an embedded DuckDB database.
// Inserts go through the DuckDB Appender API; reads use plain SQL.
type DuckDBStorage struct {
	db      *sql.DB
	dbPath  string
	logger  *slog.Logger
	mu      sync.RWMutex
	timings *queryTimings

	flushRows int
}

// NewDuckDBStorage opens a DuckDB database.
// The dbPath can be ":memory:" for an in-memory database or a file path for persistent storage.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, NewStorageError("open", "", "", fmt.Errorf("failed to create database directory: %w", err))
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// DuckDB allows a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:        db,
		dbPath:    dbPath,
		logger:    logger,
		timings:   newQueryTimings(),
		flushRows: appenderFlushRows,
	}, nil
}

// SetFlushRows sets how many appended rows are buffered before a flush.
// Values below one are ignored.
func (d *DuckDBStorage) SetFlushRows(n int) {
	if n > 0 {
		d.flushRows = n
	}
}

// Initialize implements StorageManager by migrating the schema to the latest version.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("initialize", "", "", err)
	}

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)

	if _, err := db.ExecContext(ctx, "SET enable_progress_bar = false"); err != nil {
		d.logger.Warn("failed to set configuration", "error", err)
	}

	if err := NewMigrationManager(db, d.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", tradesTable, "", err)
	}
	return nil
}

func (d *DuckDBStorage) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, errors.New("database connection is closed")
	}
	return d.db, nil
}

// StoreTrades implements TradeSink using the DuckDB appender.
func (d *DuckDBStorage) StoreTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	start := time.Now()
	defer d.timings.track("store_trades")()

	if err := validateBatch(trades); err != nil {
		return err
	}

	db, err := d.conn()
	if err != nil {
		return NewInsertError(tradesTable, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return NewInsertError(tradesTable, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	var driverConn *duckdb.Conn
	err = conn.Raw(func(dc any) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return errors.New("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewInsertError(tradesTable, fmt.Errorf("failed to get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", tradesTable)
	if err != nil {
		return NewInsertError(tradesTable, fmt.Errorf("failed to create appender: %w", err))
	}
	defer appender.Close()

	createdAt := time.Now().UTC()
	for i := range trades {
		t := &trades[i]
		if err := appender.AppendRow(
			t.Pair(),
			t.Symbol.Base,
			t.Symbol.Quote,
			t.PriceFloat(),
			t.VolumeFloat(),
			t.Timestamp,
			createdAt,
		); err != nil {
			return NewInsertError(tradesTable, fmt.Errorf("failed to append %s: %w", t, err))
		}

		if (i+1)%d.flushRows == 0 {
			if err := appender.Flush(); err != nil {
				return NewInsertError(tradesTable, fmt.Errorf("failed to flush appender: %w", err))
			}
		}
	}

	if err := appender.Flush(); err != nil {
		return NewInsertError(tradesTable, fmt.Errorf("failed to flush appender: %w", err))
	}

	d.logger.Debug("stored trades batch",
		"count", len(trades),
		"duration", time.Since(start))
	return nil
}

// QueryTrades implements TradeReader.
func (d *DuckDBStorage) QueryTrades(ctx context.Context, q TradeQuery) (*TradeQueryResponse, error) {
	start := time.Now()
	defer d.timings.track("query")()

	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError(tradesTable, "", err)
	}

	query, args, countQuery, countArgs := buildSelect(q)

	var total int
	if err := db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, NewQueryError(tradesTable, countQuery, fmt.Errorf("failed to get count: %w", err))
	}

	rows, err := db.QueryContext(ctx, query, args...)
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
func (d *DuckDBStorage) LatestTimestamp(ctx context.Context, pair string) (int64, bool, error) {
	defer d.timings.track("latest_timestamp")()

	db, err := d.conn()
	if err != nil {
		return 0, false, NewQueryError(tradesTable, "", err)
	}

	query := "SELECT MAX(timestamp) FROM trades WHERE pair = $1"
	var latest sql.NullInt64
	if err := db.QueryRowContext(ctx, query, pair).Scan(&latest); err != nil {
		return 0, false, NewQueryError(tradesTable, query, err)
	}
	return latest.Int64, latest.Valid, nil
}

// CountTrades implements TradeReader.
func (d *DuckDBStorage) CountTrades(ctx context.Context, pair string) (int64, error) {
	db, err := d.conn()
	if err != nil {
		return 0, NewQueryError(tradesTable, "", err)
	}

	query, args := "SELECT COUNT(*) FROM trades", []any(nil)
	if pair != "" {
		query, args = query+" WHERE pair = $1", []any{pair}
	}

	var count int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, NewQueryError(tradesTable, query, err)
	}
	return count, nil
}

// GetStats implements StorageManager.
func (d *DuckDBStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	defer d.timings.track("get_stats")()

	db, err := d.conn()
	if err != nil {
		return nil, NewStorageError("stats", tradesTable, "", err)
	}

	rows, err := db.QueryContext(ctx, statsQuery)
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
	stats.QueryPerformance = d.timings.averages()
	return stats, nil
}

// HealthCheck implements HealthChecker.
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	defer d.timings.track("health_check")()

	db, err := d.conn()
	if err != nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("database health check failed: %w", err))
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Close implements StorageManager.
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB storage")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}

const statsQuery = `
	SELECT pair, COUNT(*), MIN(timestamp), MAX(timestamp)
	FROM trades
	GROUP BY pair
	ORDER BY pair`

var _ TradeStorage = (*DuckDBStorage)(nil)
