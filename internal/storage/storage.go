// Package storage defines the storage layer interfaces for trade persistence.
// These interfaces provide abstractions over different storage backends (in-memory,
// DuckDB, PostgreSQL) so the sync orchestration can write trades without knowing
// which database sits behind the sink.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/models"
)

// TradeSink is the write side consumed by the sync orchestration.
// Writes are at-least-once: the same trade may be delivered again by a later
// run, and no backend enforces uniqueness.
type TradeSink interface {
	// StoreTrades persists a batch of trades. An empty batch is a no-op.
	// Returns a storage error if any trade in the batch fails to store.
	StoreTrades(ctx context.Context, trades []models.Trade) error
}

// TradeReader handles trade retrieval for resume and inspection.
type TradeReader interface {
	// QueryTrades retrieves trades matching the query with pagination and ordering.
	QueryTrades(ctx context.Context, query TradeQuery) (*TradeQueryResponse, error)

	// LatestTimestamp returns the largest stored timestamp (in trade ticks) for
	// pair. found is false when no trade for the pair is stored.
	LatestTimestamp(ctx context.Context, pair string) (ts int64, found bool, err error)

	// CountTrades returns the number of stored trades for pair, or for all
	// pairs when pair is empty.
	CountTrades(ctx context.Context, pair string) (int64, error)
}

// StorageManager handles storage lifecycle and operational concerns.
type StorageManager interface {
	// Initialize prepares the storage backend for operation.
	// Should be idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Close gracefully shuts down the storage backend.
	// After Close() is called, the storage instance should not be used.
	Close() error

	// GetStats returns per-pair counts and time ranges.
	GetStats(ctx context.Context) (*StorageStats, error)

	HealthChecker
}

// HealthChecker provides health monitoring capabilities for storage backends.
type HealthChecker interface {
	// HealthCheck verifies that the storage backend is operational.
	HealthCheck(ctx context.Context) error
}

// TradeStorage combines all storage capabilities into a single interface.
// This is the interface every backend implements.
type TradeStorage interface {
	TradeSink
	TradeReader
	StorageManager
}

// Ordering values for TradeQuery.OrderBy.
const (
	OrderTimestampAsc  = "timestamp_asc"
	OrderTimestampDesc = "timestamp_desc"
)

// TradeQuery defines parameters for querying stored trades.
type TradeQuery struct {
	// Pair is the request pair string (e.g., "ETHEUR"); empty matches every pair
	Pair string

	// Since is the earliest timestamp in trade ticks to include (inclusive, 0 = no bound)
	Since int64

	// Until is the timestamp in trade ticks to stop before (exclusive, 0 = no bound)
	Until int64

	// Limit is the maximum number of results to return (0 = no limit)
	Limit int

	// Offset is the number of results to skip for pagination
	Offset int

	// OrderBy is OrderTimestampAsc (default) or OrderTimestampDesc
	OrderBy string
}

// TradeQueryResponse contains the results of a trade query.
type TradeQueryResponse struct {
	Trades     []models.Trade
	Total      int // matches before limit/offset
	HasMore    bool
	NextOffset int
	QueryTime  time.Duration
}

// PairStats summarizes the stored trades of one pair.
type PairStats struct {
	Pair     string
	Trades   int64
	Earliest int64 // trade ticks
	Latest   int64 // trade ticks
}

// StorageStats provides operational statistics about storage.
type StorageStats struct {
	TotalTrades int64
	TotalPairs  int
	Pairs       []PairStats // ordered by pair

	// QueryPerformance contains average query times by operation type
	QueryPerformance map[string]time.Duration
}

// StorageError represents errors that occur during storage operations.
// It unwraps to a storage-kind error from internal/errors so callers can
// classify it with errors.KindOf.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "insert", "query")
	Operation string

	// Table is the database table involved in the operation
	Table string

	// Query is the SQL query or operation details (may be empty)
	Query string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the classified underlying error.
func (e *StorageError) Unwrap() error {
	return apperrors.Storage(e.Operation, e.Err)
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewQueryError creates a StorageError specifically for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return NewStorageError("query", table, query, err)
}

// NewInsertError creates a StorageError specifically for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return NewStorageError("insert", table, "", err)
}

const tradesTable = "trades"

// validateBatch checks every trade before any backend writes a row.
func validateBatch(trades []models.Trade) error {
	for i := range trades {
		if err := trades[i].Validate(); err != nil {
			return NewInsertError(tradesTable, fmt.Errorf("invalid trade at index %d: %w", i, err))
		}
	}
	return nil
}

// whereClause renders the filter of q with $N placeholders, which both DuckDB
// and PostgreSQL accept.
func whereClause(q TradeQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.Pair != "" {
		args = append(args, q.Pair)
		conditions = append(conditions, fmt.Sprintf("pair = $%d", len(args)))
	}
	if q.Since > 0 {
		args = append(args, q.Since)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if q.Until > 0 {
		args = append(args, q.Until)
		conditions = append(conditions, fmt.Sprintf("timestamp < $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// buildSelect constructs the row and count queries for q.
func buildSelect(q TradeQuery) (query string, args []any, countQuery string, countArgs []any) {
	where, args := whereClause(q)
	countQuery = "SELECT COUNT(*) FROM trades" + where
	countArgs = append([]any(nil), args...)

	query = "SELECT pair, base, quote, price, volume, timestamp FROM trades" + where

	orderBy := "timestamp ASC"
	if q.OrderBy == OrderTimestampDesc {
		orderBy = "timestamp DESC"
	}
	query += " ORDER BY " + orderBy

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return query, args, countQuery, countArgs
}

// rowScanner is satisfied by both *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTrade reads one row produced by buildSelect.
func scanTrade(r rowScanner) (models.Trade, error) {
	var (
		pair, base, quote string
		price, volume     float64
		ts                int64
	)
	if err := r.Scan(&pair, &base, &quote, &price, &volume, &ts); err != nil {
		return models.Trade{}, err
	}
	return models.Trade{
		Symbol:    models.NewTradeSymbol(base, quote),
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromFloat(volume),
		Timestamp: ts,
	}, nil
}

func paginate(q TradeQuery, trades []models.Trade, total int, start time.Time) *TradeQueryResponse {
	return &TradeQueryResponse{
		Trades:     trades,
		Total:      total,
		HasMore:    q.Offset+len(trades) < total,
		NextOffset: q.Offset + len(trades),
		QueryTime:  time.Since(start),
	}
}
