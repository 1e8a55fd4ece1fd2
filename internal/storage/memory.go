package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/johnayoung/go-trade-collector/internal/models"
)

// MemoryStorage provides an in-memory implementation of TradeStorage.
// It is safe for concurrent use and keeps every delivered trade, duplicates
// included, in arrival order per pair.
type MemoryStorage struct {
	mu sync.RWMutex

	// trades by request pair string
	trades map[string][]models.Trade

	// number of StoreTrades calls that wrote at least one trade
	batches int

	closed  bool
	timings *queryTimings
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		trades:  make(map[string][]models.Trade),
		timings: newQueryTimings(),
	}
}

// Initialize implements StorageManager. It only resets the closed flag.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	return nil
}

// StoreTrades implements TradeSink.
func (m *MemoryStorage) StoreTrades(ctx context.Context, trades []models.Trade) error {
	defer m.timings.track("store_trades")()

	if err := ctx.Err(); err != nil {
		return NewInsertError(tradesTable, err)
	}
	if len(trades) == 0 {
		return nil
	}
	if err := validateBatch(trades); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError(tradesTable, errors.New("storage is closed"))
	}

	for _, t := range trades {
		pair := t.Pair()
		m.trades[pair] = append(m.trades[pair], t)
	}
	m.batches++
	return nil
}

// QueryTrades implements TradeReader.
func (m *MemoryStorage) QueryTrades(ctx context.Context, q TradeQuery) (*TradeQueryResponse, error) {
	start := time.Now()
	defer m.timings.track("query")()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError(tradesTable, "", errors.New("storage is closed"))
	}

	var matched []models.Trade
	for pair, trades := range m.trades {
		if q.Pair != "" && pair != q.Pair {
			continue
		}
		for _, t := range trades {
			if q.Since > 0 && t.Timestamp < q.Since {
				continue
			}
			if q.Until > 0 && t.Timestamp >= q.Until {
				continue
			}
			matched = append(matched, t)
		}
	}

	desc := q.OrderBy == OrderTimestampDesc
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return matched[i].Timestamp > matched[j].Timestamp
		}
		return matched[i].Timestamp < matched[j].Timestamp
	})

	total := len(matched)
	lo := min(q.Offset, total)
	hi := total
	if q.Limit > 0 {
		hi = min(lo+q.Limit, total)
	}

	page := make([]models.Trade, hi-lo)
	copy(page, matched[lo:hi])

	return paginate(q, page, total, start), nil
}

// LatestTimestamp implements TradeReader.
func (m *MemoryStorage) LatestTimestamp(ctx context.Context, pair string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trades := m.trades[pair]
	if len(trades) == 0 {
		return 0, false, nil
	}

	var latest int64
	for _, t := range trades {
		latest = max(latest, t.Timestamp)
	}
	return latest, true, nil
}

// CountTrades implements TradeReader.
func (m *MemoryStorage) CountTrades(ctx context.Context, pair string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if pair != "" {
		return int64(len(m.trades[pair])), nil
	}

	var total int64
	for _, trades := range m.trades {
		total += int64(len(trades))
	}
	return total, nil
}

// GetStats implements StorageManager.
func (m *MemoryStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &StorageStats{QueryPerformance: m.timings.averages()}
	for pair, trades := range m.trades {
		if len(trades) == 0 {
			continue
		}
		ps := PairStats{Pair: pair, Trades: int64(len(trades)), Earliest: trades[0].Timestamp, Latest: trades[0].Timestamp}
		for _, t := range trades[1:] {
			ps.Earliest = min(ps.Earliest, t.Timestamp)
			ps.Latest = max(ps.Latest, t.Timestamp)
		}
		stats.Pairs = append(stats.Pairs, ps)
		stats.TotalTrades += ps.Trades
	}

	sort.Slice(stats.Pairs, func(i, j int) bool { return stats.Pairs[i].Pair < stats.Pairs[j].Pair })
	stats.TotalPairs = len(stats.Pairs)
	return stats, nil
}

// HealthCheck implements HealthChecker.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return NewStorageError("health_check", "", "", errors.New("storage is closed"))
	}
	return nil
}

// Close implements StorageManager.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Batches returns how many non-empty batches were written.
func (m *MemoryStorage) Batches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

// All returns a copy of every stored trade for pair in arrival order.
func (m *MemoryStorage) All(pair string) []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Trade(nil), m.trades[pair]...)
}

var _ TradeStorage = (*MemoryStorage)(nil)
