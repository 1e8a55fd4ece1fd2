package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-trade-collector/internal/models"
)

func TestMemoryStorage_Contract(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Initialize(context.Background()))

	runTradeStorageTests(t, store)
}

func TestMemoryStorage_Closed(t *testing.T) {
	runClosedStorageTests(t, NewMemoryStorage())
}

func TestMemoryStorage_ArrivalOrder(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.StoreTrades(ctx, sampleTrades()))
	require.NoError(t, store.StoreTrades(ctx, []models.Trade{}))

	assert.Equal(t, []int64{15751277679842, 15751277679793, 15751300000000}, timestamps(store.All("ETHEUR")))
	assert.Equal(t, 1, store.Batches())
}

func TestMemoryStorage_CancelledContext(t *testing.T) {
	store := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.StoreTrades(ctx, sampleTrades())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.All("ETHEUR"))
}

func TestMemoryStorage_ConcurrentWriters(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.StoreTrades(ctx, sampleTrades()))
		}()
	}
	wg.Wait()

	count, err := store.CountTrades(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(32), count)
	assert.Equal(t, 8, store.Batches())

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Contains(t, stats.QueryPerformance, "store_trades")
}
