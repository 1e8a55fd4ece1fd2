package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-trade-collector/internal/config"
	"github.com/johnayoung/go-trade-collector/internal/models"
)

// createTestDuckDBStorage creates an initialized in-memory DuckDB storage.
func createTestDuckDBStorage(t *testing.T) *DuckDBStorage {
	t.Helper()

	store, err := NewDuckDBStorage(":memory:", createTestLogger())
	require.NoError(t, err, "failed to create test DuckDB storage")
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })

	return store
}

func TestDuckDBStorage_Contract(t *testing.T) {
	runTradeStorageTests(t, createTestDuckDBStorage(t))
}

func TestDuckDBStorage_Closed(t *testing.T) {
	runClosedStorageTests(t, createTestDuckDBStorage(t))
}

func TestDuckDBStorage_InitializeIsIdempotent(t *testing.T) {
	store := createTestDuckDBStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Initialize(ctx))

	version, err := NewMigrationManager(store.db, nil).CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestDuckDBStorage_LargeBatchFlushes(t *testing.T) {
	store := createTestDuckDBStorage(t)
	ctx := context.Background()

	batch := make([]models.Trade, appenderFlushRows*2+7)
	for i := range batch {
		batch[i] = newTrade(ethEUR, "100.5", "0.25", 15750000000000+int64(i))
	}
	require.NoError(t, store.StoreTrades(ctx, batch))

	count, err := store.CountTrades(ctx, "ETHEUR")
	require.NoError(t, err)
	assert.Equal(t, int64(len(batch)), count)

	latest, found, err := store.LatestTimestamp(ctx, "ETHEUR")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, batch[len(batch)-1].Timestamp, latest)
}

func TestDuckDBStorage_SmallFlushRows(t *testing.T) {
	store := createTestDuckDBStorage(t)
	store.SetFlushRows(3)
	store.SetFlushRows(0)
	assert.Equal(t, 3, store.flushRows)

	ctx := context.Background()
	batch := make([]models.Trade, 10)
	for i := range batch {
		batch[i] = newTrade(xbtUSD, "7200.1", "0.01", 15750000000000+int64(i))
	}
	require.NoError(t, store.StoreTrades(ctx, batch))

	count, err := store.CountTrades(ctx, "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestDuckDBStorage_FilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trades.db")
	ctx := context.Background()
	cfg := config.StorageConfig{Type: "duckdb", DatabaseURL: path}

	store, err := Open(ctx, cfg, createTestLogger())
	require.NoError(t, err)
	require.NoError(t, store.StoreTrades(ctx, sampleTrades()))
	require.NoError(t, store.Close())

	store, err = Open(ctx, cfg, createTestLogger())
	require.NoError(t, err)
	defer store.Close()

	count, err := store.CountTrades(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}
