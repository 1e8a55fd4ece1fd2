package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/johnayoung/go-trade-collector/internal/config"
)

// Open creates the backend named by cfg.Type and initializes it.
// The returned storage must be closed by the caller.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (TradeStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store TradeStorage
		err   error
	)
	switch cfg.Type {
	case "memory":
		store = NewMemoryStorage()
	case "duckdb", "":
		var duck *DuckDBStorage
		duck, err = NewDuckDBStorage(cfg.DatabaseURL, logger)
		if err == nil {
			duck.SetFlushRows(cfg.BatchSize)
		}
		store = duck
	case "postgres":
		store, err = NewPostgresStorage(ctx, cfg.DatabaseURL, int32(cfg.MaxConns), logger)
	default:
		return nil, NewStorageError("open", "", "", fmt.Errorf("unsupported storage type %q", cfg.Type))
	}
	if err != nil {
		return nil, err
	}

	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}

	logger.Debug("storage opened", "type", cfg.Type)
	return store, nil
}
