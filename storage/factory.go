package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/johnwmail/vanish/config"
)

// NewStore opens the backend selected by cfg.StorageType
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (PasteStore, error) {
	opts := Options{
		Timeout:        cfg.StoreTimeout,
		RetentionGrace: cfg.RetentionGrace,
	}

	var (
		store PasteStore
		err   error
	)
	switch cfg.StorageType {
	case "redis":
		store, err = NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, opts)
	case "mongodb":
		store, err = NewMongoStore(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, cfg.MongoDBCollection, opts)
	case "dynamodb":
		store, err = NewDynamoStore(ctx, cfg.DynamoDBTable, cfg.AWSRegion, opts)
	case "bolt":
		store, err = OpenBoltStore(cfg.BoltPath)
	case "memory":
		logger.Warn("Using in-memory storage; pastes are lost on restart")
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.StorageType, err)
	}

	logger.Info("Storage initialized", "backend", store.Backend())
	return store, nil
}
