package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"lcoreIndexer/internal/config"
	"lcoreIndexer/internal/storage"
	"lcoreIndexer/internal/storage/memory"
	"lcoreIndexer/internal/storage/postgres"
)

func openStore(ctx context.Context, kind, databaseURL string, autoMigrate bool, logger *zap.Logger) (storage.Store, error) {
	switch kind {
	case config.StoreMemory:
		logger.Warn("using in-memory store, nothing is persisted")
		return memory.NewStore(), nil
	case config.StorePostgres:
		if autoMigrate {
			if err := postgres.Migrate(databaseURL, logger.Named("migrate")); err != nil {
				return nil, err
			}
		}
		store, err := postgres.NewStore(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return store, nil
	default:
		return nil, backoff.Permanent(fmt.Errorf("unknown store %q", kind))
	}
}

// waitStore opens the store, retrying with capped backoff until the database
// answers or ctx ends.
func waitStore(
	ctx context.Context,
	kind, databaseURL string,
	autoMigrate bool,
	initial, maxDelay time.Duration,
	logger *zap.Logger,
) (storage.Store, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0

	var store storage.Store
	err := backoff.RetryNotify(func() error {
		opened, err := openStore(ctx, kind, databaseURL, autoMigrate, logger)
		if err != nil {
			return err
		}
		store = opened
		return nil
	}, backoff.WithContext(b, ctx), func(err error, delay time.Duration) {
		logger.Warn("store unavailable, retrying", zap.Error(err), zap.Duration("delay", delay))
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
