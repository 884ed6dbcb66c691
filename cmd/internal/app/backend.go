package app

import (
	"context"
	"fmt"

	"lightlink/cmd/internal/store"
)

// backend owns the snapshot destination and whatever connection it needs.
type backend struct {
	name string
	snap store.Snapshotter

	// ping is nil for backends without a remote dependency.
	ping  func(ctx context.Context) error
	close func()
}

// openBackend builds the snapshotter selected by cfg.Backend.
func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	switch cfg.Backend {
	case BackendMemory:
		log.Info("store.backend.memory")
		return &backend{name: cfg.Backend, snap: store.NewMemorySnapshotter(), close: func() {}}, nil

	case BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		snap, err := store.NewPostgresSnapshotter(pool, store.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := snap.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: ensure schema: %w", err)
		}
		log.Info("store.backend.postgres", "schema", cfg.DBSchema)

		// Ownership model:
		// - app owns pool lifecycle
		// - PostgresSnapshotter.Close() is a no-op
		return &backend{
			name:  cfg.Backend,
			snap:  snap,
			ping:  func(ctx context.Context) error { return PingDB(ctx, pool, dbPingTimeout) },
			close: pool.Close,
		}, nil

	case BackendRedis:
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		snap, err := store.NewRedisSnapshotter(rdb, cfg.RedisKey)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		log.Info("store.backend.redis", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
		return &backend{
			name:  cfg.Backend,
			snap:  snap,
			ping:  snap.Ping,
			close: func() { _ = rdb.Close() },
		}, nil

	default:
		snap, err := store.NewFileSnapshotter(cfg.DataFile)
		if err != nil {
			return nil, err
		}
		log.Info("store.backend.file", "path", snap.Path())
		return &backend{name: BackendFile, snap: snap, close: func() {}}, nil
	}
}
