package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/showdown/go/internal/config"
	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/mcdev12/showdown/go/internal/docstore/postgres"
	"github.com/mcdev12/showdown/go/internal/docstore/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// setupStore opens the configured document store. The returned func releases it.
func setupStore(ctx context.Context, cfg *config.Config) (docstore.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("connected to database")
		return store, func() { store.Close() }, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
		return redisstore.New(client, cfg.Redis.Prefix), func() { client.Close() }, nil

	default:
		log.Warn().Msg("using in-memory document store, state is lost on restart")
		return docstore.NewMemory(), func() {}, nil
	}
}
