package store

import (
	"context"
	"fmt"

	"github.com/wordcheck/session-agent/internal/config"
)

// Open builds the backend named by cfg.Store.Backend.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemory(), nil
	case "file", "":
		return NewFile(cfg.Store.FilePath)
	case "redis":
		return DialRedis(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB, cfg.Store.RedisPrefix)
	case "postgres":
		pool, err := NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		p, err := NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return p, nil
	case "mongo":
		return DialMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, cfg.Store.MongoColl)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
