// Package storage provides key-value backends for persisted checkout
// progress. Every backend stores opaque byte payloads under string keys.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/checkout-embed/internal"
)

// Storage defines the operations the session store needs from a backend.
type Storage interface {
	// Get returns the payload stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous payload.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Clients carries the shared connections a backend may need. Callers open
// them once at startup and own their lifecycle.
type Clients struct {
	Redis    *redis.Client
	Postgres *pgxpool.Pool
}

// NewStorage creates a Storage implementation based on configuration.
func NewStorage(ctx context.Context, cfg internal.StorageConfig, clients Clients) (Storage, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryStorage(), nil
	case "local":
		return NewLocalStorage(cfg.LocalPath)
	case "redis":
		if clients.Redis == nil {
			return nil, fmt.Errorf("redis storage requires a redis client")
		}
		return NewRedisStorage(clients.Redis, cfg.TTL), nil
	case "postgres":
		if clients.Postgres == nil {
			return nil, fmt.Errorf("postgres storage requires a connection pool")
		}
		return NewPostgresStorage(clients.Postgres), nil
	case "r2":
		return NewR2Storage(ctx, R2Config{
			AccountID:   cfg.R2AccountID,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretKey,
			BucketName:  cfg.R2BucketName,
			Prefix:      cfg.R2Prefix,
		})
	default:
		return nil, ErrUnknownProvider(cfg.Provider)
	}
}
