// Package kv is the durable local key-value storage used for the
// notification log, the persisted session token and cache-only tables.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypePostgres StoreType = "postgres"
)

type Config struct {
	Type     StoreType
	Prefix   string
	Redis    RedisConfig
	Postgres PostgresConfig
}

// New builds the store selected by cfg.Type.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis, cfg.Prefix), nil
	case StoreTypePostgres:
		return NewPostgresStore(cfg.Postgres, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown kv store type: %s", cfg.Type)
	}
}
