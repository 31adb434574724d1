package kv

import (
	"context"
	"fmt"

	"github.com/gofiber/storage/postgres/v3"
)

type PostgresConfig struct {
	ConnectionURI string
	Table         string
}

// PostgresStore keeps entries in a single table managed by gofiber/storage.
type PostgresStore struct {
	storage *postgres.Storage
	prefix  string
}

func NewPostgresStore(cfg PostgresConfig, prefix string) (*PostgresStore, error) {
	if cfg.ConnectionURI == "" {
		return nil, fmt.Errorf("postgres kv store requires a connection uri")
	}
	table := cfg.Table
	if table == "" {
		table = "client_kv"
	}

	return &PostgresStore{
		storage: postgres.New(postgres.Config{
			ConnectionURI: cfg.ConnectionURI,
			Table:         table,
			Reset:         false,
		}),
		prefix: prefix,
	}, nil
}

func (p *PostgresStore) Get(_ context.Context, key string) ([]byte, error) {
	val, err := p.storage.Get(p.prefix + key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s from postgres: %w", key, err)
	}
	// gofiber storages report a missing key as a nil value without error.
	if val == nil {
		return nil, ErrNotFound
	}
	return val, nil
}

func (p *PostgresStore) Set(_ context.Context, key string, value []byte) error {
	if err := p.storage.Set(p.prefix+key, value, 0); err != nil {
		return fmt.Errorf("failed to set key %s in postgres: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) Delete(_ context.Context, key string) error {
	if err := p.storage.Delete(p.prefix + key); err != nil {
		return fmt.Errorf("failed to delete key %s from postgres: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.storage.Close()
}
