package storage

import (
	"context"
	"fmt"
	"io"

	"wayleave/internal/backend"
)

// Storage is an attachment store that can also stream objects back.
type Storage interface {
	backend.AttachmentStore
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)
}

var (
	_ Storage = (*LocalStorage)(nil)
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*S3Storage)(nil)
)

type Factory struct {
	config StorageConfig
}

func NewFactory(config StorageConfig) *Factory {
	return &Factory{
		config: config,
	}
}

func (f *Factory) CreateStorage(ctx context.Context) (Storage, error) {
	switch f.config.Type {
	case StorageTypeMemory:
		return NewMemoryStorage(f.config.PublicBaseURL), nil

	case StorageTypeLocal, "":
		basePath := f.config.LocalPath
		if basePath == "" {
			basePath = "./uploads" // Default path
		}
		return NewLocalStorage(basePath, f.config.PublicBaseURL)

	case StorageTypeS3:
		if f.config.S3 == nil || f.config.S3.Bucket == "" {
			return nil, fmt.Errorf("S3 configuration is required for S3 storage type")
		}
		return NewS3Storage(ctx, *f.config.S3, f.config.PublicBaseURL)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", f.config.Type)
	}
}
