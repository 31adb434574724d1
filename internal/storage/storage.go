// Package storage holds the attachment buckets behind backend.AttachmentStore.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid file path: path traversal detected")

type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeLocal  StorageType = "local"
	StorageTypeS3     StorageType = "s3"
)

// StorageConfig holds configuration for the attachment backends
type StorageConfig struct {
	Type StorageType
	// PublicBaseURL prefixes object paths to form public URIs. S3 falls back
	// to the bucket URL when it is empty.
	PublicBaseURL string
	LocalPath     string
	S3            *S3Config
}

type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint string
}

// removeAll deletes every path with del and joins the failures.
func removeAll(ctx context.Context, paths []string, del func(context.Context, string) error) error {
	var errs []error
	for _, p := range paths {
		if err := del(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func joinURI(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func cutURI(base, uri string) (string, bool) {
	path, ok := strings.CutPrefix(uri, strings.TrimRight(base, "/")+"/")
	if !ok || path == "" {
		return "", false
	}
	return path, true
}
