package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalStorage struct {
	basePath string
	baseURL  string
}

func NewLocalStorage(basePath, publicBaseURL string) (*LocalStorage, error) {
	// Ensure base path exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if publicBaseURL == "" {
		publicBaseURL = "/files"
	}

	return &LocalStorage{
		basePath: basePath,
		baseURL:  publicBaseURL,
	}, nil
}

// resolve maps path into the base directory, rejecting escapes.
func (ls *LocalStorage) resolve(path string) (string, error) {
	absBasePath, err := filepath.Abs(ls.basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	absFullPath, err := filepath.Abs(filepath.Join(ls.basePath, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	if absFullPath == absBasePath || !strings.HasPrefix(absFullPath, absBasePath+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return absFullPath, nil
}

func (ls *LocalStorage) Upload(ctx context.Context, path string, content io.Reader, contentType string) error {
	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		os.Remove(fullPath) // Cleanup on error
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Retrieve opens a stored attachment for the file route.
func (ls *LocalStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := ls.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %w", err)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

func (ls *LocalStorage) PublicURI(path string) string {
	return joinURI(ls.baseURL, path)
}

func (ls *LocalStorage) PathOf(uri string) (string, bool) {
	return cutURI(ls.baseURL, uri)
}

func (ls *LocalStorage) Remove(ctx context.Context, paths []string) error {
	return removeAll(ctx, paths, ls.delete)
}

func (ls *LocalStorage) delete(_ context.Context, path string) error {
	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
