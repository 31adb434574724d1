package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

var ErrObjectNotFound = errors.New("object not found")

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStorage keeps attachments in process memory. The local backend uses
// it for demo and test deployments.
type MemoryStorage struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

func NewMemoryStorage(publicBaseURL string) *MemoryStorage {
	if publicBaseURL == "" {
		publicBaseURL = "memory://attachments"
	}
	return &MemoryStorage{
		baseURL: publicBaseURL,
		objects: make(map[string]memoryObject),
	}
}

func (m *MemoryStorage) Upload(_ context.Context, path string, content io.Reader, contentType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (m *MemoryStorage) Retrieve(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[path]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStorage) PublicURI(path string) string {
	return joinURI(m.baseURL, path)
}

func (m *MemoryStorage) PathOf(uri string) (string, bool) {
	return cutURI(m.baseURL, uri)
}

func (m *MemoryStorage) Remove(ctx context.Context, paths []string) error {
	return removeAll(ctx, paths, func(_ context.Context, path string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.objects[path]; !ok {
			return ErrObjectNotFound
		}
		delete(m.objects, path)
		return nil
	})
}

func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
