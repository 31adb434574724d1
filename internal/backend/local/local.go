// Package local is an in-process implementation of the backend contracts.
// Tables, identities and sessions are persisted through a kv.Store so a
// demo deployment survives restarts when the store is durable.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"wayleave/internal/backend"
	"wayleave/internal/kv"
	"wayleave/internal/storage"
)

var ErrNotConfirmed = errors.New("login not confirmed")

const (
	DefaultSessionTTL = 24 * time.Hour
	keyPrefix         = "local:"
	keyIdentities     = keyPrefix + "identities"
	keySessions       = keyPrefix + "sessions"
)

type identity struct {
	ID        string    `json:"id"`
	Login     string    `json:"login"`
	Hash      []byte    `json:"hash"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"createdAt"`
}

func (i identity) user() *backend.AuthUser {
	return &backend.AuthUser{ID: i.ID, Login: i.Login, CreatedAt: i.CreatedAt}
}

// Backend implements backend.Identity, backend.DataStore and
// backend.AttachmentStore.
type Backend struct {
	logger              *slog.Logger
	store               kv.Store
	files               backend.AttachmentStore
	now                 func() time.Time
	sessionTTL          time.Duration
	requireConfirmation bool

	mu         sync.Mutex
	identities map[string]identity // by login
	sessions   map[string]backend.AuthSession
	tables     map[string][]backend.Row

	observers backend.SessionObservers
}

var (
	_ backend.Identity        = (*Backend)(nil)
	_ backend.DataStore       = (*Backend)(nil)
	_ backend.AttachmentStore = (*Backend)(nil)
)

type Option func(*Backend)

// WithConfirmation makes SignUp return a user without a session until the
// identity is confirmed with Confirm.
func WithConfirmation(required bool) Option {
	return func(b *Backend) { b.requireConfirmation = required }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.sessionTTL = ttl
		}
	}
}

func WithAttachmentStore(files backend.AttachmentStore) Option {
	return func(b *Backend) {
		if files != nil {
			b.files = files
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a backend and loads any previously persisted state from store.
func New(ctx context.Context, logger *slog.Logger, store kv.Store, opts ...Option) (*Backend, error) {
	if store == nil {
		store = kv.NewMemoryStore()
	}
	b := &Backend{
		logger:     logger,
		store:      store,
		files:      storage.NewMemoryStorage(""),
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
		identities: make(map[string]identity),
		sessions:   make(map[string]backend.AuthSession),
		tables:     make(map[string][]backend.Row),
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.loadJSON(ctx, keyIdentities, &b.identities); err != nil {
		return nil, err
	}
	if err := b.loadJSON(ctx, keySessions, &b.sessions); err != nil {
		return nil, err
	}
	for _, table := range []string{backend.TableProfiles, backend.TableRecords, backend.TableAuditLog} {
		var rows []backend.Row
		if err := b.loadJSON(ctx, tableKey(table), &rows); err != nil {
			return nil, err
		}
		if rows != nil {
			b.tables[table] = rows
		}
	}

	return b, nil
}

func tableKey(table string) string {
	return keyPrefix + "table:" + table
}

func (b *Backend) loadJSON(ctx context.Context, key string, dst any) error {
	data, err := b.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// saveJSON must be called with b.mu held.
func (b *Backend) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := b.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

func (b *Backend) OnSessionChange(handler func(backend.SessionEvent)) func() {
	return b.observers.Add(handler)
}

func (b *Backend) Upload(ctx context.Context, path string, content io.Reader, contentType string) error {
	return b.files.Upload(ctx, path, content, contentType)
}

func (b *Backend) PublicURI(path string) string {
	return b.files.PublicURI(path)
}

func (b *Backend) PathOf(uri string) (string, bool) {
	return b.files.PathOf(uri)
}

func (b *Backend) Remove(ctx context.Context, paths []string) error {
	return b.files.Remove(ctx, paths)
}
