// Package backendmock provides testify mocks of the backend contracts.
package backendmock

import (
	"context"
	"io"

	"wayleave/internal/backend"

	"github.com/stretchr/testify/mock"
)

type Identity struct {
	mock.Mock
	observers backend.SessionObservers
}

var _ backend.Identity = (*Identity)(nil)

func (m *Identity) SignIn(ctx context.Context, login, secret string) (backend.AuthResult, error) {
	args := m.Called(ctx, login, secret)
	return args.Get(0).(backend.AuthResult), args.Error(1)
}

func (m *Identity) SignUp(ctx context.Context, login, secret string) (backend.AuthResult, error) {
	args := m.Called(ctx, login, secret)
	return args.Get(0).(backend.AuthResult), args.Error(1)
}

func (m *Identity) ProvisionProfile(ctx context.Context, session backend.AuthSession, params backend.ProvisionParams) (backend.Row, error) {
	args := m.Called(ctx, session, params)
	row, _ := args.Get(0).(backend.Row)
	return row, args.Error(1)
}

func (m *Identity) SignOut(ctx context.Context, session backend.AuthSession) error {
	return m.Called(ctx, session).Error(0)
}

func (m *Identity) RestoreSession(ctx context.Context, accessToken string) (backend.AuthResult, error) {
	args := m.Called(ctx, accessToken)
	return args.Get(0).(backend.AuthResult), args.Error(1)
}

// OnSessionChange is not mocked; handlers are reachable through Emit.
func (m *Identity) OnSessionChange(handler func(backend.SessionEvent)) func() {
	return m.observers.Add(handler)
}

// Emit delivers ev to the registered handlers.
func (m *Identity) Emit(ev backend.SessionEvent) {
	m.observers.Emit(ev)
}

type DataStore struct {
	mock.Mock
}

var _ backend.DataStore = (*DataStore)(nil)

func (m *DataStore) Select(ctx context.Context, table string, query backend.Query) ([]backend.Row, error) {
	args := m.Called(ctx, table, query)
	rows, _ := args.Get(0).([]backend.Row)
	return rows, args.Error(1)
}

func (m *DataStore) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	args := m.Called(ctx, table, row)
	r, _ := args.Get(0).(backend.Row)
	return r, args.Error(1)
}

func (m *DataStore) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	args := m.Called(ctx, table, id, patch)
	r, _ := args.Get(0).(backend.Row)
	return r, args.Error(1)
}

func (m *DataStore) Delete(ctx context.Context, table, id string) error {
	return m.Called(ctx, table, id).Error(0)
}

type AttachmentStore struct {
	mock.Mock
}

var _ backend.AttachmentStore = (*AttachmentStore)(nil)

func (m *AttachmentStore) Upload(ctx context.Context, path string, content io.Reader, contentType string) error {
	return m.Called(ctx, path, content, contentType).Error(0)
}

func (m *AttachmentStore) PublicURI(path string) string {
	return m.Called(path).String(0)
}

func (m *AttachmentStore) PathOf(uri string) (string, bool) {
	args := m.Called(uri)
	return args.String(0), args.Bool(1)
}

func (m *AttachmentStore) Remove(ctx context.Context, paths []string) error {
	return m.Called(ctx, paths).Error(0)
}
