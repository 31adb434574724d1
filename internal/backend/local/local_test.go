package local

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"wayleave/internal/backend"
	"wayleave/internal/kv"
	"wayleave/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, store kv.Store, opts ...Option) *Backend {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := New(context.Background(), logger, store, opts...)
	require.NoError(t, err)
	return b
}

type eventRecorder struct {
	mu     sync.Mutex
	events []backend.SessionEventType
}

func (r *eventRecorder) handle(ev backend.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Type)
}

func (r *eventRecorder) types() []backend.SessionEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]backend.SessionEventType{}, r.events...)
}

func TestSignUpSignInSignOut(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	rec := &eventRecorder{}
	cancel := b.OnSessionChange(rec.handle)
	defer cancel()

	_, err := b.SignIn(ctx, "555555555@wayleave.local", "secret")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	res, err := b.SignUp(ctx, "555555555@wayleave.local", "secret")
	require.NoError(t, err)
	require.NotNil(t, res.User)
	require.NotNil(t, res.Session)

	_, err = b.SignUp(ctx, "555555555@WAYLEAVE.local", "other")
	assert.ErrorIs(t, err, backend.ErrAlreadyRegistered)

	_, err = b.SignIn(ctx, "555555555@wayleave.local", "wrong")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	res, err = b.SignIn(ctx, "555555555@wayleave.local", "secret")
	require.NoError(t, err)

	restored, err := b.RestoreSession(ctx, res.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, restored.User.ID)

	require.NoError(t, b.SignOut(ctx, *res.Session))
	_, err = b.RestoreSession(ctx, res.Session.AccessToken)
	assert.ErrorIs(t, err, backend.ErrInvalidSession)
	assert.ErrorIs(t, b.SignOut(ctx, *res.Session), backend.ErrInvalidSession)

	assert.Equal(t, []backend.SessionEventType{
		backend.SessionEventSignedIn,
		backend.SessionEventSignedIn,
		backend.SessionEventSignedOut,
	}, rec.types())
}

func TestSignUpWithConfirmationReturnsNoSession(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil, WithConfirmation(true))

	res, err := b.SignUp(ctx, "111111111@wayleave.local", "pw")
	require.NoError(t, err)
	assert.NotNil(t, res.User)
	assert.Nil(t, res.Session)

	_, err = b.SignIn(ctx, "111111111@wayleave.local", "pw")
	assert.ErrorIs(t, err, ErrNotConfirmed)

	require.NoError(t, b.Confirm(ctx, "111111111@wayleave.local"))
	_, err = b.SignIn(ctx, "111111111@wayleave.local", "pw")
	assert.NoError(t, err)
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newTestBackend(t, nil, WithSessionTTL(time.Hour), WithClock(func() time.Time { return now }))

	res, err := b.SignUp(ctx, "222222222@wayleave.local", "pw")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = b.RestoreSession(ctx, res.Session.AccessToken)
	assert.ErrorIs(t, err, backend.ErrInvalidSession)
}

func TestProvisionProfile(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)

	res, err := b.SignUp(ctx, "333333333@wayleave.local", "pw")
	require.NoError(t, err)

	row, err := b.ProvisionProfile(ctx, *res.Session, backend.ProvisionParams{CPR: "333333333", Name: "New"})
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, row["id"])
	assert.Nil(t, row["role"])

	again, err := b.ProvisionProfile(ctx, *res.Session, backend.ProvisionParams{CPR: "333333333"})
	require.NoError(t, err)
	assert.Equal(t, "New", again["name"])

	_, err = b.ProvisionProfile(ctx, backend.AuthSession{AccessToken: "bogus"}, backend.ProvisionParams{})
	assert.ErrorIs(t, err, backend.ErrInvalidSession)
}

func TestRevokeUserEmitsSignedOut(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	res, err := b.SignUp(ctx, "444444444@wayleave.local", "pw")
	require.NoError(t, err)

	rec := &eventRecorder{}
	cancel := b.OnSessionChange(rec.handle)
	require.NoError(t, b.RevokeUser(ctx, res.User.ID))
	cancel()
	require.NoError(t, b.RevokeUser(ctx, res.User.ID))

	assert.Equal(t, []backend.SessionEventType{backend.SessionEventSignedOut}, rec.types())
}

func TestDataStoreCRUD(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)

	first, err := b.Insert(ctx, backend.TableRecords, backend.Row{"wayleave_number": "WL-1", "status": "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, first["id"])
	assert.NotNil(t, first["created_at"])

	time.Sleep(2 * time.Millisecond)
	second, err := b.Insert(ctx, backend.TableRecords, backend.Row{"id": "fixed", "wayleave_number": "WL-2", "status": "b"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", second["id"])

	_, err = b.Insert(ctx, backend.TableRecords, backend.Row{"id": "fixed"})
	assert.Error(t, err)

	rows, err := b.Select(ctx, backend.TableRecords, backend.Query{OrderBy: "created_at", Descending: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "WL-2", rows[0]["wayleave_number"])

	rows, err = b.Select(ctx, backend.TableRecords, backend.Query{Filters: []backend.Filter{{Column: "status", Value: "a"}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "WL-1", rows[0]["wayleave_number"])

	updated, err := b.Update(ctx, backend.TableRecords, "fixed", backend.Row{"status": "c", "id": "hijack"})
	require.NoError(t, err)
	assert.Equal(t, "c", updated["status"])
	assert.Equal(t, "fixed", updated["id"])

	_, err = b.Update(ctx, backend.TableRecords, "missing", backend.Row{"status": "x"})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, b.Delete(ctx, backend.TableRecords, "fixed"))
	assert.ErrorIs(t, b.Delete(ctx, backend.TableRecords, "fixed"), backend.ErrNotFound)

	rows, err = b.Select(ctx, backend.TableRecords, backend.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStatePersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	b := newTestBackend(t, store)
	require.NoError(t, b.SeedDemo(ctx, model.DefaultLoginDomain))
	res, err := b.SignIn(ctx, model.LoginFromCPR("123456789", ""), "admin")
	require.NoError(t, err)

	reopened := newTestBackend(t, store)
	restored, err := reopened.RestoreSession(ctx, res.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, restored.User.ID)

	rows, err := reopened.Select(ctx, backend.TableRecords, backend.Query{OrderBy: "created_at", Descending: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "WL-2024-001", rows[0]["wayleave_number"])
	assert.Equal(t, "WL-2024-003", rows[2]["wayleave_number"])
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)
	require.NoError(t, b.SeedDemo(ctx, ""))
	require.NoError(t, b.SeedDemo(ctx, ""))

	profiles, err := b.Select(ctx, backend.TableProfiles, backend.Query{OrderBy: "name"})
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "Admin User", profiles[0]["name"])
	assert.Equal(t, string(model.RoleAdmin), profiles[0]["role"])

	for _, u := range DemoUsers {
		_, err := b.SignIn(ctx, model.LoginFromCPR(u.CPR, ""), u.Password)
		assert.NoError(t, err, u.CPR)
	}

	records, err := b.Select(ctx, backend.TableRecords, backend.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestAttachmentsDelegateToStore(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, nil)

	path := backend.AttachmentPath("r1", "a.txt")
	require.NoError(t, b.Upload(ctx, path, strings.NewReader("hello"), "text/plain"))

	uri := b.PublicURI(path)
	got, ok := b.PathOf(uri)
	require.True(t, ok)
	assert.Equal(t, path, got)

	assert.NoError(t, b.Remove(ctx, []string{path}))
	assert.Error(t, b.Remove(ctx, []string{path}))
}
