package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"wayleave/internal/backend"
	"wayleave/internal/backend/backendmock"
	"wayleave/internal/backend/local"
	"wayleave/internal/kv"
	"wayleave/internal/model"
	"wayleave/internal/notifications"
	"wayleave/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticSession struct {
	session util.Optional[model.Session]
}

func (s *staticSession) Current() util.Optional[model.Session] {
	return s.session
}

func sessionWithRole(role util.Optional[model.Role]) *staticSession {
	return &staticSession{session: util.Some(model.Session{UserID: "admin-1", CPR: "123456789", DisplayName: "Admin User", Role: role})}
}

type mirrorMock struct {
	mock.Mock
}

func (m *mirrorMock) SyncRole(ctx context.Context, userID string, previous, next util.Optional[model.Role]) error {
	return m.Called(ctx, userID, previous, next).Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBus(t *testing.T) *notifications.Bus {
	t.Helper()
	bus := notifications.NewBus(context.Background(), testLogger(), nil, notifications.WithToastTTL(time.Minute))
	t.Cleanup(bus.Close)
	return bus
}

func lastToast(t *testing.T, bus *notifications.Bus) notifications.Toast {
	t.Helper()
	toasts := bus.Toasts()
	require.NotEmpty(t, toasts)
	return toasts[len(toasts)-1]
}

func seededBackend(t *testing.T) *local.Backend {
	t.Helper()
	ctx := context.Background()
	b, err := local.New(ctx, testLogger(), kv.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, b.SeedDemo(ctx, model.DefaultLoginDomain))

	res, err := b.SignUp(ctx, "555666777@"+model.DefaultLoginDomain, "secret")
	require.NoError(t, err)
	_, err = b.ProvisionProfile(ctx, *res.Session, backend.ProvisionParams{CPR: "555666777", Name: "New Starter"})
	require.NoError(t, err)
	return b
}

func userByCPR(t *testing.T, s *Service, cpr string) model.Profile {
	t.Helper()
	for _, u := range s.Users() {
		if u.CPR == cpr {
			return u
		}
	}
	t.Fatalf("no user with cpr %s", cpr)
	return model.Profile{}
}

func TestLoadUsersOrderedByName(t *testing.T) {
	s := NewService(testLogger(), seededBackend(t), newBus(t), sessionWithRole(util.Some(model.RoleAdmin)))

	require.NoError(t, s.LoadUsers(context.Background()))

	var names []string
	for _, u := range s.Users() {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Admin User", "Consultant", "EDD Planner", "New Starter"}, names)
	assert.Equal(t, 1, s.PendingCount())
	assert.False(t, s.Loading())
}

func TestLoadUsersRequiresAdmin(t *testing.T) {
	for name, role := range map[string]util.Optional[model.Role]{
		"planner":    util.Some(model.RolePlanner),
		"unassigned": util.None[model.Role](),
	} {
		t.Run(name, func(t *testing.T) {
			data := &backendmock.DataStore{}
			bus := newBus(t)
			s := NewService(testLogger(), data, bus, sessionWithRole(role))

			assert.ErrorIs(t, s.LoadUsers(context.Background()), ErrForbidden)
			assert.Equal(t, MsgForbidden, lastToast(t, bus).Message)
			data.AssertNotCalled(t, "Select", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateUserRoleAssignsAndMirrors(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	mirror := &mirrorMock{}
	s := NewService(testLogger(), seededBackend(t), bus, sessionWithRole(util.Some(model.RoleAdmin)), WithRoleMirror(mirror))
	require.NoError(t, s.LoadUsers(ctx))

	pending := userByCPR(t, s, "555666777")
	mirror.On("SyncRole", mock.Anything, pending.ID, util.None[model.Role](), util.Some(model.RoleReviewer)).Return(nil)

	require.NoError(t, s.UpdateUserRole(ctx, pending.ID, util.Some(model.Role("consultation team"))))

	updated := userByCPR(t, s, "555666777")
	assert.Equal(t, util.Some(model.RoleReviewer), updated.Role)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, "User role updated successfully!", lastToast(t, bus).Message)
	mirror.AssertExpectations(t)
}

func TestUpdateUserRoleClearsRole(t *testing.T) {
	ctx := context.Background()
	s := NewService(testLogger(), seededBackend(t), newBus(t), sessionWithRole(util.Some(model.RoleAdmin)))
	require.NoError(t, s.LoadUsers(ctx))

	planner := userByCPR(t, s, "987654321")
	require.NoError(t, s.UpdateUserRole(ctx, planner.ID, util.None[model.Role]()))

	assert.False(t, userByCPR(t, s, "987654321").Role.IsSet)
	assert.Equal(t, 2, s.PendingCount())
}

func TestUpdateUserRoleProtectsAdmins(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	mirror := &mirrorMock{}
	s := NewService(testLogger(), seededBackend(t), bus, sessionWithRole(util.Some(model.RoleAdmin)), WithRoleMirror(mirror))
	require.NoError(t, s.LoadUsers(ctx))

	admin := userByCPR(t, s, "123456789")
	err := s.UpdateUserRole(ctx, admin.ID, util.Some(model.RolePlanner))

	assert.ErrorIs(t, err, ErrProtectedRole)
	assert.Equal(t, MsgProtectedRole, lastToast(t, bus).Message)
	assert.Equal(t, util.Some(model.RoleAdmin), userByCPR(t, s, "123456789").Role)
	mirror.AssertNotCalled(t, "SyncRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateUserRoleRejectsUnknownRole(t *testing.T) {
	data := &backendmock.DataStore{}
	bus := newBus(t)
	s := NewService(testLogger(), data, bus, sessionWithRole(util.Some(model.RoleAdmin)))

	err := s.UpdateUserRole(context.Background(), "u1", util.Some(model.Role("Superuser")))

	require.Error(t, err)
	assert.Contains(t, lastToast(t, bus).Message, "must be one of")
	data.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateUserRoleMirrorFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	data := &backendmock.DataStore{}
	mirror := &mirrorMock{}
	bus := newBus(t)
	s := NewService(testLogger(), data, bus, sessionWithRole(util.Some(model.RoleAdmin)), WithRoleMirror(mirror))

	data.On("Select", mock.Anything, backend.TableProfiles, mock.Anything).
		Return([]backend.Row{{"id": "u1", "cpr": "555666777", "name": "New Starter", "role": nil}}, nil)
	data.On("Update", mock.Anything, backend.TableProfiles, "u1", backend.Row{"role": "EDD Planning"}).
		Return(backend.Row{"id": "u1", "cpr": "555666777", "name": "New Starter", "role": "EDD Planning"}, nil)
	mirror.On("SyncRole", mock.Anything, "u1", mock.Anything, mock.Anything).Return(errors.New("openfga unavailable"))

	require.NoError(t, s.UpdateUserRole(ctx, "u1", util.Some(model.RolePlanner)))
	assert.Equal(t, notifications.SeveritySuccess, lastToast(t, bus).Severity)
}

func TestUpdateUserRoleBackendFailure(t *testing.T) {
	data := &backendmock.DataStore{}
	bus := newBus(t)
	s := NewService(testLogger(), data, bus, sessionWithRole(util.Some(model.RoleAdmin)))

	data.On("Select", mock.Anything, backend.TableProfiles, mock.Anything).
		Return([]backend.Row{{"id": "u1", "cpr": "555666777", "role": nil}}, nil)
	data.On("Update", mock.Anything, backend.TableProfiles, "u1", mock.Anything).
		Return(nil, errors.New("permission denied for table profiles"))

	err := s.UpdateUserRole(context.Background(), "u1", util.Some(model.RolePlanner))

	require.Error(t, err)
	assert.Equal(t, "permission denied for table profiles", lastToast(t, bus).Message)
}
