// Package admin lists provisioned users and assigns their roles.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"wayleave/internal/access"
	"wayleave/internal/audit"
	"wayleave/internal/auth"
	"wayleave/internal/backend"
	"wayleave/internal/model"
	"wayleave/internal/notifications"
	"wayleave/internal/state"
	"wayleave/internal/util"
	"wayleave/internal/validator"
)

var (
	ErrForbidden     = errors.New("only administrators can manage users")
	ErrProtectedRole = errors.New("an administrator's role cannot be changed")
	ErrUserNotFound  = errors.New("user not found")
)

const (
	MsgNotConfigured = "The application is not connected to a backend."
	MsgForbidden     = "Only administrators can manage users."
	MsgProtectedRole = "An administrator's role cannot be changed."
	MsgUserNotFound  = "User not found."
)

// SessionSource exposes the signed-in user.
type SessionSource interface {
	Current() util.Optional[model.Session]
}

// RoleMirror receives every successful role change.
type RoleMirror interface {
	SyncRole(ctx context.Context, userID string, previous, next util.Optional[model.Role]) error
}

type Service struct {
	logger    *slog.Logger
	data      backend.DataStore
	bus       *notifications.Bus
	sessions  SessionSource
	mirror    RoleMirror
	auditor   *audit.Auditor
	validator *validator.Validator

	users   *state.Cell[[]model.Profile]
	loading *state.Cell[bool]
}

type Option func(*Service)

func WithRoleMirror(m RoleMirror) Option {
	return func(s *Service) { s.mirror = m }
}

func WithAuditor(a *audit.Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func NewService(logger *slog.Logger, data backend.DataStore, bus *notifications.Bus, sessions SessionSource, opts ...Option) *Service {
	s := &Service{
		logger:    logger,
		data:      data,
		bus:       bus,
		sessions:  sessions,
		validator: validator.New(),
		users:     state.NewCell([]model.Profile{}),
		loading:   state.NewCell(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Users() []model.Profile {
	return slices.Clone(s.users.Get())
}

// PendingCount is the number of users still awaiting a role.
func (s *Service) PendingCount() int {
	n := 0
	for _, u := range s.users.Get() {
		if !u.Role.IsSet {
			n++
		}
	}
	return n
}

func (s *Service) Loading() bool {
	return s.loading.Get()
}

func (s *Service) Subscribe(fn func([]model.Profile)) func() {
	return s.users.Subscribe(fn)
}

// LoadUsers replaces the user list with every profile, ordered by name.
func (s *Service) LoadUsers(ctx context.Context) error {
	if _, err := s.admin(); err != nil {
		return err
	}

	s.loading.Set(true)
	defer s.loading.Set(false)

	rows, err := s.data.Select(ctx, backend.TableProfiles, backend.Query{OrderBy: "name"})
	if err != nil {
		s.logger.Error("Failed to fetch users", "error", err)
		return s.fail(fmt.Errorf("failed to fetch users: %w", err), err.Error())
	}

	users := make([]model.Profile, 0, len(rows))
	for _, row := range rows {
		p, err := auth.ProfileFromRow(row)
		if err != nil {
			s.logger.Warn("Skipping undecodable profile row", "error", err)
			continue
		}
		users = append(users, p)
	}
	s.users.Set(users)
	return nil
}

// UpdateUserRole assigns role to userID; an absent role clears it. Only an
// administrator may call it and an administrator's own role is immutable.
func (s *Service) UpdateUserRole(ctx context.Context, userID string, role util.Optional[model.Role]) error {
	session, err := s.admin()
	if err != nil {
		return err
	}

	if r, ok := role.Get(); ok {
		if canonical, err := model.ParseRole(r.String()); err == nil {
			role = util.Some(canonical)
		}
	}
	if err := s.validator.Validate(validator.RoleInput{Role: role.String()}); err != nil {
		return s.fail(err, validator.Message(err))
	}

	target, err := s.lookup(ctx, userID)
	if err != nil {
		return err
	}
	if !access.CanChangeRole(target.Role) {
		return s.fail(ErrProtectedRole, MsgProtectedRole)
	}

	var value any
	if r, ok := role.Get(); ok {
		value = r.String()
	}
	row, err := s.data.Update(ctx, backend.TableProfiles, userID, backend.Row{"role": value})
	if err != nil {
		s.logger.Error("Failed to update user role", "user_id", userID, "error", err)
		return s.fail(fmt.Errorf("failed to update user role: %w", err), err.Error())
	}

	updated, err := auth.ProfileFromRow(row)
	if err != nil {
		updated = target
		updated.Role = role
	}
	s.users.Update(func(users []model.Profile) []model.Profile {
		out := slices.Clone(users)
		for i := range out {
			if out[i].ID == userID {
				out[i] = updated
			}
		}
		return out
	})

	if s.mirror != nil {
		if err := s.mirror.SyncRole(ctx, userID, target.Role, updated.Role); err != nil {
			s.logger.Warn("Failed to mirror role change", "user_id", userID, "error", err)
		}
	}

	s.bus.Success("User role updated successfully!")
	s.auditor.Record(ctx, audit.LogEventParam{
		OwnerID: session.UserID,
		Type:    audit.AuditLogEventTypeUserRoleChange,
		Data: map[string]any{
			"user_id": userID,
			"from":    target.Role.OrNil(),
			"to":      updated.Role.OrNil(),
		},
	})
	s.logger.Info("User role updated", "user_id", userID, "role", updated.Role.String())
	return nil
}

func (s *Service) lookup(ctx context.Context, userID string) (model.Profile, error) {
	rows, err := s.data.Select(ctx, backend.TableProfiles, backend.Query{
		Filters: []backend.Filter{{Column: "id", Value: userID}},
	})
	if err != nil {
		return model.Profile{}, s.fail(fmt.Errorf("failed to fetch user: %w", err), err.Error())
	}
	if len(rows) == 0 {
		return model.Profile{}, s.fail(ErrUserNotFound, MsgUserNotFound)
	}
	p, err := auth.ProfileFromRow(rows[0])
	if err != nil {
		return model.Profile{}, s.fail(err, MsgUserNotFound)
	}
	return p, nil
}

func (s *Service) admin() (model.Session, error) {
	if s.data == nil {
		return model.Session{}, s.fail(backend.ErrNotConfigured, MsgNotConfigured)
	}
	if s.sessions == nil {
		return model.Session{}, s.fail(ErrForbidden, MsgForbidden)
	}
	session, ok := s.sessions.Current().Get()
	if !ok || !access.CanManageUsers(session.Role) {
		return model.Session{}, s.fail(ErrForbidden, MsgForbidden)
	}
	return session, nil
}

func (s *Service) fail(err error, msg string) error {
	s.bus.Error(msg)
	return err
}
