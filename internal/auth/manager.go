// Package auth owns the signed-in session: sign-in with automatic
// provisioning, passive restoration, sign-out and role checks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"wayleave/internal/access"
	"wayleave/internal/audit"
	"wayleave/internal/backend"
	"wayleave/internal/kv"
	"wayleave/internal/model"
	"wayleave/internal/monitoring"
	"wayleave/internal/notifications"
	"wayleave/internal/state"
	"wayleave/internal/util"
	"wayleave/internal/validator"
)

type State int

const (
	StateSignedOut State = iota
	StateAuthenticating
	// StateResolved means the profile was loaded; the role may still be absent.
	StateResolved
	// StateDegraded means a role-less identity was installed because the
	// profile could not be read or does not exist yet.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateAuthenticating:
		return "authenticating"
	case StateResolved:
		return "authenticated"
	case StateDegraded:
		return "authenticated_degraded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Authenticated() bool {
	return s == StateResolved || s == StateDegraded
}

const DefaultTokenKey = "authSession"

const (
	MsgInvalidCredentials   = "Invalid CPR or password."
	MsgConfirmationRequired = "Your account was created but must be confirmed before you can sign in."
	MsgPendingConfirmation  = "Sign-in is pending confirmation. Please try again later."
	MsgNotConfigured        = "The application is not connected to a backend."
	MsgTooManyAttempts      = "Too many login attempts. Please try again later."
	MsgProfileUnavailable   = "Your profile could not be loaded. You are signed in with limited access."
)

// LoginResult is what Login reports to its caller. Error is user-facing.
type LoginResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func failed(msg string) LoginResult {
	return LoginResult{Success: false, Error: msg}
}

type Manager struct {
	logger      *slog.Logger
	identity    backend.Identity
	data        backend.DataStore
	bus         *notifications.Bus
	store       kv.Store
	validator   *validator.Validator
	limiter     Limiter
	telemetry   monitoring.Telemetry
	auditor     *audit.Auditor
	loginDomain string
	tokenKey    string

	current *state.Cell[util.Optional[model.Session]]
	phase   *state.Cell[State]

	mu          sync.Mutex
	authSession util.Optional[backend.AuthSession]

	// loggingIn is set for the duration of Login. Session events that arrive
	// meanwhile belong to that call and are ignored by the observer.
	loggingIn     atomic.Bool
	stopObserving func()
}

type Option func(*Manager)

func WithLimiter(l Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

func WithTelemetry(t monitoring.Telemetry) Option {
	return func(m *Manager) {
		if t != nil {
			m.telemetry = t
		}
	}
}

func WithAuditor(a *audit.Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

func WithLoginDomain(domain string) Option {
	return func(m *Manager) {
		if domain != "" {
			m.loginDomain = domain
		}
	}
}

// WithTokenKey sets the kv key holding the access token used for passive
// restoration.
func WithTokenKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.tokenKey = key
		}
	}
}

// NewManager creates a signed-out manager. A nil identity or data store
// leaves it unconfigured: every operation fails fast without a network call.
func NewManager(logger *slog.Logger, identity backend.Identity, data backend.DataStore, bus *notifications.Bus, store kv.Store, opts ...Option) *Manager {
	if store == nil {
		store = kv.NewMemoryStore()
	}
	m := &Manager{
		logger:      logger,
		identity:    identity,
		data:        data,
		bus:         bus,
		store:       store,
		validator:   validator.New(),
		telemetry:   monitoring.Disabled(),
		loginDomain: model.DefaultLoginDomain,
		tokenKey:    DefaultTokenKey,
		current:     state.NewCell(util.None[model.Session]()),
		phase:       state.NewCell(StateSignedOut),
	}
	for _, opt := range opts {
		opt(m)
	}

	if identity != nil {
		m.stopObserving = identity.OnSessionChange(m.handleSessionEvent)
	}
	return m
}

func (m *Manager) configured() bool {
	return m.identity != nil && m.data != nil
}

// Current returns the signed-in session, if any.
func (m *Manager) Current() util.Optional[model.Session] {
	return m.current.Get()
}

func (m *Manager) State() State {
	return m.phase.Get()
}

func (m *Manager) Subscribe(fn func(util.Optional[model.Session])) func() {
	return m.current.Subscribe(fn)
}

func (m *Manager) SubscribeState(fn func(State)) func() {
	return m.phase.Subscribe(fn)
}

// HasRole reports whether the current user holds any of roles. Users without
// a role never match.
func (m *Manager) HasRole(roles ...model.Role) bool {
	s, ok := m.current.Get().Get()
	if !ok {
		return false
	}
	return access.HasRole(s.Role, roles...)
}

// Login signs the user in, provisioning a new identity and profile when the
// credentials are unknown. Failures are reported in the result and as an
// error toast; Login never returns an error.
func (m *Manager) Login(ctx context.Context, cpr, password string) LoginResult {
	cpr = strings.TrimSpace(cpr)

	if !m.configured() {
		m.telemetry.RecordLoginAttempt(ctx, monitoring.LoginNotConfigured)
		return m.reject(failed(MsgNotConfigured))
	}

	if err := m.validator.Validate(validator.LoginInput{CPR: cpr, Password: password}); err != nil {
		m.telemetry.RecordLoginAttempt(ctx, monitoring.LoginValidationError)
		return m.reject(failed(validator.Message(err)))
	}

	if m.limiter != nil {
		if err := m.limiter.CheckLogin(ctx, cpr); err != nil {
			if errors.Is(err, ErrTooManyAttempts) {
				m.telemetry.RecordLoginAttempt(ctx, monitoring.LoginRateLimited)
				return m.reject(failed(MsgTooManyAttempts))
			}
			m.logger.Warn("Login limiter unavailable", "error", err)
		}
	}

	m.loggingIn.Store(true)
	defer m.loggingIn.Store(false)

	m.phase.Set(StateAuthenticating)

	result, outcome := m.signIn(ctx, cpr, password)
	m.telemetry.RecordLoginAttempt(ctx, outcome)

	if !result.Success {
		m.discard(ctx)
		return m.reject(result)
	}

	if m.limiter != nil {
		if err := m.limiter.ResetAttempts(ctx, cpr); err != nil {
			m.logger.Warn("Failed to reset login attempts", "error", err)
		}
	}
	return result
}

func (m *Manager) reject(result LoginResult) LoginResult {
	m.bus.Error(result.Error)
	return result
}

func (m *Manager) signIn(ctx context.Context, cpr, password string) (LoginResult, string) {
	login := model.LoginFromCPR(cpr, m.loginDomain)

	res, err := m.identity.SignIn(ctx, login, password)
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		return m.provision(ctx, login, cpr, password)
	case err != nil:
		m.logger.Warn("Sign-in failed", "cpr", cpr, "error", err)
		return failed(err.Error()), monitoring.LoginBackendError
	case res.User == nil || res.Session == nil:
		return failed(MsgPendingConfirmation), monitoring.LoginPendingConfirmation
	}

	session := m.establish(ctx, *res.User, *res.Session)
	m.bus.Success(fmt.Sprintf("Welcome back, %s!", session.DisplayName))
	m.auditor.Record(ctx, audit.LogEventParam{OwnerID: session.UserID, Type: audit.AuditLogEventTypeUserLogin})
	m.logger.Info("User signed in", "user_id", session.UserID, "role", session.Role.String())
	return LoginResult{Success: true}, monitoring.LoginSuccess
}

// provision creates the identity and its role-less profile for credentials
// the identity service does not know.
func (m *Manager) provision(ctx context.Context, login, cpr, password string) (LoginResult, string) {
	res, err := m.identity.SignUp(ctx, login, password)
	switch {
	case errors.Is(err, backend.ErrAlreadyRegistered):
		return failed(MsgInvalidCredentials), monitoring.LoginInvalidCredentials
	case err != nil:
		m.logger.Warn("Provisioning sign-up failed", "cpr", cpr, "error", err)
		return failed(err.Error()), monitoring.LoginBackendError
	case res.User == nil:
		return failed(MsgPendingConfirmation), monitoring.LoginPendingConfirmation
	case res.Session == nil:
		return failed(MsgConfirmationRequired), monitoring.LoginPendingConfirmation
	}

	row, err := m.identity.ProvisionProfile(ctx, *res.Session, backend.ProvisionParams{CPR: cpr})
	if err != nil {
		m.logger.Error("Failed to provision profile", "user_id", res.User.ID, "error", err)
		if signOutErr := m.identity.SignOut(ctx, *res.Session); signOutErr != nil {
			m.logger.Warn("Failed to sign out unprovisioned identity", "user_id", res.User.ID, "error", signOutErr)
		}
		return failed(fmt.Sprintf("Account setup failed: %s", err.Error())), monitoring.LoginBackendError
	}

	profile, err := ProfileFromRow(row)
	if err != nil {
		profile = model.Profile{ID: res.User.ID, CPR: cpr}
	}

	m.saveAuthSession(ctx, *res.Session)
	session := model.SessionFromProfile(profile)
	m.current.Set(util.Some(session))
	m.phase.Set(StateResolved)

	m.bus.Success("Welcome! Your account has been created and is awaiting role assignment.")
	m.auditor.Record(ctx, audit.LogEventParam{OwnerID: session.UserID, Type: audit.AuditLogEventTypeUserProvision, Data: map[string]any{"cpr": cpr}})
	m.logger.Info("Provisioned new user", "user_id", session.UserID)
	return LoginResult{Success: true}, monitoring.LoginProvisioned
}

// establish installs the session for user, resolving its profile. A missing
// profile or a failed read installs a role-less identity instead.
func (m *Manager) establish(ctx context.Context, user backend.AuthUser, auth backend.AuthSession) model.Session {
	m.saveAuthSession(ctx, auth)

	profile, err := m.fetchProfile(ctx, user.ID)
	var (
		session model.Session
		phase   State
	)
	switch {
	case err == nil:
		session, phase = model.SessionFromProfile(profile), StateResolved
	case errors.Is(err, backend.ErrNotFound):
		session, phase = syntheticSession(user), StateDegraded
		m.logger.Info("No profile yet; awaiting role assignment", "user_id", user.ID)
	default:
		session, phase = syntheticSession(user), StateDegraded
		m.logger.Error("Failed to load profile", "user_id", user.ID, "error", err)
		m.bus.Error(MsgProfileUnavailable)
	}

	m.current.Set(util.Some(session))
	m.phase.Set(phase)
	return session
}

func (m *Manager) fetchProfile(ctx context.Context, userID string) (model.Profile, error) {
	rows, err := m.data.Select(ctx, backend.TableProfiles, backend.Query{
		Filters: []backend.Filter{{Column: "id", Value: userID}},
	})
	if err != nil {
		return model.Profile{}, err
	}
	if len(rows) == 0 {
		return model.Profile{}, backend.ErrNotFound
	}
	return ProfileFromRow(rows[0])
}

// Restore resumes a session from the persisted access token without going
// through Login. It returns the resulting state.
func (m *Manager) Restore(ctx context.Context) State {
	if !m.configured() {
		return m.phase.Get()
	}

	token, err := m.store.Get(ctx, m.tokenKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			m.logger.Warn("Failed to read persisted session", "error", err)
		}
		return m.phase.Get()
	}

	res, err := m.identity.RestoreSession(ctx, string(token))
	if err != nil || res.User == nil || res.Session == nil {
		if err == nil || errors.Is(err, backend.ErrInvalidSession) {
			m.logger.Info("Persisted session is no longer valid")
			m.forgetToken(ctx)
		} else {
			m.logger.Warn("Failed to restore session", "error", err)
		}
		return m.phase.Get()
	}

	session := m.establish(ctx, *res.User, *res.Session)
	m.logger.Info("Session restored", "user_id", session.UserID)
	return m.phase.Get()
}

// Logout asks the identity service to end the session. On failure an error
// toast is shown and the local session stays until the service itself
// reports the sign-out.
func (m *Manager) Logout(ctx context.Context) {
	if !m.configured() {
		m.bus.Error(MsgNotConfigured)
		return
	}

	auth, ok := m.loadAuthSession().Get()
	if !ok {
		m.clear(ctx)
		return
	}
	userID := auth.UserID

	if err := m.identity.SignOut(ctx, auth); err != nil && !errors.Is(err, backend.ErrInvalidSession) {
		m.logger.Error("Sign-out failed", "user_id", userID, "error", err)
		m.bus.Error(fmt.Sprintf("Sign out failed: %s", err.Error()))
		return
	}

	m.clear(ctx)
	m.auditor.Record(ctx, audit.LogEventParam{OwnerID: userID, Type: audit.AuditLogEventTypeUserLogout})
	m.logger.Info("User signed out", "user_id", userID)
}

func (m *Manager) handleSessionEvent(ev backend.SessionEvent) {
	if m.loggingIn.Load() {
		m.logger.Debug("Ignoring session event during login", "type", ev.Type)
		return
	}

	ctx := context.Background()
	switch ev.Type {
	case backend.SessionEventSignedOut:
		if !m.ownsEvent(ev) {
			return
		}
		m.clear(ctx)
		m.logger.Info("Session ended by identity service")

	case backend.SessionEventSignedIn, backend.SessionEventRestored:
		if ev.User == nil || ev.Session == nil {
			return
		}
		if s, ok := m.current.Get().Get(); ok && s.UserID == ev.User.ID {
			return
		}
		m.establish(ctx, *ev.User, *ev.Session)
	}
}

// ownsEvent reports whether a sign-out event concerns the local session.
func (m *Manager) ownsEvent(ev backend.SessionEvent) bool {
	auth, ok := m.loadAuthSession().Get()
	if !ok {
		return m.current.Get().IsSet
	}
	if ev.Session != nil && ev.Session.AccessToken != "" {
		return ev.Session.AccessToken == auth.AccessToken
	}
	if ev.User != nil && ev.User.ID != "" {
		return ev.User.ID == auth.UserID
	}
	if ev.Session != nil && ev.Session.UserID != "" {
		return ev.Session.UserID == auth.UserID
	}
	return true
}

// discard ends whatever session was installed before a failed login, so a
// failed attempt always leaves the manager signed out.
func (m *Manager) discard(ctx context.Context) {
	if auth, ok := m.loadAuthSession().Get(); ok {
		if err := m.identity.SignOut(ctx, auth); err != nil && !errors.Is(err, backend.ErrInvalidSession) {
			m.logger.Warn("Failed to end previous session", "user_id", auth.UserID, "error", err)
		}
	}
	m.clear(ctx)
}

func (m *Manager) clear(ctx context.Context) {
	m.mu.Lock()
	m.authSession = util.None[backend.AuthSession]()
	m.mu.Unlock()

	m.forgetToken(ctx)
	m.current.Set(util.None[model.Session]())
	m.phase.Set(StateSignedOut)
}

func (m *Manager) saveAuthSession(ctx context.Context, auth backend.AuthSession) {
	m.mu.Lock()
	m.authSession = util.Some(auth)
	m.mu.Unlock()

	if err := m.store.Set(ctx, m.tokenKey, []byte(auth.AccessToken)); err != nil {
		m.logger.Warn("Failed to persist session token", "error", err)
	}
}

func (m *Manager) loadAuthSession() util.Optional[backend.AuthSession] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authSession
}

func (m *Manager) forgetToken(ctx context.Context) {
	if err := m.store.Delete(ctx, m.tokenKey); err != nil {
		m.logger.Warn("Failed to delete session token", "error", err)
	}
}

// Close stops observing the identity service.
func (m *Manager) Close() {
	if m.stopObserving != nil {
		m.stopObserving()
	}
}
