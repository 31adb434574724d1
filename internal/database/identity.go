package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wayleave/internal/backend"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const AuthEventsChannel = "auth_events"

var ErrNotConfirmed = errors.New("login not confirmed")

type IdentityConfig struct {
	JWTSecret           string
	SessionTTL          time.Duration
	RequireConfirmation bool
}

// Identity implements backend.Identity on the identities and auth_sessions
// tables. Sign-outs are broadcast on AuthEventsChannel so every process
// sharing the database observes them.
type Identity struct {
	db                  *Database
	logger              *slog.Logger
	signer              tokenSigner
	ttl                 time.Duration
	requireConfirmation bool
	now                 func() time.Time
	observers           backend.SessionObservers
}

var _ backend.Identity = (*Identity)(nil)

func NewIdentity(db *Database, logger *slog.Logger, cfg IdentityConfig) *Identity {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Identity{
		db:                  db,
		logger:              logger,
		signer:              tokenSigner{secret: []byte(cfg.JWTSecret)},
		ttl:                 ttl,
		requireConfirmation: cfg.RequireConfirmation,
		now:                 time.Now,
	}
}

type identityRow struct {
	ID           string
	Login        string
	PasswordHash string
	Confirmed    bool
	CreatedAt    time.Time
}

func (r identityRow) user() *backend.AuthUser {
	return &backend.AuthUser{ID: r.ID, Login: r.Login, CreatedAt: r.CreatedAt}
}

func (i *Identity) getIdentity(ctx context.Context, column string, value string) (identityRow, error) {
	var row identityRow
	err := i.db.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, login, password_hash, confirmed_at IS NOT NULL, created_at FROM identities WHERE %s = $1`, pgx.Identifier{column}.Sanitize()),
		value,
	).Scan(&row.ID, &row.Login, &row.PasswordHash, &row.Confirmed, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, backend.ErrNotFound
		}
		return row, fmt.Errorf("database: failed to scan identity: %w", err)
	}
	return row, nil
}

func (i *Identity) SignIn(ctx context.Context, login, secret string) (backend.AuthResult, error) {
	ident, err := i.getIdentity(ctx, "login", normalizeLogin(login))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return backend.AuthResult{}, backend.ErrInvalidCredentials
		}
		return backend.AuthResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(secret)) != nil {
		return backend.AuthResult{}, backend.ErrInvalidCredentials
	}
	if !ident.Confirmed {
		return backend.AuthResult{}, ErrNotConfirmed
	}

	session, err := i.openSession(ctx, ident)
	if err != nil {
		return backend.AuthResult{}, err
	}

	result := backend.AuthResult{User: ident.user(), Session: &session}
	i.observers.Emit(backend.SessionEvent{Type: backend.SessionEventSignedIn, User: result.User, Session: result.Session})
	return result, nil
}

func (i *Identity) SignUp(ctx context.Context, login, secret string) (backend.AuthResult, error) {
	login = normalizeLogin(login)
	if login == "" || secret == "" {
		return backend.AuthResult{}, errors.New("login and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return backend.AuthResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	ident := identityRow{
		ID:           uuid.NewString(),
		Login:        login,
		PasswordHash: string(hash),
		Confirmed:    !i.requireConfirmation,
		CreatedAt:    i.now().UTC(),
	}
	var confirmedAt *time.Time
	if ident.Confirmed {
		confirmedAt = &ident.CreatedAt
	}

	if _, err := i.db.Pool.Exec(ctx, `INSERT INTO identities (id, login, password_hash, confirmed_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ident.ID, ident.Login, ident.PasswordHash, confirmedAt, ident.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return backend.AuthResult{}, backend.ErrAlreadyRegistered
		}
		return backend.AuthResult{}, fmt.Errorf("database: failed to insert identity (login=%s): %w", login, err)
	}

	if !ident.Confirmed {
		return backend.AuthResult{User: ident.user()}, nil
	}

	session, err := i.openSession(ctx, ident)
	if err != nil {
		return backend.AuthResult{}, err
	}

	result := backend.AuthResult{User: ident.user(), Session: &session}
	i.observers.Emit(backend.SessionEvent{Type: backend.SessionEventSignedIn, User: result.User, Session: result.Session})
	return result, nil
}

// ProvisionProfile runs with the server's privileges: the profile row is
// created for the token's subject, never for a caller supplied id.
func (i *Identity) ProvisionProfile(ctx context.Context, session backend.AuthSession, params backend.ProvisionParams) (backend.Row, error) {
	claims, err := i.validate(ctx, session.AccessToken)
	if err != nil {
		return nil, err
	}

	rows, err := i.db.Pool.Query(ctx, `INSERT INTO profiles (id, cpr, name, role) VALUES ($1, $2, $3, NULL)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id RETURNING *`,
		claims.Subject, params.CPR, params.Name)
	if err != nil {
		return nil, fmt.Errorf("database: failed to provision profile (id=%s): %w", claims.Subject, err)
	}
	profile, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("database: failed to provision profile (id=%s): %w", claims.Subject, err)
	}
	return backend.Row(profile), nil
}

type authEvent struct {
	Type      backend.SessionEventType `json:"type"`
	UserID    string                   `json:"user_id"`
	SessionID string                   `json:"session_id"`
}

func (i *Identity) SignOut(ctx context.Context, session backend.AuthSession) error {
	claims, err := i.signer.parse(session.AccessToken, i.now())
	if err != nil {
		return backend.ErrInvalidSession
	}

	tag, err := i.db.Pool.Exec(ctx, `UPDATE auth_sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, i.now().UTC(), claims.ID)
	if err != nil {
		return fmt.Errorf("database: failed to revoke session (id=%s): %w", claims.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return backend.ErrInvalidSession
	}

	payload, err := json.Marshal(authEvent{Type: backend.SessionEventSignedOut, UserID: claims.Subject, SessionID: claims.ID})
	if err != nil {
		return err
	}
	if _, err := i.db.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, AuthEventsChannel, string(payload)); err != nil {
		// The session is revoked; only other listeners miss the event.
		i.logger.Warn("Failed to broadcast sign-out", "session_id", claims.ID, "error", err)
	}
	return nil
}

func (i *Identity) RestoreSession(ctx context.Context, accessToken string) (backend.AuthResult, error) {
	claims, err := i.validate(ctx, accessToken)
	if err != nil {
		return backend.AuthResult{}, err
	}

	ident, err := i.getIdentity(ctx, "id", claims.Subject)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return backend.AuthResult{}, backend.ErrInvalidSession
		}
		return backend.AuthResult{}, err
	}

	return backend.AuthResult{
		User: ident.user(),
		Session: &backend.AuthSession{
			AccessToken: accessToken,
			UserID:      ident.ID,
			ExpiresAt:   claims.ExpiresAt.Time,
		},
	}, nil
}

func (i *Identity) OnSessionChange(handler func(backend.SessionEvent)) func() {
	return i.observers.Add(handler)
}

// Listen forwards sign-out broadcasts to the session observers until ctx is
// done.
func (i *Identity) Listen(ctx context.Context) error {
	conn, err := i.db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{AuthEventsChannel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", AuthEventsChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to wait for notification: %w", err)
		}

		ev, err := decodeAuthEvent(notification.Payload)
		if err != nil {
			i.logger.Warn("Ignoring malformed auth event", "payload", notification.Payload, "error", err)
			continue
		}
		i.observers.Emit(ev)
	}
}

func decodeAuthEvent(payload string) (backend.SessionEvent, error) {
	var ev authEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return backend.SessionEvent{}, err
	}
	if ev.Type == "" || ev.UserID == "" {
		return backend.SessionEvent{}, errors.New("auth event is missing type or user")
	}
	return backend.SessionEvent{
		Type:    ev.Type,
		User:    &backend.AuthUser{ID: ev.UserID},
		Session: &backend.AuthSession{UserID: ev.UserID},
	}, nil
}

func (i *Identity) openSession(ctx context.Context, ident identityRow) (backend.AuthSession, error) {
	now := i.now().UTC()
	sessionID := uuid.NewString()
	expiresAt := now.Add(i.ttl)

	if _, err := i.db.Pool.Exec(ctx, `INSERT INTO auth_sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		sessionID, ident.ID, expiresAt, now); err != nil {
		return backend.AuthSession{}, fmt.Errorf("database: failed to insert session (user_id=%s): %w", ident.ID, err)
	}

	token, err := i.signer.issue(ident.ID, ident.Login, sessionID, now, i.ttl)
	if err != nil {
		return backend.AuthSession{}, err
	}
	return backend.AuthSession{AccessToken: token, UserID: ident.ID, ExpiresAt: expiresAt}, nil
}

// validate checks the token signature and that its session row is live.
func (i *Identity) validate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := i.signer.parse(accessToken, i.now())
	if err != nil {
		return nil, backend.ErrInvalidSession
	}

	var live bool
	err = i.db.Pool.QueryRow(ctx, `SELECT revoked_at IS NULL AND expires_at > $2 FROM auth_sessions WHERE id = $1`,
		claims.ID, i.now().UTC()).Scan(&live)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.ErrInvalidSession
		}
		return nil, fmt.Errorf("database: failed to scan session: %w", err)
	}
	if !live {
		return nil, backend.ErrInvalidSession
	}
	return claims, nil
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
