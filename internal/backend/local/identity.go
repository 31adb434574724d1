package local

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wayleave/internal/backend"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func (b *Backend) SignIn(ctx context.Context, login, secret string) (backend.AuthResult, error) {
	login = normalizeLogin(login)

	b.mu.Lock()
	ident, ok := b.identities[login]
	if !ok || bcrypt.CompareHashAndPassword(ident.Hash, []byte(secret)) != nil {
		b.mu.Unlock()
		return backend.AuthResult{}, backend.ErrInvalidCredentials
	}
	if !ident.Confirmed {
		b.mu.Unlock()
		return backend.AuthResult{}, ErrNotConfirmed
	}
	session, err := b.openSession(ctx, ident)
	b.mu.Unlock()
	if err != nil {
		return backend.AuthResult{}, err
	}

	result := backend.AuthResult{User: ident.user(), Session: &session}
	b.observers.Emit(backend.SessionEvent{Type: backend.SessionEventSignedIn, User: result.User, Session: result.Session})
	return result, nil
}

func (b *Backend) SignUp(ctx context.Context, login, secret string) (backend.AuthResult, error) {
	login = normalizeLogin(login)
	if login == "" || secret == "" {
		return backend.AuthResult{}, errors.New("login and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return backend.AuthResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	b.mu.Lock()
	if _, exists := b.identities[login]; exists {
		b.mu.Unlock()
		return backend.AuthResult{}, backend.ErrAlreadyRegistered
	}
	ident := identity{
		ID:        uuid.NewString(),
		Login:     login,
		Hash:      hash,
		Confirmed: !b.requireConfirmation,
		CreatedAt: b.now().UTC(),
	}
	b.identities[login] = ident
	if err := b.saveJSON(ctx, keyIdentities, b.identities); err != nil {
		delete(b.identities, login)
		b.mu.Unlock()
		return backend.AuthResult{}, err
	}

	if !ident.Confirmed {
		b.mu.Unlock()
		return backend.AuthResult{User: ident.user()}, nil
	}

	session, err := b.openSession(ctx, ident)
	b.mu.Unlock()
	if err != nil {
		return backend.AuthResult{}, err
	}

	result := backend.AuthResult{User: ident.user(), Session: &session}
	b.observers.Emit(backend.SessionEvent{Type: backend.SessionEventSignedIn, User: result.User, Session: result.Session})
	return result, nil
}

// Confirm marks a pending identity as confirmed.
func (b *Backend) Confirm(ctx context.Context, login string) error {
	login = normalizeLogin(login)

	b.mu.Lock()
	defer b.mu.Unlock()

	ident, ok := b.identities[login]
	if !ok {
		return backend.ErrNotFound
	}
	ident.Confirmed = true
	b.identities[login] = ident
	return b.saveJSON(ctx, keyIdentities, b.identities)
}

// ProvisionProfile creates the role-less profile of the session's user. An
// existing profile is returned unchanged.
func (b *Backend) ProvisionProfile(ctx context.Context, session backend.AuthSession, params backend.ProvisionParams) (backend.Row, error) {
	b.mu.Lock()
	current, ok := b.validSession(session.AccessToken)
	b.mu.Unlock()
	if !ok {
		return nil, backend.ErrInvalidSession
	}

	existing, err := b.Select(ctx, backend.TableProfiles, backend.Query{
		Filters: []backend.Filter{{Column: "id", Value: current.UserID}},
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	return b.Insert(ctx, backend.TableProfiles, backend.Row{
		"id":   current.UserID,
		"cpr":  params.CPR,
		"name": params.Name,
		"role": nil,
	})
}

func (b *Backend) SignOut(ctx context.Context, session backend.AuthSession) error {
	b.mu.Lock()
	current, ok := b.sessions[session.AccessToken]
	if !ok {
		b.mu.Unlock()
		return backend.ErrInvalidSession
	}
	delete(b.sessions, session.AccessToken)
	err := b.saveJSON(ctx, keySessions, b.sessions)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.observers.Emit(backend.SessionEvent{Type: backend.SessionEventSignedOut, Session: &current})
	return nil
}

// RevokeUser ends every session of userID, as an administrator or another
// device signing the user out would.
func (b *Backend) RevokeUser(ctx context.Context, userID string) error {
	var revoked []backend.AuthSession

	b.mu.Lock()
	for token, s := range b.sessions {
		if s.UserID == userID {
			revoked = append(revoked, s)
			delete(b.sessions, token)
		}
	}
	err := b.saveJSON(ctx, keySessions, b.sessions)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	for i := range revoked {
		b.observers.Emit(backend.SessionEvent{Type: backend.SessionEventSignedOut, Session: &revoked[i]})
	}
	return nil
}

func (b *Backend) RestoreSession(ctx context.Context, accessToken string) (backend.AuthResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.validSession(accessToken)
	if !ok {
		return backend.AuthResult{}, backend.ErrInvalidSession
	}
	for _, ident := range b.identities {
		if ident.ID == session.UserID {
			return backend.AuthResult{User: ident.user(), Session: &session}, nil
		}
	}
	return backend.AuthResult{}, backend.ErrInvalidSession
}

// openSession must be called with b.mu held.
func (b *Backend) openSession(ctx context.Context, ident identity) (backend.AuthSession, error) {
	session := backend.AuthSession{
		AccessToken: uuid.NewString(),
		UserID:      ident.ID,
		ExpiresAt:   b.now().Add(b.sessionTTL).UTC(),
	}
	b.sessions[session.AccessToken] = session
	if err := b.saveJSON(ctx, keySessions, b.sessions); err != nil {
		delete(b.sessions, session.AccessToken)
		return backend.AuthSession{}, err
	}
	return session, nil
}

// validSession must be called with b.mu held.
func (b *Backend) validSession(token string) (backend.AuthSession, bool) {
	session, ok := b.sessions[token]
	if !ok || !b.now().Before(session.ExpiresAt) {
		return backend.AuthSession{}, false
	}
	return session, true
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
