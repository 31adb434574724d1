// Package backend declares the contracts of the external authenticated data
// service: identity, record store and attachment store.
package backend

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotConfigured means no backend is reachable; callers fail fast.
	ErrNotConfigured = errors.New("backend is not configured")

	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrAlreadyRegistered  = errors.New("user already registered")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrNotFound           = errors.New("not found")
)

const (
	TableProfiles = "profiles"
	TableRecords  = "wayleave_records"
	TableAuditLog = "audit_log"
)

type AuthUser struct {
	ID        string
	Login     string
	CreatedAt time.Time
}

type AuthSession struct {
	AccessToken string
	UserID      string
	ExpiresAt   time.Time
}

// AuthResult mirrors what the identity service returns. Either field may be
// nil without an error: a user without a session means confirmation is
// pending, and neither means the outcome is ambiguous.
type AuthResult struct {
	User    *AuthUser
	Session *AuthSession
}

type SessionEventType string

const (
	SessionEventSignedIn  SessionEventType = "SIGNED_IN"
	SessionEventSignedOut SessionEventType = "SIGNED_OUT"
	SessionEventRestored  SessionEventType = "INITIAL_SESSION"
)

type SessionEvent struct {
	Type    SessionEventType
	User    *AuthUser
	Session *AuthSession
}

type ProvisionParams struct {
	CPR  string
	Name string
}

// Identity is the remote identity service.
type Identity interface {
	SignIn(ctx context.Context, login, secret string) (AuthResult, error)
	SignUp(ctx context.Context, login, secret string) (AuthResult, error)
	// ProvisionProfile creates the profile row for the session's user through
	// a privileged server-side path; the new profile has no role.
	ProvisionProfile(ctx context.Context, session AuthSession, params ProvisionParams) (Row, error)
	SignOut(ctx context.Context, session AuthSession) error
	// RestoreSession validates a previously issued access token.
	RestoreSession(ctx context.Context, accessToken string) (AuthResult, error)
	// OnSessionChange registers handler for background auth events and
	// returns a function that removes it.
	OnSessionChange(handler func(SessionEvent)) func()
}

// Row is one record-store row keyed by column name.
type Row map[string]any

type Filter struct {
	Column string
	Value  any
}

type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
}

// DataStore is the remote record store. Update and Delete return ErrNotFound
// when no row has the given id.
type DataStore interface {
	Select(ctx context.Context, table string, query Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table, id string, patch Row) (Row, error)
	Delete(ctx context.Context, table, id string) error
}

// AttachmentStore is the remote file bucket.
type AttachmentStore interface {
	Upload(ctx context.Context, path string, content io.Reader, contentType string) error
	PublicURI(path string) string
	// PathOf inverts PublicURI. It reports false for foreign URIs.
	PathOf(uri string) (string, bool)
	// Remove deletes every path, continuing past individual failures.
	Remove(ctx context.Context, paths []string) error
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", "..", "_", ":", "_", "*", "_",
	"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFilename strips path separators and characters that are unsafe in
// object keys.
func SanitizeFilename(filename string) string {
	return filenameReplacer.Replace(filename)
}

// AttachmentPath is the storage path of an attachment of a record. Client
// generated record ids make this path stable before the first save.
func AttachmentPath(recordID, filename string) string {
	return "records/" + SanitizeFilename(recordID) + "/" + SanitizeFilename(filename)
}
