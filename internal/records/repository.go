// Package records keeps the local cache of wayleave records consistent with
// the remote store.
package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"wayleave/internal/audit"
	"wayleave/internal/backend"
	"wayleave/internal/model"
	"wayleave/internal/monitoring"
	"wayleave/internal/notifications"
	"wayleave/internal/state"
	"wayleave/internal/util"
	"wayleave/internal/validator"

	"github.com/google/uuid"
)

var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrRecordNotFound   = errors.New("record not found")
)

const (
	MsgNotConfigured          = "The application is not connected to a backend."
	MsgNotAuthenticated       = "You must be signed in to do that."
	MsgRecordNotFound         = "Record not found."
	MsgAttachmentsNotRemoved  = "Some attachments could not be removed from storage."
	MsgAttachmentsUnavailable = "Attachments are not available."
)

// SessionSource exposes the signed-in user to the repository.
type SessionSource interface {
	Current() util.Optional[model.Session]
}

type Repository struct {
	logger    *slog.Logger
	data      backend.DataStore
	files     backend.AttachmentStore
	bus       *notifications.Bus
	sessions  SessionSource
	validator *validator.Validator
	telemetry monitoring.Telemetry
	auditor   *audit.Auditor
	now       func() time.Time

	records *state.Cell[[]model.Record]
	loading *state.Cell[bool]
}

type Option func(*Repository)

func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

func WithTelemetry(t monitoring.Telemetry) Option {
	return func(r *Repository) {
		if t != nil {
			r.telemetry = t
		}
	}
}

func WithAuditor(a *audit.Auditor) Option {
	return func(r *Repository) { r.auditor = a }
}

// NewRepository creates an empty repository. A nil data store leaves it
// unconfigured and every operation fails without a network call.
func NewRepository(logger *slog.Logger, data backend.DataStore, files backend.AttachmentStore, bus *notifications.Bus, sessions SessionSource, opts ...Option) *Repository {
	r := &Repository{
		logger:    logger,
		data:      data,
		files:     files,
		bus:       bus,
		sessions:  sessions,
		validator: validator.New(),
		telemetry: monitoring.Disabled(),
		now:       time.Now,
		records:   state.NewCell([]model.Record{}),
		loading:   state.NewCell(false),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Records returns the cached records, newest first.
func (r *Repository) Records() []model.Record {
	return cloneRecords(r.records.Get())
}

func (r *Repository) Loading() bool {
	return r.loading.Get()
}

func (r *Repository) Subscribe(fn func([]model.Record)) func() {
	return r.records.Subscribe(func(records []model.Record) { fn(cloneRecords(records)) })
}

func (r *Repository) SubscribeLoading(fn func(bool)) func() {
	return r.loading.Subscribe(fn)
}

// Get returns the cached record with id.
func (r *Repository) Get(id string) (model.Record, bool) {
	for _, rec := range r.records.Get() {
		if rec.ID == id {
			return rec.Clone(), true
		}
	}
	return model.Record{}, false
}

// Load replaces the cache with every record the store lets the user see.
// On failure the cache is left as it was and an error toast is shown.
func (r *Repository) Load(ctx context.Context) error {
	if r.data == nil {
		return r.fail(backend.ErrNotConfigured, MsgNotConfigured)
	}

	r.loading.Set(true)
	defer r.loading.Set(false)

	if err := r.reload(ctx); err != nil {
		r.logger.Error("Failed to load records", "error", err)
		return r.fail(fmt.Errorf("failed to load records: %w", err), err.Error())
	}
	return nil
}

// Sync is Load for background refreshes: failures are returned but not
// shown to the user.
func (r *Repository) Sync(ctx context.Context) error {
	if r.data == nil {
		return backend.ErrNotConfigured
	}
	if err := r.reload(ctx); err != nil {
		return fmt.Errorf("failed to sync records: %w", err)
	}
	return nil
}

func (r *Repository) reload(ctx context.Context) error {
	rows, err := r.data.Select(ctx, backend.TableRecords, backend.Query{
		OrderBy:    colCreatedAt,
		Descending: true,
	})
	if err != nil {
		return err
	}

	loaded := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := FromRow(row)
		if err != nil {
			r.logger.Warn("Skipping undecodable record row", "id", row[colID], "error", err)
			continue
		}
		loaded = append(loaded, rec)
	}

	r.records.Set(loaded)
	r.logger.Debug("Records loaded", "count", len(loaded))
	return nil
}

// Create stamps draft for its first phase and inserts it. The returned record
// is the store's authoritative row. Every failure has already been reported
// through a toast.
func (r *Repository) Create(ctx context.Context, draft model.Record) (model.Record, error) {
	session, err := r.actor()
	if err != nil {
		return model.Record{}, err
	}
	if err := r.validate(draft); err != nil {
		return model.Record{}, err
	}

	rec := draft.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Time{}
	rec.OwnerUserID = session.UserID
	rec.Status = model.InitialStatus
	rec.ToEddDate = util.None[time.Time]()
	rec.ToMowDate = util.None[time.Time]()
	rec.FromMowDate = util.None[time.Time]()
	rec.ToAreaEngineerDate = util.None[time.Time]()
	rec.EnterPhase(rec.Status, r.now())
	rec.LastUpdatedBy = session.Actor()

	row, err := r.data.Insert(ctx, backend.TableRecords, ToRow(rec))
	r.telemetry.RecordRecordMutation(ctx, "create", err == nil)
	if err != nil {
		r.logger.Error("Failed to create record", "id", rec.ID, "error", err)
		return model.Record{}, r.fail(fmt.Errorf("failed to create record: %w", err), err.Error())
	}

	created := r.authoritative(row, rec)
	r.records.Update(func(records []model.Record) []model.Record {
		return append([]model.Record{created}, records...)
	})

	r.bus.Add(ctx, fmt.Sprintf("New Wayleave %s created by %s.", created.WayleaveNumber, session.DisplayName))
	r.bus.Success("Record created successfully!")
	r.auditor.Record(ctx, audit.LogEventParam{
		OwnerID: session.UserID,
		Type:    audit.AuditLogEventTypeRecordCreate,
		Data:    map[string]any{"record_id": created.ID, "wayleave_number": created.WayleaveNumber},
	})
	return created.Clone(), nil
}

// Update sends rec to the store. When its status differs from the cached
// record, the entry timestamp of the new phase is stamped unless already set;
// no other phase timestamp is ever changed.
func (r *Repository) Update(ctx context.Context, rec model.Record) (model.Record, error) {
	session, err := r.actor()
	if err != nil {
		return model.Record{}, err
	}

	original, ok := r.Get(rec.ID)
	if !ok {
		return model.Record{}, r.fail(ErrRecordNotFound, MsgRecordNotFound)
	}
	if err := r.validate(rec); err != nil {
		return model.Record{}, err
	}
	if rec.Status.Phase() < 0 {
		return model.Record{}, r.fail(fmt.Errorf("invalid status %q", rec.Status), fmt.Sprintf("Unknown status %q.", rec.Status))
	}

	next := rec.Clone()
	next.ToEddDate = original.ToEddDate
	next.ToMowDate = original.ToMowDate
	next.FromMowDate = original.FromMowDate
	next.ToAreaEngineerDate = original.ToAreaEngineerDate
	if next.Status != original.Status {
		next.EnterPhase(next.Status, r.now())
	}
	next.LastUpdatedBy = session.Actor()

	row, err := r.data.Update(ctx, backend.TableRecords, next.ID, toPatch(next))
	r.telemetry.RecordRecordMutation(ctx, "update", err == nil)
	if err != nil {
		r.logger.Error("Failed to update record", "id", next.ID, "error", err)
		return model.Record{}, r.fail(fmt.Errorf("failed to update record: %w", err), err.Error())
	}

	updated := r.authoritative(row, next)
	r.records.Update(func(records []model.Record) []model.Record {
		out := slices.Clone(records)
		for i := range out {
			if out[i].ID == updated.ID {
				out[i] = updated
			}
		}
		return out
	})

	if updated.Status != original.Status {
		r.bus.Add(ctx, fmt.Sprintf("Status of %s changed to %q by %s.", updated.WayleaveNumber, updated.Status.String(), session.DisplayName))
	}
	r.bus.Success("Record updated successfully!")
	r.auditor.Record(ctx, audit.LogEventParam{
		OwnerID: session.UserID,
		Type:    audit.AuditLogEventTypeRecordUpdate,
		Data: map[string]any{
			"record_id":   updated.ID,
			"from_status": original.Status.String(),
			"to_status":   updated.Status.String(),
		},
	})
	return updated.Clone(), nil
}

// Delete removes the record and, best effort, its attachments. Attachment
// cleanup failures are reported but never stop the row deletion.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if r.data == nil {
		return r.fail(backend.ErrNotConfigured, MsgNotConfigured)
	}

	rec, ok := r.Get(id)
	if !ok {
		return r.fail(ErrRecordNotFound, MsgRecordNotFound)
	}

	if len(rec.Attachments) > 0 {
		r.removeAttachments(ctx, rec)
	}

	err := r.data.Delete(ctx, backend.TableRecords, id)
	r.telemetry.RecordRecordMutation(ctx, "delete", err == nil)
	if err != nil {
		r.logger.Error("Failed to delete record", "id", id, "error", err)
		return r.fail(fmt.Errorf("failed to delete record: %w", err), err.Error())
	}

	r.records.Update(func(records []model.Record) []model.Record {
		return slices.DeleteFunc(slices.Clone(records), func(rec model.Record) bool { return rec.ID == id })
	})
	r.bus.Success("Record deleted successfully!")

	owner := rec.OwnerUserID
	if s, ok := r.sessions.Current().Get(); ok {
		owner = s.UserID
	}
	r.auditor.Record(ctx, audit.LogEventParam{
		OwnerID: owner,
		Type:    audit.AuditLogEventTypeRecordDelete,
		Data:    map[string]any{"record_id": id, "wayleave_number": rec.WayleaveNumber},
	})
	return nil
}

func (r *Repository) removeAttachments(ctx context.Context, rec model.Record) {
	if r.files == nil {
		r.logger.Warn("No attachment store; attachments left in place", "id", rec.ID)
		r.bus.Info(MsgAttachmentsNotRemoved)
		return
	}

	paths := make([]string, 0, len(rec.Attachments))
	for _, uri := range rec.Attachments {
		path, ok := r.files.PathOf(uri)
		if !ok {
			r.logger.Debug("Attachment is not in the store", "uri", uri)
			continue
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return
	}

	if err := r.files.Remove(ctx, paths); err != nil {
		r.logger.Warn("Failed to remove attachments", "id", rec.ID, "error", err)
		r.bus.Info(MsgAttachmentsNotRemoved)
	}
}

// UploadAttachment stores content under the record's attachment path and
// returns its public URI. The caller adds the URI to the record and saves it
// with Update.
func (r *Repository) UploadAttachment(ctx context.Context, recordID, filename string, content io.Reader, contentType string) (string, error) {
	if _, err := r.actor(); err != nil {
		return "", err
	}
	if r.files == nil {
		return "", r.fail(backend.ErrNotConfigured, MsgAttachmentsUnavailable)
	}
	if recordID == "" || filename == "" {
		return "", r.fail(errors.New("record id and filename are required"), "Choose a file to upload.")
	}

	path := backend.AttachmentPath(recordID, filename)
	if err := r.files.Upload(ctx, path, content, contentType); err != nil {
		r.logger.Error("Failed to upload attachment", "record_id", recordID, "path", path, "error", err)
		return "", r.fail(fmt.Errorf("failed to upload attachment: %w", err), err.Error())
	}
	return r.files.PublicURI(path), nil
}

// NewRecordID returns an id callers may assign to a draft before its first
// save so attachments can be uploaded under it.
func NewRecordID() string {
	return uuid.NewString()
}

func (r *Repository) actor() (model.Session, error) {
	if r.data == nil {
		return model.Session{}, r.fail(backend.ErrNotConfigured, MsgNotConfigured)
	}
	if r.sessions == nil {
		return model.Session{}, r.fail(ErrNotAuthenticated, MsgNotAuthenticated)
	}
	session, ok := r.sessions.Current().Get()
	if !ok {
		return model.Session{}, r.fail(ErrNotAuthenticated, MsgNotAuthenticated)
	}
	return session, nil
}

func (r *Repository) validate(rec model.Record) error {
	if err := r.validator.Validate(rec); err != nil {
		return r.fail(err, validator.Message(err))
	}
	return nil
}

// authoritative decodes the store's returned row. A row that cannot be
// decoded falls back to what was sent.
func (r *Repository) authoritative(row backend.Row, sent model.Record) model.Record {
	if row == nil {
		return sent
	}
	rec, err := FromRow(row)
	if err != nil {
		r.logger.Warn("Store returned an undecodable row", "id", sent.ID, "error", err)
		return sent
	}
	return rec
}

func (r *Repository) fail(err error, msg string) error {
	r.bus.Error(msg)
	return err
}

func cloneRecords(records []model.Record) []model.Record {
	out := make([]model.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
