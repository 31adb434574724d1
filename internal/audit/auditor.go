package audit

import (
	"context"
	"fmt"
	"log/slog"

	"wayleave/internal/backend"
)

type AuditLogEventType string

const (
	AuditLogEventTypeUserLogin      AuditLogEventType = "user.login"
	AuditLogEventTypeUserLogout     AuditLogEventType = "user.logout"
	AuditLogEventTypeUserProvision  AuditLogEventType = "user.provision"
	AuditLogEventTypeUserRoleChange AuditLogEventType = "user.role_change"
	AuditLogEventTypeRecordCreate   AuditLogEventType = "record.create"
	AuditLogEventTypeRecordUpdate   AuditLogEventType = "record.update"
	AuditLogEventTypeRecordDelete   AuditLogEventType = "record.delete"
)

// Auditor appends events to the audit_log table. A nil *Auditor discards
// every event.
type Auditor struct {
	logger *slog.Logger
	store  backend.DataStore
}

func NewAuditor(logger *slog.Logger, store backend.DataStore) *Auditor {
	return &Auditor{logger: logger, store: store}
}

type LogEventParam struct {
	OwnerID string
	Type    AuditLogEventType
	Data    map[string]any
}

func (a *Auditor) LogEvent(ctx context.Context, params LogEventParam) error {
	if a == nil || a.store == nil {
		return nil
	}

	data := params.Data
	if data == nil {
		data = map[string]any{}
	}

	if _, err := a.store.Insert(ctx, backend.TableAuditLog, backend.Row{
		"owner_id":   params.OwnerID,
		"event_type": string(params.Type),
		"data":       data,
	}); err != nil {
		return fmt.Errorf("failed to create audit log event: %w", err)
	}
	return nil
}

// Record is LogEvent for callers that must not fail because auditing did.
func (a *Auditor) Record(ctx context.Context, params LogEventParam) {
	if err := a.LogEvent(ctx, params); err != nil {
		a.logger.Warn("Failed to record audit event", "type", params.Type, "owner_id", params.OwnerID, "error", err)
	}
}
