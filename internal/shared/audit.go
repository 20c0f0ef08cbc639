package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions written by the access-control services.
const (
	AuditRoleCreated         = "role.created"
	AuditRoleUpdated         = "role.updated"
	AuditRoleEnabled         = "role.enabled"
	AuditRoleDisabled        = "role.disabled"
	AuditRoleDeleted         = "role.deleted"
	AuditSystemRolesRetired  = "role.system_retired"
	AuditUserPermissionsSet  = "user.permissions_set"
	AuditUserRoleAssigned    = "user.role_assigned"
	AuditUserEnabled         = "user.enabled"
	AuditUserDisabled        = "user.disabled"
	AuditUserProfileUpdated  = "user.profile_updated"
	AuditUserDeleted         = "user.deleted"
	AuditLoginAccessUnlocked = "login.unlocked"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

func (log AuditLog) validate() error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// NopAudit discards audit entries.
type NopAudit struct{}

// Record implements AuditRecorder.
func (NopAudit) Record(context.Context, AuditLog) error { return nil }

var _ AuditRecorder = (*AuditLogger)(nil)
