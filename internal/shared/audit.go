package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditAction names an account lifecycle change written to audit_logs.
type AuditAction string

const (
	AuditRegistered      AuditAction = "registered"
	AuditEmailConfirmed  AuditAction = "email_confirmed"
	AuditPasswordChanged AuditAction = "password_changed"
	AuditPasswordReset   AuditAction = "password_reset"
)

// Valid reports whether the action is one the trail accepts.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditRegistered, AuditEmailConfirmed, AuditPasswordChanged, AuditPasswordReset:
		return true
	}
	return false
}

// AuditEntityAccount is the entity column for account rows.
const AuditEntityAccount = "account"

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   AuditAction
	Entity   string
	EntityID string
	Meta     map[string]any
	// At defaults to the logger's clock when zero.
	At time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db  execer
	now func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{db: pool, now: time.Now}
}

const insertAuditSQL = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if !log.Action.Valid() {
		return fmt.Errorf("audit log: unknown action %q", log.Action)
	}
	if log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires entity/entity_id")
	}
	var meta []byte
	if len(log.Meta) > 0 {
		raw, err := json.Marshal(log.Meta)
		if err != nil {
			return fmt.Errorf("audit log: encode meta: %w", err)
		}
		meta = raw
	}
	at := log.At
	if at.IsZero() {
		at = l.now()
	}
	if _, err := l.db.Exec(ctx, insertAuditSQL, log.ActorID, string(log.Action), log.Entity, log.EntityID, meta, at.UTC()); err != nil {
		return fmt.Errorf("audit log: insert %s: %w", log.Action, err)
	}
	return nil
}
