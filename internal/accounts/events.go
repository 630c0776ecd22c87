package accounts

import (
	"context"

	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

// Account lifecycle events reported to the EventRecorder.
const (
	EventRegistered        = "registered"
	EventActivationSent    = "activation_sent"
	EventEmailConfirmed    = "email_confirmed"
	EventActivationInvalid = "activation_invalid"
	EventLogin             = "login"
	EventLoginFailed       = "login_failed"
	EventPasswordChanged   = "password_changed"
	EventResetRequested    = "password_reset_requested"
	EventResetCompleted    = "password_reset_completed"
)

// EventRecorder counts account lifecycle events.
type EventRecorder interface {
	RecordAccountEvent(event string)
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type noopEvents struct{}

func (noopEvents) RecordAccountEvent(string) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, shared.AuditLog) error { return nil }
