package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypePurgeSessions removes expired login session records.
	TaskTypePurgeSessions = "sessions:purge"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task. Delivery is retried with backoff
// by the worker; the message is dropped after the last attempt.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(8), asynq.Timeout(time.Minute)), nil
}

// PurgeSessionsPayload carries the grace period applied past expiry.
type PurgeSessionsPayload struct {
	GraceSeconds int64 `json:"grace_seconds"`
}

// NewPurgeSessionsTask constructs the periodic cleanup task.
func NewPurgeSessionsTask(grace time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PurgeSessionsPayload{GraceSeconds: int64(grace / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePurgeSessions, data), nil
}
